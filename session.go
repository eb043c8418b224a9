package discordrb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/avengerx/discordrb/internal/backoff"
)

// clientName is sent as both $browser and $device in IDENTIFY, matching
// the teacher's convention of identifying itself under one constant.
const clientName = "discordrb"

// state is the session manager's state machine (§4.6).
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateAuthenticating
	stateReady
	stateDisconnecting
)

// session owns the gateway socket and drives the connect/identify/
// heartbeat/reconnect lifecycle. It is wrapped by the exported Client
// facade; nothing outside this package touches it directly.
type session struct {
	identity string
	secret   string
	botName  string

	rest       RESTClient
	tokenCache *TokenCache
	cache      *Cache
	bus        *Bus
	dispatcher *Dispatcher
	voice      *voiceCoordinator
	backoff    *backoff.Policy
	limiter    *gatewayRateLimiter
	logger     *log.Logger

	dialer *websocket.Dialer

	mu    sync.Mutex
	conn  *websocket.Conn
	state state
	token string

	heartbeatInterval time.Duration
	heartbeatActive   atomic.Bool

	readyC chan struct{} // (re)made each connect attempt, closed on READY

	stopC     chan struct{}
	stopOnce  sync.Once
	userStop  atomic.Bool
	doneC     chan struct{}
}

func newSession(identity, secret, botName string, rest RESTClient, tokenCache *TokenCache, cache *Cache, bus *Bus, logger *log.Logger) *session {
	s := &session{
		identity:   identity,
		secret:     secret,
		botName:    botName,
		rest:       rest,
		tokenCache: tokenCache,
		cache:      cache,
		bus:        bus,
		backoff:    backoff.New(),
		limiter:    newGatewayRateLimiter(120),
		logger:     logger,
		dialer:     websocket.DefaultDialer,
		stopC:      make(chan struct{}),
		doneC:      make(chan struct{}),
	}
	s.voice = newVoiceCoordinator(nil)
	s.dispatcher = NewDispatcher(cache, bus, s, s.voice, logger)
	s.dispatcher.onReadyHook = s.handleReady
	return s
}

// SetVoiceBotConstructor installs the callback invoked once a voice
// connect handshake resolves.
func (s *session) SetVoiceBotConstructor(c VoiceBotConstructor) {
	s.voice.constructor = c
}

// run drives the full Disconnected -> Connecting -> Authenticating ->
// Ready -> Disconnecting -> Disconnected loop until Stop is called or a
// fatal error occurs. It is the body behind Client.Run.
func (s *session) run(ctx context.Context) error {
	defer close(s.doneC)
	for {
		if s.userStop.Load() {
			return nil
		}

		if err := s.connectAndServe(ctx); err != nil {
			if k, ok := KindOf(err); ok && k == KindInvalidAuthentication {
				return err
			}
			if s.logger != nil {
				s.logger.Printf("session error: %v", err)
			}
		}

		if s.userStop.Load() {
			return nil
		}

		delay := s.backoff.Next()
		select {
		case <-time.After(delay):
		case <-s.stopC:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		token, err := s.login(ctx)
		if err != nil {
			return err
		}
		s.setToken(token)
	}
}

func (s *session) setState(st state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) currentState() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setToken(t string) {
	s.mu.Lock()
	s.token = t
	s.mu.Unlock()
}

// connectAndServe performs one full Connecting -> Ready -> Disconnected
// cycle. A non-nil return means the connection dropped for a reason the
// caller should reconnect for (unless userStop is set).
func (s *session) connectAndServe(ctx context.Context) error {
	s.setState(stateConnecting)

	if s.token == "" {
		token, err := s.login(ctx)
		if err != nil {
			return err
		}
		s.setToken(token)
	}

	gatewayURL, err := s.rest.Gateway(ctx)
	if err != nil {
		return ErrTransport(err)
	}

	header := http.Header{}
	conn, _, err := s.dialer.DialContext(ctx, gatewayURL+"?encoding=json&compress=zlib-stream&v=10", header)
	if err != nil {
		return ErrTransport(err)
	}

	s.mu.Lock()
	s.conn = conn
	s.readyC = make(chan struct{})
	s.mu.Unlock()
	s.limiter.Reset()

	defer s.teardownConn()

	s.setState(stateAuthenticating)
	if err := s.identify(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receiveLoop(gctx, conn) })
	g.Go(func() error { return s.heartbeatLoop(gctx) })

	select {
	case <-s.readyC:
	case <-gctx.Done():
		return g.Wait()
	}

	s.setState(stateReady)
	err = g.Wait()

	s.setState(stateDisconnecting)
	s.heartbeatActive.Store(false)
	s.voice.teardown()
	s.setState(stateDisconnected)
	return err
}

func (s *session) teardownConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
	s.limiter.Close(context.Background())
}

func (s *session) identify(ctx context.Context) error {
	payload := identifyPayload{
		Version: 3,
		Token:   s.token,
		Properties: identifyProperties{
			OS:              runtime.GOOS,
			Browser:         clientName,
			Device:          clientName,
			Referrer:        "",
			ReferringDomain: "",
		},
		LargeThreshold: 100,
	}
	return s.sendFrame(opIdentify, payload)
}

// handleReady is invoked by the dispatcher once a READY dispatch has
// been fully processed into the cache. It starts the heartbeat, resets
// backoff, and unblocks connectAndServe's wait for readiness.
func (s *session) handleReady(heartbeatIntervalMS int64) {
	s.mu.Lock()
	s.heartbeatInterval = time.Duration(heartbeatIntervalMS) * time.Millisecond
	readyC := s.readyC
	s.mu.Unlock()

	s.heartbeatActive.Store(true)
	s.backoff.Reset()

	select {
	case <-readyC:
	default:
		close(readyC)
	}
}

func (s *session) receiveLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return ErrTransport(err)
		}

		if messageType == websocket.BinaryMessage {
			data, err = inflate(data)
			if err != nil {
				return ErrProtocolViolation("zlib inflate: " + err.Error())
			}
		}

		if err := s.dispatcher.Dispatch(data); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (s *session) heartbeatLoop(ctx context.Context) error {
	for !s.heartbeatActive.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.mu.Lock()
	interval := s.heartbeatInterval
	s.mu.Unlock()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.heartbeatActive.Load() {
				return nil
			}
			now := time.Now().UnixMilli()
			if err := s.sendFrame(opHeartbeat, &now); err != nil {
				return ErrTransport(err)
			}
		}
	}
}

// sendFrame implements outbound: it wraps data in the {op,d} envelope
// and writes it through the single serialized outbound path.
func (s *session) sendFrame(op int, data any) error {
	return s.send(context.Background(), struct {
		Op int `json:"op"`
		D  any `json:"d"`
	}{Op: op, D: data})
}

// send serializes every writer (heartbeat, dispatcher-triggered
// request-members, facade-triggered presence/voice frames) through one
// rate-limited, mutex-guarded path, per Design Notes "Socket writes from
// multiple tasks."
func (s *session) send(ctx context.Context, v any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	defer s.limiter.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrTransport(errors.New("no connection"))
	}
	return conn.WriteJSON(v)
}

// stop forcibly terminates the session: the receive/heartbeat tasks are
// cancelled via the closed socket, in-flight handler tasks are orphaned
// per §5.
func (s *session) stop() {
	s.userStop.Store(true)
	s.stopOnce.Do(func() { close(s.stopC) })
	s.teardownConn()
}

func (s *session) wait() {
	<-s.doneC
}

// login implements the §4.6 login routine: the "token" sentinel
// identity bypasses the cache entirely, otherwise a cache hit short-
// circuits REST, and a miss retries REST login up to 100 times with 5s
// sleeps for transient failures.
func (s *session) login(ctx context.Context) (string, error) {
	if s.identity == "token" {
		return s.secret, nil
	}

	if tok, ok := s.tokenCache.Lookup(s.identity, s.secret); ok {
		return tok, nil
	}

	const maxAttempts = 100
	const retryDelay = 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tok, err := s.rest.Login(ctx, s.identity, s.secret)
		if err == nil {
			_ = s.tokenCache.Store(s.identity, s.secret, tok)
			return tok, nil
		}

		lastErr = err
		if !isTransientLoginError(err) {
			return "", ErrInvalidAuthentication(err.Error())
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.stopC:
			return "", errors.New("stopped during login")
		}
	}
	return "", errors.Wrap(lastErr, fmt.Sprintf("login failed after %d attempts", maxAttempts))
}

// isTransientLoginError reports whether err is a DNS resolution
// failure, HTTP 523, or a generic transport error — the cases §4.6
// deems retryable. A 4xx other than 523 is fatal.
func isTransientLoginError(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return true // unknown shape, treat conservatively as transient
	}
	switch kind {
	case KindTransport:
		return true
	case KindHTTPStatus:
		if e, ok := asError(err); ok && e.StatusCode == 523 {
			return true
		}
		return false
	default:
		return false
	}
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// voiceConnect implements §4.6 voice connect: tear down any existing
// voice session, record the pending channel/encrypt flag, send the
// op=4 frame, and wait for VOICE_SERVER_UPDATE to resolve it.
func (s *session) voiceConnect(ctx context.Context, ch *Channel, encrypted bool) error {
	s.voice.teardown()
	waitC := s.voice.beginConnect(ch.ServerID, ch, encrypted)

	guildID := strconv.FormatUint(ch.ServerID, 10)
	channelID := strconv.FormatUint(ch.ID, 10)
	if err := s.sendFrame(opVoiceStateUpdate, voiceStateUpdatePayload{
		GuildID:   &guildID,
		ChannelID: &channelID,
		SelfMute:  false,
		SelfDeaf:  false,
	}); err != nil {
		return err
	}

	return s.voice.wait(ctx, waitC)
}

// voiceDestroy implements §4.6 voice destroy.
func (s *session) voiceDestroy() error {
	s.voice.teardown()
	return s.sendFrame(opVoiceStateUpdate, voiceStateUpdatePayload{
		GuildID:   nil,
		ChannelID: nil,
		SelfMute:  false,
		SelfDeaf:  false,
	})
}

// setGame sends op=3 presence update (§4.7 game=).
func (s *session) setGame(name string) error {
	var game *presenceRef
	if name != "" {
		game = &presenceRef{Name: name}
	}
	return s.sendFrame(opPresenceUpdate, presenceUpdatePayload{Game: game})
}
