package discordrb

import (
	"context"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Client is the consumer-facing surface: connect/run the gateway session,
// look up cached entities with REST fallback, send messages, and manage
// presence/voice. Everything heavier (wire decoding, cache invariants,
// event fan-out) lives behind it in dispatch.go, cache.go, and bus.go.
type Client struct {
	session *session
	cache   *Cache
	bus     *Bus
	rest    RESTClient
	logger  *log.Logger
}

// Options configures New. Identity/Secret follow the login routine in
// §4.6: identity "token" treats Secret as a ready-made bot token and
// skips the cache and REST login entirely.
type Options struct {
	Identity        string
	Secret          string
	BotName         string
	TokenCachePath  string
	Logger          *log.Logger
	ParseSelf       bool
	VoiceConstructor VoiceBotConstructor
}

// New builds a Client but does not connect; call Run to start the
// gateway session.
func New(opts Options) (*Client, error) {
	if opts.Identity == "" {
		return nil, errors.New("identity is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "discordrb: ", log.LstdFlags)
	}
	if opts.TokenCachePath == "" {
		opts.TokenCachePath = "token_cache.json"
	}

	tokenCache, err := NewTokenCache(opts.TokenCachePath, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open token cache")
	}

	cache := NewCache()
	bus := NewBus(logger)

	var restToken string
	if opts.Identity == "token" {
		restToken = opts.Secret
	}
	rest := NewRESTClient(restToken, opts.BotName)

	sess := newSession(opts.Identity, opts.Secret, opts.BotName, rest, tokenCache, cache, bus, logger)
	sess.dispatcher.SetParseSelf(opts.ParseSelf)
	if opts.VoiceConstructor != nil {
		sess.SetVoiceBotConstructor(opts.VoiceConstructor)
	}

	return &Client{session: sess, cache: cache, bus: bus, rest: rest, logger: logger}, nil
}

// Run starts the session manager's connect/identify/heartbeat/reconnect
// loop. If async is false, Run blocks until Stop is called or a fatal
// error (invalid authentication) occurs. If async is true, Run starts
// the loop in the background and returns immediately.
func (c *Client) Run(async bool) error {
	ctx := context.Background()
	if async {
		go func() { _ = c.session.run(ctx) }()
		return nil
	}
	return c.session.run(ctx)
}

// Stop tears down the session. In-flight event handler goroutines are
// orphaned, per §5, rather than waited on.
func (c *Client) Stop() {
	c.session.stop()
	c.session.tokenCache.Close()
}

// Wait blocks until the session loop started by an async Run has exited.
func (c *Client) Wait() { c.session.wait() }

// State reports the session manager's current lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateDisconnecting
)

// State returns the session manager's current lifecycle state.
func (c *Client) State() State { return State(c.session.currentState()) }

// On registers an event handler. See Bus.On.
func (c *Client) On(kind EventKind, predicate func(Event) bool, handler HandlerFunc) RegistrationID {
	return c.bus.On(kind, predicate, handler)
}

// Off removes a previously registered handler.
func (c *Client) Off(id RegistrationID) { c.bus.Off(id) }

// AddAwait registers a one-shot (or durable) subscription. See Bus.AddAwait.
func (c *Client) AddAwait(key string, kind EventKind, attrs map[string]any) *Await {
	return c.bus.AddAwait(key, kind, attrs, nil)
}

// Channel resolves a channel by id, falling back to REST on a cache miss.
// A NoPermission REST failure adds the id to the denylist so future
// lookups fail fast without another round trip.
func (c *Client) Channel(ctx context.Context, id uint64) (*Channel, error) {
	if ch, ok := c.cache.Channel(id); ok {
		return ch, nil
	}
	if c.cache.IsDenied(id) {
		return nil, ErrNoPermission("channel is on the denylist")
	}
	ch, err := c.rest.Channel(ctx, id)
	if err != nil {
		if k, ok := KindOf(err); ok && k == KindNoPermission {
			c.cache.Deny(id)
		}
		return nil, err
	}
	c.cache.UpsertChannel(ch)
	return ch, nil
}

// User resolves a cached user by id.
func (c *Client) User(id uint64) (*User, bool) { return c.cache.User(id) }

// Server resolves a cached server by id.
func (c *Client) Server(id uint64) (*Server, bool) { return c.cache.Server(id) }

// BotUser returns the bot's own cached user, or nil before READY.
func (c *Client) BotUser() *User { return c.cache.BotUser() }

// FindChannel returns every cached channel named name. When serverName is
// non-empty, only channels on a server with that exact name are returned.
func (c *Client) FindChannel(name, serverName string) []*Channel {
	var out []*Channel
	for _, srv := range c.allServers() {
		if !(serverName == "" || srv.Name == serverName) {
			continue
		}
		for chID := range srv.ChannelIDs {
			if ch, ok := c.cache.Channel(chID); ok && ch.Name == name {
				out = append(out, ch)
			}
		}
	}
	return out
}

// FindUser returns every cached user whose username matches name.
func (c *Client) FindUser(name string) []*User {
	var out []*User
	for _, u := range c.allUsers() {
		if u.Username == name {
			out = append(out, u)
		}
	}
	return out
}

func (c *Client) allServers() []*Server {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	out := make([]*Server, 0, len(c.cache.servers))
	for _, s := range c.cache.servers {
		out = append(out, s)
	}
	return out
}

func (c *Client) allUsers() []*User {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	out := make([]*User, 0, len(c.cache.users))
	for _, u := range c.cache.users {
		out = append(out, u)
	}
	return out
}

// SendMessage posts content to channelID via REST.
func (c *Client) SendMessage(ctx context.Context, channelID uint64, content string, tts bool) (*Message, error) {
	return c.rest.SendMessage(ctx, channelID, content, tts)
}

// SendFile posts a message with an attached file to channelID via REST.
func (c *Client) SendFile(ctx context.Context, channelID uint64, filename string, data []byte, content string) (*Message, error) {
	return c.rest.SendFile(ctx, channelID, filename, data, content)
}

// EditMessage edits a previously sent message via REST.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID uint64, content string) (*Message, error) {
	return c.rest.EditMessage(ctx, channelID, messageID, content)
}

// DeleteMessage deletes a message via REST.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID uint64) error {
	return c.rest.DeleteMessage(ctx, channelID, messageID)
}

// GetMessages fetches up to limit recent messages from channelID via REST.
func (c *Client) GetMessages(ctx context.Context, channelID uint64, limit int) ([]*Message, error) {
	return c.rest.GetMessages(ctx, channelID, limit)
}

// Typing sends a typing indicator to channelID via REST.
func (c *Client) Typing(ctx context.Context, channelID uint64) error {
	return c.rest.Typing(ctx, channelID)
}

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// ParseMention extracts the first user mention from text and resolves it
// against the cache.
func (c *Client) ParseMention(text string) (*User, bool) {
	m := mentionPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return nil, false
	}
	return c.cache.User(id)
}

// SetGame updates the bot's presence (op=3).
func (c *Client) SetGame(name string) error { return c.session.setGame(name) }

// VoiceConnect starts a voice connect handshake for ch and blocks until it
// resolves or ctx is done.
func (c *Client) VoiceConnect(ctx context.Context, ch *Channel, encrypted bool) error {
	return c.session.voiceConnect(ctx, ch, encrypted)
}

// VoiceDestroy tears down the active voice session, if any.
func (c *Client) VoiceDestroy() error { return c.session.voiceDestroy() }

// ResolveInvite resolves an invite code via REST, stripping a leading
// discord.gg URL prefix if present.
func (c *Client) ResolveInvite(ctx context.Context, codeOrURL string) (*Invite, error) {
	return c.rest.ResolveInvite(ctx, inviteCode(codeOrURL))
}

// JoinServer accepts an invite via REST.
func (c *Client) JoinServer(ctx context.Context, codeOrURL string) error {
	return c.rest.JoinServer(ctx, inviteCode(codeOrURL))
}

func inviteCode(codeOrURL string) string {
	if i := strings.LastIndex(codeOrURL, "/"); i >= 0 {
		return codeOrURL[i+1:]
	}
	return codeOrURL
}
