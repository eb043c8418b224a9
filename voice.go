package discordrb

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// VoiceBotConstructor builds the voice RTP/UDP transport once a
// VOICE_SERVER_UPDATE resolves the connect handshake. The voice
// transport itself is out of this core's scope (§1); this is the
// contract the core invokes.
type VoiceBotConstructor func(channel *Channel, sessionID, token, endpoint string, encrypted bool) (any, error)

// voiceCoordinator tracks the single pending (or active) voice session
// and implements the Design Notes "sleep-polling a boolean" replacement:
// a one-shot notification awaited by VoiceConnect and signalled by the
// dispatcher on VOICE_SERVER_UPDATE, instead of a polled boolean.
type voiceCoordinator struct {
	mu          sync.Mutex
	pending     bool
	serverID    uint64
	channel     *Channel
	encrypted   bool
	sessionID   string
	waitC       chan struct{}
	active      any
	constructor VoiceBotConstructor
}

func newVoiceCoordinator(constructor VoiceBotConstructor) *voiceCoordinator {
	return &voiceCoordinator{constructor: constructor}
}

// beginConnect records the pending channel/encrypt flag and returns the
// channel the caller waits on for the handshake to resolve. At most one
// voice session exists: a prior active session is torn down first
// (invariant 6).
func (v *voiceCoordinator) beginConnect(serverID uint64, ch *Channel, encrypted bool) <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = nil
	v.pending = true
	v.serverID = serverID
	v.channel = ch
	v.encrypted = encrypted
	v.sessionID = ""
	v.waitC = make(chan struct{})
	return v.waitC
}

// observeVoiceState records the session id a VOICE_STATE_UPDATE carries
// for the bot's own voice presence, so it is available when
// VOICE_SERVER_UPDATE later resolves. Other members' voice state changes
// during the pending window must not clobber it, so botID gates the
// write alongside the pending server check.
func (v *voiceCoordinator) observeVoiceState(serverID, userID, botID uint64, sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.pending || serverID != v.serverID || userID != botID {
		return
	}
	v.sessionID = sessionID
}

// resolve is invoked by the dispatcher on VOICE_SERVER_UPDATE. It
// constructs the voice bot with exactly the recorded parameters and
// signals beginConnect's waiter.
func (v *voiceCoordinator) resolve(token, endpoint string) {
	v.mu.Lock()
	if !v.pending {
		v.mu.Unlock()
		return
	}
	ch := v.channel
	sessionID := v.sessionID
	encrypted := v.encrypted
	constructor := v.constructor
	waitC := v.waitC
	v.pending = false
	v.mu.Unlock()

	if constructor != nil {
		bot, err := constructor(ch, sessionID, token, endpoint, encrypted)
		if err == nil {
			v.mu.Lock()
			v.active = bot
			v.mu.Unlock()
		}
	}
	close(waitC)
}

// teardown tears down any active or pending voice session.
func (v *voiceCoordinator) teardown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = false
	v.active = nil
	v.channel = nil
}

// wait blocks until resolve fires or ctx is done.
func (v *voiceCoordinator) wait(ctx context.Context, waitC <-chan struct{}) error {
	select {
	case <-waitC:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "voice connect")
	}
}
