package discordrb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoiceCoordinatorResolvesWithExactParameters(t *testing.T) {
	var gotChannel *Channel
	var gotSessionID, gotToken, gotEndpoint string
	var gotEncrypted bool
	v := newVoiceCoordinator(func(channel *Channel, sessionID, token, endpoint string, encrypted bool) (any, error) {
		gotChannel = channel
		gotSessionID = sessionID
		gotToken = token
		gotEndpoint = endpoint
		gotEncrypted = encrypted
		return "voice-bot", nil
	})

	ch := &Channel{ID: 42, ServerID: 7, Type: ChannelVoice}
	waitC := v.beginConnect(7, ch, true)

	v.observeVoiceState(7, 99, 99, "session-abc")
	v.resolve("token-xyz", "endpoint.example")

	err := v.wait(context.Background(), waitC)
	require.NoError(t, err)

	assert.Same(t, ch, gotChannel)
	assert.Equal(t, "session-abc", gotSessionID)
	assert.Equal(t, "token-xyz", gotToken)
	assert.Equal(t, "endpoint.example", gotEndpoint)
	assert.True(t, gotEncrypted)
	assert.Equal(t, "voice-bot", v.active)
}

func TestVoiceCoordinatorIgnoresOtherMembersVoiceState(t *testing.T) {
	var gotSessionID string
	v := newVoiceCoordinator(func(channel *Channel, sessionID, token, endpoint string, encrypted bool) (any, error) {
		gotSessionID = sessionID
		return nil, nil
	})

	ch := &Channel{ID: 1, ServerID: 7}
	const botID = uint64(99)
	waitC := v.beginConnect(7, ch, false)

	// The bot's own session id arrives first.
	v.observeVoiceState(7, botID, botID, "bot-session")
	// A different member in the same guild toggles their voice state while
	// the handshake is still pending; this must not clobber the recorded
	// session id.
	v.observeVoiceState(7, 555, botID, "other-member-session")

	v.resolve("token", "endpoint")
	require.NoError(t, v.wait(context.Background(), waitC))

	assert.Equal(t, "bot-session", gotSessionID)
}

func TestVoiceCoordinatorIgnoresVoiceStateFromOtherServer(t *testing.T) {
	v := newVoiceCoordinator(nil)
	ch := &Channel{ID: 1, ServerID: 7}
	v.beginConnect(7, ch, false)

	v.observeVoiceState(8, 99, 99, "wrong-server-session")

	v.mu.Lock()
	sessionID := v.sessionID
	v.mu.Unlock()
	assert.Empty(t, sessionID)
}

func TestVoiceCoordinatorWaitTimesOutOnContextCancel(t *testing.T) {
	v := newVoiceCoordinator(nil)
	ch := &Channel{ID: 1, ServerID: 7}
	waitC := v.beginConnect(7, ch, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := v.wait(ctx, waitC)
	assert.Error(t, err)
}

func TestVoiceCoordinatorTeardownClearsPendingState(t *testing.T) {
	v := newVoiceCoordinator(nil)
	ch := &Channel{ID: 1, ServerID: 7}
	v.beginConnect(7, ch, false)

	v.teardown()

	v.mu.Lock()
	pending := v.pending
	channel := v.channel
	v.mu.Unlock()
	assert.False(t, pending)
	assert.Nil(t, channel)
}
