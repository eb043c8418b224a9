package discordrb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelRESTClient embeds fakeRESTClient and overrides Channel so
// facade tests can control the REST-fallback path directly.
type channelRESTClient struct {
	fakeRESTClient
	channel *Channel
	err     error
}

func (c *channelRESTClient) Channel(ctx context.Context, id uint64) (*Channel, error) {
	return c.channel, c.err
}

func newTestClient(t *testing.T, rest RESTClient) *Client {
	cache := NewCache()
	bus := NewBus(nil)
	return &Client{cache: cache, bus: bus, rest: rest, logger: nil}
}

func TestClientChannelCacheHitSkipsREST(t *testing.T) {
	rest := &channelRESTClient{err: ErrNotFound("should not be called")}
	c := newTestClient(t, rest)
	c.cache.UpsertChannel(&Channel{ID: 1, Name: "general"})

	ch, err := c.Channel(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "general", ch.Name)
}

func TestClientChannelFallsBackToRESTAndCaches(t *testing.T) {
	rest := &channelRESTClient{channel: &Channel{ID: 2, Name: "fetched"}}
	c := newTestClient(t, rest)

	ch, err := c.Channel(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "fetched", ch.Name)

	cached, ok := c.cache.Channel(2)
	require.True(t, ok)
	assert.Same(t, ch, cached)
}

func TestClientChannelDeniesOnNoPermission(t *testing.T) {
	rest := &channelRESTClient{err: ErrNoPermission("nope")}
	c := newTestClient(t, rest)

	_, err := c.Channel(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, c.cache.IsDenied(3))

	// Second lookup should fail fast without calling REST again.
	rest.err = ErrNotFound("must not be reached")
	_, err = c.Channel(context.Background(), 3)
	require.Error(t, err)
	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNoPermission, k)
}

func TestClientFindChannelFiltersByServerName(t *testing.T) {
	c := newTestClient(t, &fakeRESTClient{})
	c.cache.AddServer(&Server{ID: 1, Name: "Alpha", ChannelIDs: map[uint64]struct{}{}})
	c.cache.AddServer(&Server{ID: 2, Name: "Beta", ChannelIDs: map[uint64]struct{}{}})
	c.cache.UpsertChannel(&Channel{ID: 10, ServerID: 1, Name: "general"})
	c.cache.UpsertChannel(&Channel{ID: 11, ServerID: 2, Name: "general"})

	all := c.FindChannel("general", "")
	assert.Len(t, all, 2)

	onlyAlpha := c.FindChannel("general", "Alpha")
	require.Len(t, onlyAlpha, 1)
	assert.EqualValues(t, 10, onlyAlpha[0].ID)
}

func TestClientParseMention(t *testing.T) {
	c := newTestClient(t, &fakeRESTClient{})
	c.cache.SetBotUser(&User{ID: 42, Username: "bot"})

	u, ok := c.ParseMention("hey <@42> how are you")
	require.True(t, ok)
	assert.Equal(t, "bot", u.Username)

	_, ok = c.ParseMention("no mention here")
	assert.False(t, ok)
}

func TestInviteCodeStripsURLPrefix(t *testing.T) {
	assert.Equal(t, "abc123", inviteCode("https://discord.gg/abc123"))
	assert.Equal(t, "abc123", inviteCode("abc123"))
}
