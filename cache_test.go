package discordrb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheAddMemberCreatesRoleEntry(t *testing.T) {
	c := NewCache()
	c.AddServer(&Server{ID: 1, ChannelIDs: map[uint64]struct{}{}, MemberIDs: map[uint64]struct{}{}})

	c.AddMember(1, &User{ID: 42, Username: "ana"}, []uint64{7, 8})

	u, ok := c.User(42)
	require.True(t, ok)
	assert.Equal(t, []uint64{7, 8}, u.Roles[1])

	s, ok := c.Server(1)
	require.True(t, ok)
	_, member := s.MemberIDs[42]
	assert.True(t, member)
}

func TestCacheRemoveServerStripsRoleEntries(t *testing.T) {
	c := NewCache()
	c.AddServer(&Server{ID: 1, ChannelIDs: map[uint64]struct{}{}, MemberIDs: map[uint64]struct{}{}})
	c.AddMember(1, &User{ID: 42}, []uint64{7})

	c.RemoveServer(1)

	u, ok := c.User(42)
	require.True(t, ok)
	_, hasRoleEntry := u.Roles[1]
	assert.False(t, hasRoleEntry)

	_, ok = c.Server(1)
	assert.False(t, ok)
}

func TestCacheDenyAndUpsertAreDisjoint(t *testing.T) {
	c := NewCache()
	c.AddServer(&Server{ID: 1, ChannelIDs: map[uint64]struct{}{}})
	c.UpsertChannel(&Channel{ID: 10, ServerID: 1, Type: ChannelText})

	c.Deny(10)
	assert.True(t, c.IsDenied(10))
	_, ok := c.Channel(10)
	assert.False(t, ok)

	c.UpsertChannel(&Channel{ID: 10, ServerID: 1, Type: ChannelText})
	assert.False(t, c.IsDenied(10))
	_, ok = c.Channel(10)
	assert.True(t, ok)
}

func TestCacheBotUserIdentity(t *testing.T) {
	c := NewCache()
	bot := &User{ID: 99, Username: "self"}
	c.SetBotUser(bot)

	got, ok := c.User(99)
	require.True(t, ok)
	assert.Same(t, bot, got)
	assert.Same(t, bot, c.BotUser())
}

func TestCacheRemoveRoleStripsFromMembers(t *testing.T) {
	c := NewCache()
	c.AddServer(&Server{ID: 1, MemberIDs: map[uint64]struct{}{}})
	c.UpsertRole(1, &Role{ID: 5, Name: "mod"})
	c.AddMember(1, &User{ID: 2}, []uint64{5, 6})

	c.RemoveRole(1, 5)

	s, _ := c.Server(1)
	assert.Nil(t, s.RoleByID(5))

	u, _ := c.User(2)
	assert.Equal(t, []uint64{6}, u.Roles[1])
}

func TestCacheSetPresenceTracksPreviousGame(t *testing.T) {
	c := NewCache()
	c.AddServer(&Server{ID: 1, MemberIDs: map[uint64]struct{}{}})

	prev, created := c.SetPresence(1, 2, "sam", StatusOnline, "chess")
	assert.True(t, created)
	assert.Equal(t, "", prev)

	prev, created = c.SetPresence(1, 2, "sam", StatusOnline, "go")
	assert.False(t, created)
	assert.Equal(t, "chess", prev)
}

func TestCacheSetVoiceStateTeardown(t *testing.T) {
	c := NewCache()
	c.AddServer(&Server{ID: 1})
	c.SetVoiceState(1, 2, &VoiceState{ChannelID: 10})

	s, _ := c.Server(1)
	require.NotNil(t, s.VoiceStates[2])

	c.SetVoiceState(1, 2, nil)
	assert.Nil(t, s.VoiceStates[2])
}
