package discordrb

import "sync"

// Cache is the process-wide mutable map of servers, channels, users,
// roles, private channels, and the permission denylist. Reads by id are
// O(1); every mutation keeps the §3 invariants (every channel a server
// references is present in the channel map, every member has a role-map
// entry for that server, the denylist is disjoint from the channel map,
// a server's role list is the sole owner of its *Role values).
//
// The dispatcher is the only writer besides the facade's REST-fallback
// channel lookup, which takes the same write lock as any dispatcher
// mutation (§5). Voice-connect's pending state is not stored here; it
// lives in voiceCoordinator under that type's own mutex.
type Cache struct {
	mu              sync.RWMutex
	servers         map[uint64]*Server
	channels        map[uint64]*Channel
	privateChannels map[uint64]*Channel // keyed by recipient id
	users           map[uint64]*User
	denylist        map[uint64]struct{}
	botUser         *User
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		servers:         make(map[uint64]*Server),
		channels:        make(map[uint64]*Channel),
		privateChannels: make(map[uint64]*Channel),
		users:           make(map[uint64]*User),
		denylist:        make(map[uint64]struct{}),
	}
}

// Reset clears every map. Called on every successful READY before the
// payload is rebuilt.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = make(map[uint64]*Server)
	c.channels = make(map[uint64]*Channel)
	c.privateChannels = make(map[uint64]*Channel)
	c.users = make(map[uint64]*User)
	c.denylist = make(map[uint64]struct{})
	c.botUser = nil
}

// SetBotUser installs the cache-identity object for the bot's own user.
// The installed *User is the same object that User lookups of the bot's
// id will return (invariant 4: same object identity).
func (c *Cache) SetBotUser(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = u
	c.botUser = u
}

// BotUser returns the bot's own cached user, or nil before READY.
func (c *Cache) BotUser() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botUser
}

// Server returns the cached server by id.
func (c *Cache) Server(id uint64) (*Server, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.servers[id]
	return s, ok
}

// Channel returns the cached channel by id (server or private).
func (c *Cache) Channel(id uint64) (*Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[id]
	return ch, ok
}

// PrivateChannel returns the private channel for a recipient id.
func (c *Cache) PrivateChannel(recipientID uint64) (*Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.privateChannels[recipientID]
	return ch, ok
}

// User returns the cached user by id.
func (c *Cache) User(id uint64) (*User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// IsDenied reports whether id is on the permission denylist.
func (c *Cache) IsDenied(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.denylist[id]
	return ok
}

// Deny adds id to the permission denylist. The facade calls this on a
// NoPermission REST failure; the denylist and the channel map are kept
// disjoint (invariant 3), so adding to one never leaves an id in both.
func (c *Cache) Deny(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, id)
	c.denylist[id] = struct{}{}
}

// AddServer inserts or replaces a server by id. Channel and member
// indexing happens separately, via UpsertChannel/AddMember calls from
// the dispatcher's guild-ingest sequence.
func (c *Cache) AddServer(s *Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[s.ID] = s
}

// UpdateServer runs fn against server id's live *Server under the write
// lock, so field-level edits (name, icon, emoji/sticker lists, etc.)
// serialize with every other cache mutation instead of racing handler
// tasks that read the same pointer (§5).
func (c *Cache) UpdateServer(id uint64, fn func(*Server)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[id]; ok {
		fn(s)
	}
}

// RemoveServer deletes a server and strips its role-map entries from
// every user (testable property: after GUILD_DELETE(g), no user has a
// role map entry keyed by g).
func (c *Cache) RemoveServer(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.users {
		delete(u.Roles, id)
	}
	delete(c.servers, id)
}

// UpsertChannel inserts or replaces a channel, indexing it into its
// owning server's channel set when ServerID is non-zero and the channel
// is not private.
func (c *Cache) UpsertChannel(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch.ID] = ch
	delete(c.denylist, ch.ID)
	if ch.Type == ChannelPrivate {
		c.privateChannels[ch.RecipientID] = ch
		return
	}
	if s, ok := c.servers[ch.ServerID]; ok {
		if s.ChannelIDs == nil {
			s.ChannelIDs = make(map[uint64]struct{})
		}
		s.ChannelIDs[ch.ID] = struct{}{}
	}
}

// RemoveChannel deletes a channel from the cache and its owning
// server's channel set.
func (c *Cache) RemoveChannel(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return
	}
	if s, sok := c.servers[ch.ServerID]; sok {
		delete(s.ChannelIDs, id)
	}
	if pc, pok := c.privateChannels[ch.RecipientID]; pok && pc.ID == id {
		delete(c.privateChannels, ch.RecipientID)
	}
	delete(c.channels, id)
}

// AddMember adds user to server's member set, lazily inserting the user
// into the cache if unknown, and ensures the user has a role-map entry
// for the server (invariant 2).
func (c *Cache) AddMember(serverID uint64, u *User, roleIDs []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addMemberLocked(serverID, u, roleIDs)
}

func (c *Cache) addMemberLocked(serverID uint64, u *User, roleIDs []uint64) {
	existing, ok := c.users[u.ID]
	if !ok {
		existing = u
		c.users[u.ID] = existing
	} else {
		existing.Username = u.Username
		existing.Discriminator = u.Discriminator
		existing.Avatar = u.Avatar
		existing.Bot = u.Bot
	}
	if existing.Roles == nil {
		existing.Roles = make(map[uint64][]uint64)
	}
	existing.Roles[serverID] = roleIDs

	if s, sok := c.servers[serverID]; sok {
		if s.MemberIDs == nil {
			s.MemberIDs = make(map[uint64]struct{})
		}
		s.MemberIDs[existing.ID] = struct{}{}
	}
}

// RemoveMember removes userID from server's member set and clears its
// role-map entry for that server.
func (c *Cache) RemoveMember(serverID, userID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[serverID]; ok {
		delete(s.MemberIDs, userID)
	}
	if u, ok := c.users[userID]; ok {
		delete(u.Roles, serverID)
	}
}

// MergeRoles replaces a member's role set for a server.
func (c *Cache) MergeRoles(serverID, userID uint64, roleIDs []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		return
	}
	if u.Roles == nil {
		u.Roles = make(map[uint64][]uint64)
	}
	u.Roles[serverID] = roleIDs
}

// UpsertRole inserts or replaces a role on a server.
func (c *Cache) UpsertRole(serverID uint64, role *Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[serverID]
	if !ok {
		return
	}
	for i, r := range s.Roles {
		if r.ID == role.ID {
			s.Roles[i] = role
			return
		}
	}
	s.Roles = append(s.Roles, role)
}

// RemoveRole deletes a role from a server and from every member's role
// set on that server.
func (c *Cache) RemoveRole(serverID, roleID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[serverID]
	if ok {
		for i, r := range s.Roles {
			if r.ID == roleID {
				s.Roles = append(s.Roles[:i], s.Roles[i+1:]...)
				break
			}
		}
	}
	for _, u := range c.users {
		roles, uok := u.Roles[serverID]
		if !uok {
			continue
		}
		for i, id := range roles {
			if id == roleID {
				u.Roles[serverID] = append(roles[:i], roles[i+1:]...)
				break
			}
		}
	}
}

// SetPresence updates a user's status/game, lazily creating the user
// and adding them to the server's member set if they newly became
// non-offline. Returns the previous game name, for change detection.
func (c *Cache) SetPresence(serverID, userID uint64, username string, status Status, game string) (previousGame string, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		u = &User{ID: userID, Username: username, Roles: make(map[uint64][]uint64)}
		c.users[userID] = u
		created = true
	} else if username != "" {
		u.Username = username
	}
	previousGame = u.Game
	u.Status = status
	u.Game = game

	if status != StatusOffline {
		if s, sok := c.servers[serverID]; sok {
			if s.MemberIDs == nil {
				s.MemberIDs = make(map[uint64]struct{})
			}
			s.MemberIDs[userID] = struct{}{}
			if u.Roles == nil {
				u.Roles = make(map[uint64][]uint64)
			}
			if _, has := u.Roles[serverID]; !has {
				u.Roles[serverID] = []uint64{}
			}
		}
	}
	return previousGame, created
}

// SetVoiceState updates a user's voice-state on a server, moving them
// into or out of a channel. A nil vs tears down the voice state.
func (c *Cache) SetVoiceState(serverID, userID uint64, vs *VoiceState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[serverID]
	if !ok {
		return
	}
	if s.VoiceStates == nil {
		s.VoiceStates = make(map[uint64]*VoiceState)
	}
	if vs == nil {
		delete(s.VoiceStates, userID)
		return
	}
	s.VoiceStates[userID] = vs
}
