package discordrb

import "time"

// ChannelType enumerates the channel kinds the cache tracks.
type ChannelType int

const (
	ChannelText ChannelType = iota
	ChannelVoice
	ChannelPrivate
)

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
	StatusDND     Status = "dnd"
)

// Role is a server role: name, color, hoist flag, position, and a
// 53-bit permission bitmask.
type Role struct {
	ID          uint64
	Name        string
	Color       int
	Hoist       bool
	Position    int
	Permissions uint64
}

// VoiceState is a member's voice presence within a server.
type VoiceState struct {
	ChannelID uint64
	SessionID string
	Mute      bool
	Deaf      bool
	SelfMute  bool
	SelfDeaf  bool
}

// User is a Discord account, bot or human. Roles is server id -> held
// role ids on that server, per the cyclic-reference Design Note: roles
// are referenced by id, not by pointer into the server's role slice.
type User struct {
	ID            uint64
	Username      string
	Discriminator string
	Avatar        string
	Bot           bool
	PublicFlags   uint64
	Locale        string
	Status        Status
	Game          string
	Roles         map[uint64][]uint64
}

// Channel is a text, voice, or private channel. ServerID is zero for
// private channels; RecipientID is zero for non-private ones.
type Channel struct {
	ID               uint64
	Name             string
	Type             ChannelType
	ServerID         uint64
	Position         int
	Topic            string
	NSFW             bool
	RateLimitPerUser int
	LastMessageID    uint64
	RecipientID      uint64
}

// Server (guild) aggregates channels, members, and voice states by id.
type Server struct {
	ID          uint64
	Name        string
	Icon        string
	Region      string
	OwnerID     uint64
	Large       bool
	MemberCount int
	Roles       []*Role
	Emojis      []string
	Stickers    []string
	ChannelIDs  map[uint64]struct{}
	MemberIDs   map[uint64]struct{}
	VoiceStates map[uint64]*VoiceState
}

// RoleByID returns the role with the given id, or nil.
func (s *Server) RoleByID(id uint64) *Role {
	for _, r := range s.Roles {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// MessageEmbed is a simplified rich-embed attached to a message.
type MessageEmbed struct {
	Title       string
	Description string
	URL         string
}

// Attachment is a file uploaded alongside a message.
type Attachment struct {
	ID  uint64
	URL string
}

// Message is an inbound or outbound chat message. Content is capped at
// 2000 characters by the protocol; the client does not enforce this
// itself, since truncation is a REST-layer concern.
type Message struct {
	ID              uint64
	ChannelID       uint64
	AuthorID        uint64
	Content         string
	Timestamp       time.Time
	EditedTimestamp *time.Time
	MentionIDs      []uint64
	Attachments     []Attachment
	Embeds          []MessageEmbed
	TTS             bool
}

// InviteServerSummary and InviteChannelSummary are the trimmed
// server/channel views a REST invite-resolution response carries.
type InviteServerSummary struct {
	ID   uint64
	Name string
}

type InviteChannelSummary struct {
	ID   uint64
	Name string
}

// Invite is a resolved invite code.
type Invite struct {
	Code      string
	Server    InviteServerSummary
	Channel   InviteChannelSummary
	InviterID uint64
	Uses      int
	MaxUses   int
	MaxAge    int
	Temporary bool
}

// Profile is the bot's own identity plus the credentials used to
// mutate it (display name, avatar) via REST.
type Profile struct {
	User  *User
	Email string
}

// Await is a one-shot keyed subscription matched against the next
// event satisfying its filters; see Bus.AddAwait.
type Await struct {
	Key      string
	Kind     EventKind
	Attrs    map[string]any
	Payload  any
	Durable  bool
	matchedC chan Event
}

// Wait blocks until the await fires or done is closed, returning the
// matching event; ok is false when done was closed first.
func (a *Await) Wait(done <-chan struct{}) (Event, bool) {
	select {
	case ev := <-a.matchedC:
		return ev, true
	case <-done:
		return Event{}, false
	}
}
