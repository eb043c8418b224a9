package discordrb

import "encoding/json"

// Op codes the core recognizes. Outbound: heartbeat, identify, presence
// update, voice state update, request guild members. Inbound: only
// dispatch; anything else the server sends is a protocol error (§4.5,
// §6) — this wire model has no separate HELLO handshake, the heartbeat
// interval arrives on the READY dispatch itself.
const (
	opDispatch            = 0
	opHeartbeat           = 1
	opIdentify            = 2
	opPresenceUpdate      = 3
	opVoiceStateUpdate    = 4
	opRequestGuildMembers = 8
)

// frame is the gateway wire envelope: {op, d, t?, s?}. Adapted from the
// teacher's Event struct (structs.go) generalized to carry the full
// envelope rather than a sniper-specific payload split.
type frame struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d,omitempty"`
	Type     string          `json:"t,omitempty"`
	Sequence *int64          `json:"s,omitempty"`
}

type heartbeatFrame struct {
	Op   int    `json:"op"`
	Data *int64 `json:"d"`
}

type identifyProperties struct {
	OS              string `json:"$os"`
	Browser         string `json:"$browser"`
	Device          string `json:"$device"`
	Referrer        string `json:"$referrer"`
	ReferringDomain string `json:"$referring_domain"`
}

type identifyPayload struct {
	Version        int                `json:"v"`
	Token          string             `json:"token"`
	Properties     identifyProperties `json:"properties"`
	LargeThreshold int                `json:"large_threshold"`
}

type identifyFrame struct {
	Op   int             `json:"op"`
	Data identifyPayload `json:"d"`
}

type presenceUpdatePayload struct {
	IdleSince *int64       `json:"idle_since"`
	Game      *presenceRef `json:"game"`
}

type presenceRef struct {
	Name string `json:"name"`
}

type presenceUpdateFrame struct {
	Op   int                    `json:"op"`
	Data presenceUpdatePayload `json:"d"`
}

type voiceStateUpdatePayload struct {
	GuildID   *string `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

type voiceStateUpdateFrame struct {
	Op   int                      `json:"op"`
	Data voiceStateUpdatePayload `json:"d"`
}

type requestGuildMembersPayload struct {
	GuildID []string `json:"guild_id"`
}

type requestGuildMembersFrame struct {
	Op   int                         `json:"op"`
	Data requestGuildMembersPayload `json:"d"`
}

// READY payload shape, trimmed to what the cache and session manager
// need to bootstrap.
type readyPayload struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval"`
	User                struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
		Avatar        string `json:"avatar"`
		Bot           bool   `json:"bot"`
	} `json:"user"`
	SessionID       string          `json:"session_id"`
	Guilds          []guildPayload  `json:"guilds"`
	PrivateChannels []channelPayload `json:"private_channels"`
}

type rolePayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    int    `json:"color"`
	Hoist    bool   `json:"hoist"`
	Position int    `json:"position"`
	Permissions string `json:"permissions"`
}

type memberPayload struct {
	User  struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
		Avatar        string `json:"avatar"`
		Bot           bool   `json:"bot"`
	} `json:"user"`
	Roles []string `json:"roles"`
}

type guildPayload struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Icon        string          `json:"icon"`
	Region      string          `json:"region"`
	OwnerID     string          `json:"owner_id"`
	Large       bool            `json:"large"`
	MemberCount int             `json:"member_count"`
	Roles       []rolePayload   `json:"roles"`
	Channels    []channelPayload `json:"channels"`
	Members     []memberPayload `json:"members"`
	VoiceStates []voiceStatePayload `json:"voice_states"`
}

type channelPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Type             int    `json:"type"`
	GuildID          string `json:"guild_id"`
	Position         int    `json:"position"`
	Topic            string `json:"topic"`
	NSFW             bool   `json:"nsfw"`
	RateLimitPerUser int    `json:"rate_limit_per_user"`
	LastMessageID    string `json:"last_message_id"`
	Recipients       []struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
	} `json:"recipients"`
}

type voiceStatePayload struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Mute      bool   `json:"mute"`
	Deaf      bool   `json:"deaf"`
	SelfMute  bool   `json:"self_mute"`
	SelfDeaf  bool   `json:"self_deaf"`
	SessionID string `json:"session_id"`
}

type presenceUpdatePayloadIn struct {
	User   struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	GuildID string `json:"guild_id"`
	Status  string `json:"status"`
	Game    *struct {
		Name string `json:"name"`
	} `json:"game"`
}

type messageCreatePayload struct {
	ID        string   `json:"id"`
	ChannelID string   `json:"channel_id"`
	GuildID   string   `json:"guild_id"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	TTS       bool     `json:"tts"`
	Author    struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
		Bot           bool   `json:"bot"`
	} `json:"author"`
	Mentions []struct {
		ID string `json:"id"`
	} `json:"mentions"`
	Attachments []struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"attachments"`
}

type voiceServerUpdatePayload struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

type typingStartPayload struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}
