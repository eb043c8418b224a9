package discordrb

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var fastJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// outbound is the narrow interface the dispatcher needs back onto the
// session to enqueue frames (op=8 request-guild-members after READY).
// Keeping it as an interface rather than a *session field avoids
// hand-wiring every test with a full session.
type outbound interface {
	sendFrame(op int, data any) error
}

// Dispatcher consumes one inbound frame at a time, translating it into
// cache mutations and event emissions per the §4.5 table. Frames are
// processed strictly in arrival order by construction: Dispatch is only
// ever called from the session's single receive loop.
type Dispatcher struct {
	cache     *Cache
	bus       *Bus
	out       outbound
	voice     *voiceCoordinator
	parseSelf bool
	logger    *log.Logger

	// onReadyHook, if set, is invoked after a READY dispatch has been
	// fully applied to the cache, so the session manager can start its
	// heartbeat at the interval the payload carried.
	onReadyHook func(heartbeatIntervalMS int64)
}

// NewDispatcher wires a dispatcher to its cache, bus, and the session it
// can send frames through.
func NewDispatcher(cache *Cache, bus *Bus, out outbound, voice *voiceCoordinator, logger *log.Logger) *Dispatcher {
	return &Dispatcher{cache: cache, bus: bus, out: out, voice: voice, logger: logger}
}

// SetParseSelf controls whether MESSAGE_CREATE events authored by the
// bot itself are suppressed (default) or delivered.
func (d *Dispatcher) SetParseSelf(v bool) { d.parseSelf = v }

// Dispatch decodes a raw frame and, for op=0, routes it by t to the
// matching handler below. Any op other than 0 is a protocol violation.
func (d *Dispatcher) Dispatch(raw []byte) error {
	var f frame
	if err := fastJSON.Unmarshal(raw, &f); err != nil {
		return ErrProtocolViolation("malformed frame: " + err.Error())
	}
	if f.Op != opDispatch {
		return ErrProtocolViolation("unrecognized inbound op " + strconv.Itoa(f.Op))
	}
	d.route(f.Type, f.Data)
	return nil
}

func (d *Dispatcher) route(eventType string, data json.RawMessage) {
	switch eventType {
	case "READY":
		d.onReady(data)
	case "RESUMED":
		d.bus.Raise(Event{Kind: EventResumed})
	case "GUILD_CREATE":
		d.onGuildCreate(data)
	case "GUILD_UPDATE":
		d.onGuildUpdate(data)
	case "GUILD_DELETE":
		d.onGuildDelete(data)
	case "GUILD_MEMBERS_CHUNK":
		d.onGuildMembersChunk(data)
	case "GUILD_MEMBER_ADD":
		d.onGuildMemberAdd(data)
	case "GUILD_MEMBER_UPDATE":
		d.onGuildMemberUpdate(data)
	case "GUILD_MEMBER_REMOVE":
		d.onGuildMemberRemove(data)
	case "GUILD_ROLE_CREATE":
		d.onGuildRoleCreate(data)
	case "GUILD_ROLE_UPDATE":
		d.onGuildRoleUpdate(data)
	case "GUILD_ROLE_DELETE":
		d.onGuildRoleDelete(data)
	case "GUILD_EMOJIS_UPDATE":
		d.onGuildEmojisUpdate(data)
	case "GUILD_STICKERS_UPDATE":
		d.onGuildStickersUpdate(data)
	case "GUILD_BAN_ADD":
		d.onUserBan(data, true)
	case "GUILD_BAN_REMOVE":
		d.onUserBan(data, false)
	case "CHANNEL_CREATE":
		d.onChannelCreate(data)
	case "CHANNEL_UPDATE":
		d.onChannelUpdate(data)
	case "CHANNEL_DELETE":
		d.onChannelDelete(data)
	case "MESSAGE_CREATE":
		d.onMessageCreate(data)
	case "MESSAGE_UPDATE":
		d.onMessageEdit(data)
	case "MESSAGE_DELETE":
		d.onMessageDelete(data)
	case "TYPING_START":
		d.onTypingStart(data)
	case "PRESENCE_UPDATE":
		d.onPresenceUpdate(data)
	case "VOICE_STATE_UPDATE":
		d.onVoiceStateUpdate(data)
	case "VOICE_SERVER_UPDATE":
		d.onVoiceServerUpdate(data)
	default:
		if d.logger != nil {
			d.logger.Printf("dropping unrecognized event %q", eventType)
		}
	}
}

func (d *Dispatcher) onReady(data json.RawMessage) {
	var p readyPayload
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		if d.logger != nil {
			d.logger.Printf("malformed READY: %v", err)
		}
		return
	}

	d.cache.Reset()

	botUser := &User{
		ID:            parseID(p.User.ID),
		Username:      p.User.Username,
		Discriminator: p.User.Discriminator,
		Avatar:        p.User.Avatar,
		Bot:           p.User.Bot,
		Roles:         make(map[uint64][]uint64),
	}
	d.cache.SetBotUser(botUser)

	guildIDs := make([]string, 0, len(p.Guilds))
	for _, g := range p.Guilds {
		d.ingestGuild(g)
		guildIDs = append(guildIDs, g.ID)
	}

	for _, ch := range p.PrivateChannels {
		d.cache.UpsertChannel(channelFromPayload(ch, true))
	}

	d.bus.Raise(Event{Kind: EventReady, Payload: &p})

	if len(guildIDs) > 0 && d.out != nil {
		if err := d.out.sendFrame(opRequestGuildMembers, requestGuildMembersPayload{GuildID: guildIDs}); err != nil && d.logger != nil {
			d.logger.Printf("request guild members: %v", err)
		}
	}

	if d.onReadyHook != nil {
		d.onReadyHook(p.HeartbeatIntervalMS)
	}
}

func (d *Dispatcher) ingestGuild(g guildPayload) {
	s := &Server{
		ID:          parseID(g.ID),
		Name:        g.Name,
		Icon:        g.Icon,
		Region:      g.Region,
		OwnerID:     parseID(g.OwnerID),
		Large:       g.Large,
		MemberCount: g.MemberCount,
		ChannelIDs:  make(map[uint64]struct{}),
		MemberIDs:   make(map[uint64]struct{}),
		VoiceStates: make(map[uint64]*VoiceState),
	}
	for _, rp := range g.Roles {
		s.Roles = append(s.Roles, roleFromPayload(rp))
	}
	d.cache.AddServer(s)

	for _, chp := range g.Channels {
		ch := channelFromPayload(chp, false)
		ch.ServerID = s.ID
		d.cache.UpsertChannel(ch)
	}
	for _, mp := range g.Members {
		u := &User{
			ID:            parseID(mp.User.ID),
			Username:      mp.User.Username,
			Discriminator: mp.User.Discriminator,
			Avatar:        mp.User.Avatar,
			Bot:           mp.User.Bot,
		}
		d.cache.AddMember(s.ID, u, parseIDs(mp.Roles))
	}
	for _, vsp := range g.VoiceStates {
		d.cache.SetVoiceState(s.ID, parseID(vsp.UserID), voiceStateFromPayload(vsp))
	}
}

func (d *Dispatcher) onGuildCreate(data json.RawMessage) {
	var g guildPayload
	if err := fastJSON.Unmarshal(data, &g); err != nil {
		return
	}
	d.ingestGuild(g)
	d.bus.Raise(Event{Kind: EventGuildCreate, Attrs: map[string]any{"server_id": parseID(g.ID)}, Payload: &g})
}

func (d *Dispatcher) onGuildUpdate(data json.RawMessage) {
	var g guildPayload
	if err := fastJSON.Unmarshal(data, &g); err != nil {
		return
	}
	id := parseID(g.ID)
	d.cache.UpdateServer(id, func(s *Server) {
		s.Name = g.Name
		s.Icon = g.Icon
		s.Region = g.Region
		s.OwnerID = parseID(g.OwnerID)
		s.Large = g.Large
		s.MemberCount = g.MemberCount
	})
	d.bus.Raise(Event{Kind: EventGuildUpdate, Attrs: map[string]any{"server_id": id}, Payload: &g})
}

func (d *Dispatcher) onGuildDelete(data json.RawMessage) {
	var p struct {
		ID string `json:"id"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	id := parseID(p.ID)
	d.cache.RemoveServer(id)
	d.bus.Raise(Event{Kind: EventGuildDelete, Attrs: map[string]any{"server_id": id}, Payload: id})
}

func (d *Dispatcher) onGuildMembersChunk(data json.RawMessage) {
	var p struct {
		GuildID string          `json:"guild_id"`
		Members []memberPayload `json:"members"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	serverID := parseID(p.GuildID)
	for _, mp := range p.Members {
		u := &User{
			ID:            parseID(mp.User.ID),
			Username:      mp.User.Username,
			Discriminator: mp.User.Discriminator,
			Avatar:        mp.User.Avatar,
			Bot:           mp.User.Bot,
		}
		d.cache.AddMember(serverID, u, parseIDs(mp.Roles))
	}
}

func (d *Dispatcher) onGuildMemberAdd(data json.RawMessage) {
	var raw struct {
		GuildID string   `json:"guild_id"`
		Roles   []string `json:"roles"`
		User    struct {
			ID            string `json:"id"`
			Username      string `json:"username"`
			Discriminator string `json:"discriminator"`
			Avatar        string `json:"avatar"`
			Bot           bool   `json:"bot"`
		} `json:"user"`
	}
	if err := fastJSON.Unmarshal(data, &raw); err != nil {
		return
	}
	serverID := parseID(raw.GuildID)
	u := &User{
		ID:            parseID(raw.User.ID),
		Username:      raw.User.Username,
		Discriminator: raw.User.Discriminator,
		Avatar:        raw.User.Avatar,
		Bot:           raw.User.Bot,
	}
	roleIDs := parseIDs(raw.Roles)
	d.cache.AddMember(serverID, u, roleIDs)
	d.bus.Raise(Event{Kind: EventGuildMemberAdd, Attrs: map[string]any{"server_id": serverID, "user_id": u.ID}, Payload: u})
}

func (d *Dispatcher) onGuildMemberUpdate(data json.RawMessage) {
	var raw struct {
		GuildID string   `json:"guild_id"`
		Roles   []string `json:"roles"`
		User    struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := fastJSON.Unmarshal(data, &raw); err != nil {
		return
	}
	serverID := parseID(raw.GuildID)
	userID := parseID(raw.User.ID)
	d.cache.MergeRoles(serverID, userID, parseIDs(raw.Roles))
	d.bus.Raise(Event{Kind: EventGuildMemberUpdate, Attrs: map[string]any{"server_id": serverID, "user_id": userID}, Payload: userID})
}

func (d *Dispatcher) onGuildMemberRemove(data json.RawMessage) {
	var raw struct {
		GuildID string `json:"guild_id"`
		User    struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := fastJSON.Unmarshal(data, &raw); err != nil {
		return
	}
	serverID := parseID(raw.GuildID)
	userID := parseID(raw.User.ID)
	d.cache.RemoveMember(serverID, userID)
	d.bus.Raise(Event{Kind: EventGuildMemberDelete, Attrs: map[string]any{"server_id": serverID, "user_id": userID}, Payload: userID})
}

func (d *Dispatcher) onGuildRoleCreate(data json.RawMessage) {
	var p struct {
		GuildID string      `json:"guild_id"`
		Role    rolePayload `json:"role"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	serverID := parseID(p.GuildID)
	role := roleFromPayload(p.Role)
	d.cache.UpsertRole(serverID, role)
	d.bus.Raise(Event{Kind: EventGuildRoleCreate, Attrs: map[string]any{"server_id": serverID, "role_id": role.ID}, Payload: role})
}

func (d *Dispatcher) onGuildRoleUpdate(data json.RawMessage) {
	var p struct {
		GuildID string      `json:"guild_id"`
		Role    rolePayload `json:"role"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	serverID := parseID(p.GuildID)
	role := roleFromPayload(p.Role)
	d.cache.UpsertRole(serverID, role)
	d.bus.Raise(Event{Kind: EventGuildRoleUpdate, Attrs: map[string]any{"server_id": serverID, "role_id": role.ID}, Payload: role})
}

func (d *Dispatcher) onGuildRoleDelete(data json.RawMessage) {
	var p struct {
		GuildID string `json:"guild_id"`
		RoleID  string `json:"role_id"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	serverID := parseID(p.GuildID)
	roleID := parseID(p.RoleID)
	d.cache.RemoveRole(serverID, roleID)
	d.bus.Raise(Event{Kind: EventGuildRoleDelete, Attrs: map[string]any{"server_id": serverID, "role_id": roleID}, Payload: roleID})
}

func (d *Dispatcher) onGuildEmojisUpdate(data json.RawMessage) {
	var p struct {
		GuildID string `json:"guild_id"`
		Emojis  []struct {
			Name string `json:"name"`
		} `json:"emojis"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	serverID := parseID(p.GuildID)
	names := make([]string, 0, len(p.Emojis))
	for _, e := range p.Emojis {
		names = append(names, e.Name)
	}
	d.cache.UpdateServer(serverID, func(s *Server) { s.Emojis = names })
	d.bus.Raise(Event{Kind: EventGuildEmojisUpdate, Attrs: map[string]any{"server_id": serverID}, Payload: names})
}

func (d *Dispatcher) onGuildStickersUpdate(data json.RawMessage) {
	var p struct {
		GuildID  string `json:"guild_id"`
		Stickers []struct {
			Name string `json:"name"`
		} `json:"stickers"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	serverID := parseID(p.GuildID)
	names := make([]string, 0, len(p.Stickers))
	for _, e := range p.Stickers {
		names = append(names, e.Name)
	}
	d.cache.UpdateServer(serverID, func(s *Server) { s.Stickers = names })
	d.bus.Raise(Event{Kind: EventGuildStickersUpdate, Attrs: map[string]any{"server_id": serverID}, Payload: names})
}

func (d *Dispatcher) onUserBan(data json.RawMessage, banned bool) {
	var p struct {
		GuildID string `json:"guild_id"`
		User    struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	kind := EventUserBan
	if !banned {
		kind = EventUserUnban
	}
	d.bus.Raise(Event{Kind: kind, Attrs: map[string]any{"server_id": parseID(p.GuildID), "user_id": parseID(p.User.ID)}})
}

func (d *Dispatcher) onChannelCreate(data json.RawMessage) {
	var p channelPayload
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	ch := channelFromPayload(p, p.GuildID == "")
	d.cache.UpsertChannel(ch)
	d.bus.Raise(Event{Kind: EventChannelCreate, Attrs: map[string]any{"channel_id": ch.ID}, Payload: ch})
}

func (d *Dispatcher) onChannelUpdate(data json.RawMessage) {
	var p channelPayload
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	ch := channelFromPayload(p, p.GuildID == "")
	d.cache.UpsertChannel(ch)
	d.bus.Raise(Event{Kind: EventChannelUpdate, Attrs: map[string]any{"channel_id": ch.ID}, Payload: ch})
}

func (d *Dispatcher) onChannelDelete(data json.RawMessage) {
	var p struct {
		ID string `json:"id"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	id := parseID(p.ID)
	d.cache.RemoveChannel(id)
	d.bus.Raise(Event{Kind: EventChannelDelete, Attrs: map[string]any{"channel_id": id}, Payload: id})
}

func (d *Dispatcher) onMessageCreate(data json.RawMessage) {
	var p messageCreatePayload
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	msg := messageFromCreatePayload(p)

	bot := d.cache.BotUser()
	isSelf := bot != nil && msg.AuthorID == bot.ID
	if isSelf && !d.parseSelf {
		return
	}

	d.bus.Raise(Event{Kind: EventMessage, Attrs: map[string]any{"channel_id": msg.ChannelID}, Payload: msg})

	if bot != nil {
		for _, id := range msg.MentionIDs {
			if id == bot.ID {
				d.bus.Raise(Event{Kind: EventMention, Attrs: map[string]any{"channel_id": msg.ChannelID}, Payload: msg})
				break
			}
		}
	}

	if ch, ok := d.cache.Channel(msg.ChannelID); ok && ch.Type == ChannelPrivate {
		d.bus.Raise(Event{Kind: EventPrivateMessage, Attrs: map[string]any{"channel_id": msg.ChannelID}, Payload: msg})
	}
}

func (d *Dispatcher) onMessageEdit(data json.RawMessage) {
	var p messageCreatePayload
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	msg := messageFromCreatePayload(p)
	d.bus.Raise(Event{Kind: EventMessageEdit, Attrs: map[string]any{"channel_id": msg.ChannelID}, Payload: msg})
}

func (d *Dispatcher) onMessageDelete(data json.RawMessage) {
	var p struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	}
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	d.bus.Raise(Event{
		Kind:    EventMessageDelete,
		Attrs:   map[string]any{"channel_id": parseID(p.ChannelID), "message_id": parseID(p.ID)},
		Payload: parseID(p.ID),
	})
}

func (d *Dispatcher) onTypingStart(data json.RawMessage) {
	var p typingStartPayload
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	channelID := parseID(p.ChannelID)
	if d.cache.IsDenied(channelID) {
		return
	}
	d.bus.Raise(Event{Kind: EventTyping, Attrs: map[string]any{"channel_id": channelID, "user_id": parseID(p.UserID)}})
}

func (d *Dispatcher) onPresenceUpdate(data json.RawMessage) {
	var p presenceUpdatePayloadIn
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	game := ""
	if p.Game != nil {
		game = p.Game.Name
	}
	serverID := parseID(p.GuildID)
	userID := parseID(p.User.ID)
	previousGame, _ := d.cache.SetPresence(serverID, userID, p.User.Username, Status(p.Status), game)

	if game != previousGame {
		d.bus.Raise(Event{Kind: EventPlaying, Attrs: map[string]any{"server_id": serverID, "user_id": userID}, Payload: game})
		return
	}
	d.bus.Raise(Event{Kind: EventPresence, Attrs: map[string]any{"server_id": serverID, "user_id": userID}, Payload: p.Status})
}

func (d *Dispatcher) onVoiceStateUpdate(data json.RawMessage) {
	var p voiceStatePayload
	var withGuild struct {
		voiceStatePayload
		GuildID string `json:"guild_id"`
	}
	if err := fastJSON.Unmarshal(data, &withGuild); err != nil {
		return
	}
	p = withGuild.voiceStatePayload
	serverID := parseID(withGuild.GuildID)
	userID := parseID(p.UserID)

	if d.voice != nil {
		var botID uint64
		if bot := d.cache.BotUser(); bot != nil {
			botID = bot.ID
		}
		d.voice.observeVoiceState(serverID, userID, botID, p.SessionID)
	}

	if p.ChannelID == "" {
		d.cache.SetVoiceState(serverID, userID, nil)
	} else {
		d.cache.SetVoiceState(serverID, userID, voiceStateFromPayload(p))
	}
	d.bus.Raise(Event{Kind: EventVoiceStateUpdate, Attrs: map[string]any{"server_id": serverID, "user_id": userID}, Payload: p})
}

func (d *Dispatcher) onVoiceServerUpdate(data json.RawMessage) {
	var p voiceServerUpdatePayload
	if err := fastJSON.Unmarshal(data, &p); err != nil {
		return
	}
	if d.voice != nil {
		d.voice.resolve(p.Token, p.Endpoint)
	}
}

func roleFromPayload(rp rolePayload) *Role {
	perm, _ := strconv.ParseUint(rp.Permissions, 10, 64)
	return &Role{
		ID:          parseID(rp.ID),
		Name:        rp.Name,
		Color:       rp.Color,
		Hoist:       rp.Hoist,
		Position:    rp.Position,
		Permissions: perm,
	}
}

func channelFromPayload(cp channelPayload, private bool) *Channel {
	ch := &Channel{
		ID:               parseID(cp.ID),
		Name:             cp.Name,
		ServerID:         parseID(cp.GuildID),
		Position:         cp.Position,
		Topic:            cp.Topic,
		NSFW:             cp.NSFW,
		RateLimitPerUser: cp.RateLimitPerUser,
		LastMessageID:    parseID(cp.LastMessageID),
	}
	switch {
	case private || cp.Type == 1:
		ch.Type = ChannelPrivate
		if len(cp.Recipients) > 0 {
			ch.RecipientID = parseID(cp.Recipients[0].ID)
		}
	case cp.Type == 2:
		ch.Type = ChannelVoice
	default:
		ch.Type = ChannelText
	}
	return ch
}

func voiceStateFromPayload(vp voiceStatePayload) *VoiceState {
	return &VoiceState{
		ChannelID: parseID(vp.ChannelID),
		SessionID: vp.SessionID,
		Mute:      vp.Mute,
		Deaf:      vp.Deaf,
		SelfMute:  vp.SelfMute,
		SelfDeaf:  vp.SelfDeaf,
	}
}

func messageFromCreatePayload(p messageCreatePayload) *Message {
	msg := &Message{
		ID:        parseID(p.ID),
		ChannelID: parseID(p.ChannelID),
		AuthorID:  parseID(p.Author.ID),
		Content:   p.Content,
		TTS:       p.TTS,
	}
	if ts, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
		msg.Timestamp = ts
	}
	for _, m := range p.Mentions {
		msg.MentionIDs = append(msg.MentionIDs, parseID(m.ID))
	}
	for _, a := range p.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{ID: parseID(a.ID), URL: a.URL})
	}
	return msg
}

func parseID(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseIDs(ss []string) []uint64 {
	out := make([]uint64, 0, len(ss))
	for _, s := range ss {
		out = append(out, parseID(s))
	}
	return out
}
