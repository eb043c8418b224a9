package discordrb

import (
	"context"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

const (
	apiVersion = "10"
	apiBase    = "https://discord.com/api/v" + apiVersion
)

// RESTClient is the surface the session manager and facade call into for
// everything that isn't the gateway socket itself. Kept as an interface
// so tests can swap in a fake without standing up fasthttp.
type RESTClient interface {
	Login(ctx context.Context, identity, secret string) (token string, err error)
	Gateway(ctx context.Context) (url string, err error)
	Channel(ctx context.Context, id uint64) (*Channel, error)
	CreatePrivateChannel(ctx context.Context, recipientID uint64) (*Channel, error)
	SendMessage(ctx context.Context, channelID uint64, content string, tts bool) (*Message, error)
	SendFile(ctx context.Context, channelID uint64, filename string, data []byte, content string) (*Message, error)
	EditMessage(ctx context.Context, channelID, messageID uint64, content string) (*Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID uint64) error
	GetMessages(ctx context.Context, channelID uint64, limit int) ([]*Message, error)
	Typing(ctx context.Context, channelID uint64) error
	ResolveInvite(ctx context.Context, code string) (*Invite, error)
	JoinServer(ctx context.Context, code string) error
	DeleteInvite(ctx context.Context, code string) error
	CreateServer(ctx context.Context, name, region string) (*Server, error)
	CreateOAuthApplication(ctx context.Context, name string) (map[string]any, error)
	UpdateOAuthApplication(ctx context.Context, appID string, fields map[string]any) (map[string]any, error)
}

// restClient is the fasthttp-backed RESTClient, generalized from the
// teacher's single-endpoint http.go (createFastHttpClient, discordPost)
// into the full surface the facade and session manager need.
type restClient struct {
	client    *fasthttp.Client
	token     string
	userAgent string
}

// NewRESTClient builds a client carrying the given bot-identity header on
// every request. Per Design Notes, the identity lives on the client
// instance rather than a package-level global.
func NewRESTClient(token, userAgent string) RESTClient {
	if userAgent == "" {
		userAgent = "DiscordBot (https://github.com/avengerx/discordrb, 1.0)"
	}
	return &restClient{
		client:    &fasthttp.Client{MaxConnsPerHost: 64},
		token:     token,
		userAgent: userAgent,
	}
}

func (c *restClient) do(ctx context.Context, method, path string, body any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(apiBase + path)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}

	if body != nil {
		payload, err := jsoniter.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline, hasDeadline := ctx.Deadline()
	var err error
	if hasDeadline {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.Do(req, resp)
	}
	if err != nil {
		return ErrTransport(err)
	}

	status := resp.StatusCode()
	respBody := resp.Body()

	if status >= 200 && status < 300 {
		if out != nil && len(respBody) > 0 {
			if err := jsoniter.Unmarshal(respBody, out); err != nil {
				return errors.Wrap(err, "decode response body")
			}
		}
		return nil
	}

	return restFailure(status, respBody)
}

// restFailure classifies a non-2xx REST response into the Kind taxonomy,
// using gjson to pull just the fields needed (retry_after, message) without
// a full struct decode — the pattern MiraiGo's auth/qimei.go uses for
// cheap error-body inspection.
func restFailure(status int, body []byte) error {
	switch status {
	case 401:
		return ErrInvalidAuthentication(gjson.GetBytes(body, "message").String())
	case 403:
		return ErrNoPermission(gjson.GetBytes(body, "message").String())
	case 404:
		return ErrNotFound(gjson.GetBytes(body, "message").String())
	case 429:
		retryAfter := gjson.GetBytes(body, "retry_after").Float()
		return ErrRateLimited(retryAfter)
	default:
		return ErrHTTPStatus(status)
	}
}

func (c *restClient) Login(ctx context.Context, identity, secret string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, fasthttp.MethodPost, "/auth/login", map[string]string{
		"email":    identity,
		"password": secret,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *restClient) Gateway(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, "/gateway", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *restClient) Channel(ctx context.Context, id uint64) (*Channel, error) {
	var cp channelPayload
	if err := c.do(ctx, fasthttp.MethodGet, "/channels/"+idStr(id), nil, &cp); err != nil {
		return nil, err
	}
	return channelFromPayload(cp, cp.GuildID == ""), nil
}

func (c *restClient) CreatePrivateChannel(ctx context.Context, recipientID uint64) (*Channel, error) {
	var cp channelPayload
	err := c.do(ctx, fasthttp.MethodPost, "/users/@me/channels", map[string]string{
		"recipient_id": idStr(recipientID),
	}, &cp)
	if err != nil {
		return nil, err
	}
	return channelFromPayload(cp, true), nil
}

func (c *restClient) SendMessage(ctx context.Context, channelID uint64, content string, tts bool) (*Message, error) {
	var mp messageCreatePayload
	err := c.do(ctx, fasthttp.MethodPost, "/channels/"+idStr(channelID)+"/messages", map[string]any{
		"content": content,
		"tts":     tts,
	}, &mp)
	if err != nil {
		return nil, err
	}
	return messageFromCreatePayload(mp), nil
}

// SendFile posts a message with an attached file using a multipart body.
// fasthttp has no multipart writer of its own, so the payload is built
// with the standard library's and handed to fasthttp as a raw body — the
// same split the teacher's http.go draws between fasthttp (transport) and
// net/http (request shaping) for different endpoints.
func (c *restClient) SendFile(ctx context.Context, channelID uint64, filename string, data []byte, content string) (*Message, error) {
	body, contentType, err := buildMultipartMessage(filename, data, content)
	if err != nil {
		return nil, errors.Wrap(err, "build multipart body")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(apiBase + "/channels/" + idStr(channelID) + "/messages")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.SetContentType(contentType)
	req.SetBody(body)

	if err := c.client.Do(req, resp); err != nil {
		return nil, ErrTransport(err)
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return nil, restFailure(status, resp.Body())
	}
	var mp messageCreatePayload
	if err := jsoniter.Unmarshal(resp.Body(), &mp); err != nil {
		return nil, errors.Wrap(err, "decode response body")
	}
	return messageFromCreatePayload(mp), nil
}

func (c *restClient) EditMessage(ctx context.Context, channelID, messageID uint64, content string) (*Message, error) {
	var mp messageCreatePayload
	path := "/channels/" + idStr(channelID) + "/messages/" + idStr(messageID)
	if err := c.do(ctx, fasthttp.MethodPatch, path, map[string]string{"content": content}, &mp); err != nil {
		return nil, err
	}
	return messageFromCreatePayload(mp), nil
}

func (c *restClient) DeleteMessage(ctx context.Context, channelID, messageID uint64) error {
	path := "/channels/" + idStr(channelID) + "/messages/" + idStr(messageID)
	return c.do(ctx, fasthttp.MethodDelete, path, nil, nil)
}

func (c *restClient) GetMessages(ctx context.Context, channelID uint64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var payloads []messageCreatePayload
	path := "/channels/" + idStr(channelID) + "/messages?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &payloads); err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, messageFromCreatePayload(p))
	}
	return out, nil
}

func (c *restClient) Typing(ctx context.Context, channelID uint64) error {
	return c.do(ctx, fasthttp.MethodPost, "/channels/"+idStr(channelID)+"/typing", nil, nil)
}

func (c *restClient) ResolveInvite(ctx context.Context, code string) (*Invite, error) {
	var out struct {
		Code    string `json:"code"`
		Guild   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"guild"`
		Channel struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channel"`
		Inviter struct {
			ID string `json:"id"`
		} `json:"inviter"`
		Uses      int  `json:"uses"`
		MaxUses   int  `json:"max_uses"`
		MaxAge    int  `json:"max_age"`
		Temporary bool `json:"temporary"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, "/invites/"+code+"?with_counts=true", nil, &out); err != nil {
		return nil, err
	}
	return &Invite{
		Code:      out.Code,
		Server:    InviteServerSummary{ID: parseID(out.Guild.ID), Name: out.Guild.Name},
		Channel:   InviteChannelSummary{ID: parseID(out.Channel.ID), Name: out.Channel.Name},
		InviterID: parseID(out.Inviter.ID),
		Uses:      out.Uses,
		MaxUses:   out.MaxUses,
		MaxAge:    out.MaxAge,
		Temporary: out.Temporary,
	}, nil
}

func (c *restClient) JoinServer(ctx context.Context, code string) error {
	return c.do(ctx, fasthttp.MethodPost, "/invites/"+code, nil, nil)
}

func (c *restClient) DeleteInvite(ctx context.Context, code string) error {
	return c.do(ctx, fasthttp.MethodDelete, "/invites/"+code, nil, nil)
}

func (c *restClient) CreateServer(ctx context.Context, name, region string) (*Server, error) {
	var g guildPayload
	err := c.do(ctx, fasthttp.MethodPost, "/guilds", map[string]string{
		"name":   name,
		"region": region,
	}, &g)
	if err != nil {
		return nil, err
	}
	return &Server{
		ID:          parseID(g.ID),
		Name:        g.Name,
		Icon:        g.Icon,
		Region:      g.Region,
		OwnerID:     parseID(g.OwnerID),
		ChannelIDs:  make(map[uint64]struct{}),
		MemberIDs:   make(map[uint64]struct{}),
		VoiceStates: make(map[uint64]*VoiceState),
	}, nil
}

func (c *restClient) CreateOAuthApplication(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, fasthttp.MethodPost, "/oauth2/applications", map[string]string{"name": name}, &out)
	return out, err
}

func (c *restClient) UpdateOAuthApplication(ctx context.Context, appID string, fields map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, fasthttp.MethodPut, "/oauth2/applications/"+appID, fields, &out)
	return out, err
}

func idStr(id uint64) string { return strconv.FormatUint(id, 10) }
