package discordrb

import (
	"context"
	"log"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRESTClient implements RESTClient with just enough behavior for
// login-routine tests; every other method is unused here.
type fakeRESTClient struct {
	loginCalls int32
	loginErr   error
	loginToken string
}

func (f *fakeRESTClient) Login(ctx context.Context, identity, secret string) (string, error) {
	atomic.AddInt32(&f.loginCalls, 1)
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.loginToken, nil
}
func (f *fakeRESTClient) Gateway(ctx context.Context) (string, error)      { return "wss://example", nil }
func (f *fakeRESTClient) Channel(ctx context.Context, id uint64) (*Channel, error) {
	return nil, ErrNotFound("no channel")
}
func (f *fakeRESTClient) CreatePrivateChannel(ctx context.Context, recipientID uint64) (*Channel, error) {
	return nil, nil
}
func (f *fakeRESTClient) SendMessage(ctx context.Context, channelID uint64, content string, tts bool) (*Message, error) {
	return nil, nil
}
func (f *fakeRESTClient) SendFile(ctx context.Context, channelID uint64, filename string, data []byte, content string) (*Message, error) {
	return nil, nil
}
func (f *fakeRESTClient) EditMessage(ctx context.Context, channelID, messageID uint64, content string) (*Message, error) {
	return nil, nil
}
func (f *fakeRESTClient) DeleteMessage(ctx context.Context, channelID, messageID uint64) error { return nil }
func (f *fakeRESTClient) GetMessages(ctx context.Context, channelID uint64, limit int) ([]*Message, error) {
	return nil, nil
}
func (f *fakeRESTClient) Typing(ctx context.Context, channelID uint64) error { return nil }
func (f *fakeRESTClient) ResolveInvite(ctx context.Context, code string) (*Invite, error) {
	return nil, nil
}
func (f *fakeRESTClient) JoinServer(ctx context.Context, code string) error  { return nil }
func (f *fakeRESTClient) DeleteInvite(ctx context.Context, code string) error { return nil }
func (f *fakeRESTClient) CreateServer(ctx context.Context, name, region string) (*Server, error) {
	return nil, nil
}
func (f *fakeRESTClient) CreateOAuthApplication(ctx context.Context, name string) (map[string]any, error) {
	return nil, nil
}
func (f *fakeRESTClient) UpdateOAuthApplication(ctx context.Context, appID string, fields map[string]any) (map[string]any, error) {
	return nil, nil
}

func newTestSession(t *testing.T, identity, secret string, rest RESTClient) *session {
	path := filepath.Join(t.TempDir(), "tokens.json")
	tc, err := NewTokenCache(path, nil)
	require.NoError(t, err)
	cache := NewCache()
	bus := NewBus(nil)
	return newSession(identity, secret, "test-bot", rest, tc, cache, bus, log.Default())
}

func TestLoginTokenIdentityBypassesRESTAndCache(t *testing.T) {
	rest := &fakeRESTClient{loginToken: "should-not-be-used"}
	s := newTestSession(t, "token", "raw-token-value", rest)

	tok, err := s.login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "raw-token-value", tok)
	assert.EqualValues(t, 0, rest.loginCalls)
}

func TestLoginCacheHitSkipsREST(t *testing.T) {
	rest := &fakeRESTClient{loginToken: "fresh"}
	s := newTestSession(t, "user@example.com", "pw", rest)
	require.NoError(t, s.tokenCache.Store("user@example.com", "pw", "cached"))

	tok, err := s.login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.EqualValues(t, 0, rest.loginCalls)
}

func TestLoginCacheMissCallsRESTAndStores(t *testing.T) {
	rest := &fakeRESTClient{loginToken: "fresh"}
	s := newTestSession(t, "user@example.com", "pw", rest)

	tok, err := s.login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.EqualValues(t, 1, rest.loginCalls)

	cached, ok := s.tokenCache.Lookup("user@example.com", "pw")
	require.True(t, ok)
	assert.Equal(t, "fresh", cached)
}

func TestLoginFatalOnNonTransientFailure(t *testing.T) {
	rest := &fakeRESTClient{loginErr: ErrInvalidAuthentication("bad password")}
	s := newTestSession(t, "user@example.com", "pw", rest)

	_, err := s.login(context.Background())
	require.Error(t, err)
	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidAuthentication, k)
	assert.EqualValues(t, 1, rest.loginCalls)
}

func TestIsTransientLoginError(t *testing.T) {
	assert.True(t, isTransientLoginError(ErrTransport(assert.AnError)))
	assert.True(t, isTransientLoginError(ErrHTTPStatus(523)))
	assert.False(t, isTransientLoginError(ErrHTTPStatus(400)))
	assert.False(t, isTransientLoginError(ErrInvalidAuthentication("x")))
	assert.False(t, isTransientLoginError(ErrNoPermission("x")))
}
