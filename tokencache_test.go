package discordrb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCacheStoreAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	tc, err := NewTokenCache(path, nil)
	require.NoError(t, err)
	defer tc.Close()

	_, ok := tc.Lookup("user@example.com", "secret")
	assert.False(t, ok)

	require.NoError(t, tc.Store("user@example.com", "secret", "tok-123"))

	tok, ok := tc.Lookup("user@example.com", "secret")
	require.True(t, ok)
	assert.Equal(t, "tok-123", tok)
}

func TestTokenCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	tc, err := NewTokenCache(path, nil)
	require.NoError(t, err)
	require.NoError(t, tc.Store("id", "pw", "tok-abc"))
	tc.Close()

	tc2, err := NewTokenCache(path, nil)
	require.NoError(t, err)
	defer tc2.Close()

	tok, ok := tc2.Lookup("id", "pw")
	require.True(t, ok)
	assert.Equal(t, "tok-abc", tok)
}

func TestTokenCacheKeyingIsSecretSensitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	tc, err := NewTokenCache(path, nil)
	require.NoError(t, err)
	defer tc.Close()

	require.NoError(t, tc.Store("id", "pw1", "tok-1"))
	_, ok := tc.Lookup("id", "pw2")
	assert.False(t, ok)
}
