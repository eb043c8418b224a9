package discordrb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/radovskyb/watcher"
)

// TokenCache persists identity/secret -> token mappings to a single JSON
// file, keyed by the hex sha256 of identity+secret so the file never
// carries plaintext credentials. Saves are atomic (write to a temp file,
// then rename), generalized from keshon's datastore.go. A file watcher,
// grounded on the teacher's watchTokenChanges, invalidates the in-memory
// copy whenever something else rewrites the file underneath this process.
type TokenCache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
	logger  *log.Logger

	w        *watcher.Watcher
	closeC   chan struct{}
}

// NewTokenCache opens (or creates) the cache file at path.
func NewTokenCache(path string, logger *log.Logger) (*TokenCache, error) {
	tc := &TokenCache{
		path:    path,
		entries: make(map[string]string),
		logger:  logger,
		closeC:  make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create token cache directory")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := tc.writeAtomic(); err != nil {
			return nil, err
		}
	} else if err == nil {
		if err := tc.load(); err != nil {
			return nil, err
		}
	} else {
		return nil, errors.Wrap(err, "stat token cache file")
	}

	tc.watch()
	return tc, nil
}

func cacheKey(identity, secret string) string {
	sum := sha256.Sum256([]byte(identity + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached token for identity/secret, if any.
func (tc *TokenCache) Lookup(identity, secret string) (string, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	tok, ok := tc.entries[cacheKey(identity, secret)]
	return tok, ok
}

// Store records token for identity/secret and persists the cache file.
func (tc *TokenCache) Store(identity, secret, token string) error {
	tc.mu.Lock()
	tc.entries[cacheKey(identity, secret)] = token
	tc.mu.Unlock()
	return tc.writeAtomic()
}

func (tc *TokenCache) load() error {
	data, err := os.ReadFile(tc.path)
	if err != nil {
		return errors.Wrap(err, "read token cache file")
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.Wrap(err, "decode token cache file")
	}
	tc.mu.Lock()
	tc.entries = entries
	tc.mu.Unlock()
	return nil
}

func (tc *TokenCache) writeAtomic() error {
	tc.mu.RLock()
	data, err := json.MarshalIndent(tc.entries, "", "  ")
	tc.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "encode token cache")
	}

	tmp := tc.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write token cache temp file")
	}
	if err := os.Rename(tmp, tc.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "rename token cache temp file")
	}
	return nil
}

// watch reloads the cache from disk whenever the backing file changes
// underneath this process, so a second process sharing the same cache
// file is picked up without a restart.
func (tc *TokenCache) watch() {
	w := watcher.New()
	tc.w = w

	go func() {
		for {
			select {
			case <-w.Event:
				if err := tc.load(); err != nil && tc.logger != nil {
					tc.logger.Printf("token cache reload: %v", err)
				}
			case err := <-w.Error:
				if tc.logger != nil {
					tc.logger.Printf("token cache watch error: %v", err)
				}
			case <-w.Closed:
				return
			case <-tc.closeC:
				return
			}
		}
	}()

	if err := w.Add(tc.path); err != nil {
		if tc.logger != nil {
			tc.logger.Printf("token cache watch add: %v", err)
		}
		return
	}
	go func() { _ = w.Start(time.Second) }()
}

// Close stops the background watcher.
func (tc *TokenCache) Close() {
	if tc.w != nil {
		tc.w.Close()
	}
	close(tc.closeC)
}
