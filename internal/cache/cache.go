// Package cache persists Vault tokens between invocations so that a still
// valid session skips the login round-trip. Records are keyed by
// (server URL, auth method, principal). Two backends exist: a JSON file
// under the user cache directory, and the OS keyring.
//
// Cache failures are never fatal; callers degrade to a fresh login.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one cached token. A zero ExpiresAt means the token does not
// expire.
type Entry struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// expired reports whether the entry is past its expiry at time now.
func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Backend stores and retrieves cached tokens. Lookup must treat expired
// entries as absent rather than deleting them eagerly.
type Backend interface {
	Lookup(serverURL, method, principal string) (token string, ok bool)
	Store(serverURL, method, principal, token string, expiresAt time.Time) error
}

// expiryBuffer is subtracted when storing so tokens are refreshed a little
// before their actual expiration.
const expiryBuffer = 5 * time.Second

func bufferedExpiry(expiresAt time.Time) time.Time {
	if expiresAt.IsZero() {
		return expiresAt
	}
	return expiresAt.Add(-expiryBuffer)
}

func entryKey(serverURL, method, principal string) string {
	return strings.Join([]string{serverURL, method, principal}, "|")
}

// Open creates the backend named by kind ("file" or "keyring"). path is
// only used by the file backend; empty means the default location.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "", "file":
		if path == "" {
			dir, err := os.UserCacheDir()
			if err != nil {
				return nil, fmt.Errorf("could not resolve a path to the token cache: %w", err)
			}
			path = filepath.Join(dir, "vault-inject", "tokens.json")
		}
		return NewFile(path), nil
	case "keyring":
		return NewKeyring(), nil
	default:
		return nil, fmt.Errorf("'%s' is not a valid cache backend (try 'file' or 'keyring')", kind)
	}
}

// File is a token cache backed by a single JSON file. The file is read at
// most once per invocation and written at most once, using a
// write-temp-then-rename so a concurrently running sibling invocation never
// observes a partial write. An unreadable or corrupt file is a cache miss.
type File struct {
	path string

	mu     sync.Mutex
	loaded bool
	tokens map[string]Entry
}

// NewFile creates a file backend at the given path.
func NewFile(path string) *File {
	return &File{path: path}
}

type fileData struct {
	Tokens map[string]Entry `json:"tokens"`
}

func (f *File) load() {
	if f.loaded {
		return
	}
	f.loaded = true
	f.tokens = map[string]Entry{}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	if data.Tokens != nil {
		f.tokens = data.Tokens
	}
}

// Lookup returns the cached token for the key if present and unexpired.
func (f *File) Lookup(serverURL, method, principal string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load()

	entry, ok := f.tokens[entryKey(serverURL, method, principal)]
	if !ok || entry.expired(time.Now()) {
		return "", false
	}
	return entry.Token, true
}

// Store persists a token, replacing any previous entry for the same key.
func (f *File) Store(serverURL, method, principal, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load()

	f.tokens[entryKey(serverURL, method, principal)] = Entry{
		Token:     token,
		ExpiresAt: bufferedExpiry(expiresAt),
	}
	return f.save()
}

func (f *File) save() error {
	data, err := json.Marshal(fileData{Tokens: f.tokens})
	if err != nil {
		return fmt.Errorf("failed to serialize cache data for writing: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write cache data: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set cache file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
