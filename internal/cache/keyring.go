package cache

import (
	"encoding/json"
	"time"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name records are filed under in the OS
// keyring (Keychain on macOS, Secret Service on Linux, Credential Manager
// on Windows).
const keyringService = "vault-inject"

// Keyring is a token cache backed by the OS keyring. It stores one keyring
// item per (server URL, auth method, principal) key, with the token and
// expiry serialized as JSON in the item's secret.
type Keyring struct{}

// NewKeyring creates a keyring backend.
func NewKeyring() *Keyring {
	return &Keyring{}
}

// Lookup returns the cached token for the key if present and unexpired.
// Any keyring error, including a locked or unavailable keyring, is a miss.
func (k *Keyring) Lookup(serverURL, method, principal string) (string, bool) {
	raw, err := keyring.Get(keyringService, entryKey(serverURL, method, principal))
	if err != nil {
		return "", false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return "", false
	}
	if entry.Token == "" || entry.expired(time.Now()) {
		return "", false
	}
	return entry.Token, true
}

// Store persists a token, replacing any previous entry for the same key.
func (k *Keyring) Store(serverURL, method, principal, token string, expiresAt time.Time) error {
	entry := Entry{Token: token, ExpiresAt: bufferedExpiry(expiresAt)}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, entryKey(serverURL, method, principal), string(raw))
}
