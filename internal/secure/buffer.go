// Package secure keeps resolved secret values encrypted in memory between
// resolution and process execution, using memguard enclaves. Call Purge at
// exit to wipe everything memguard holds.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer holds one secret value encrypted at rest in memory. The enclave
// encrypts the data and attempts to mlock it so it cannot be swapped out.
// An empty value is valid data (a Vault field can hold "", and a filter
// chain can emit nothing); it is held without an enclave, since memguard
// cannot seal zero bytes.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave // nil for an empty value
	destroyed bool
}

// NewBuffer seals secret bytes into a protected buffer. The input slice is
// wiped by memguard; the caller must not reuse it.
func NewBuffer(data []byte) *Buffer {
	if len(data) == 0 {
		return &Buffer{}
	}
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// NewBufferFromString seals a secret string.
func NewBufferFromString(s string) *Buffer {
	return NewBuffer([]byte(s))
}

// Reveal decrypts the value, passes it to fn, and wipes the plaintext
// again before returning. The string must not escape fn.
func (b *Buffer) Reveal(fn func(value string) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed || b.enclave == nil {
		return fn("")
	}

	locked, err := b.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.String())
}

// Destroy marks the buffer as destroyed; further Reveal calls see an empty
// value. Idempotent.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enclave = nil
	b.destroyed = true
}

// Purge wipes all memguard-held data. Deferred in main.
func Purge() {
	memguard.Purge()
}
