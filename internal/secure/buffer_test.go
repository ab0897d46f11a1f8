package secure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferReveal(t *testing.T) {
	buf := NewBufferFromString("hunter2")

	var got string
	err := buf.Reveal(func(value string) error {
		got = strings.Clone(value) // copy out; the revealed string is wiped after
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	// Reveal works repeatedly.
	err = buf.Reveal(func(value string) error {
		assert.Equal(t, "hunter2", value)
		return nil
	})
	require.NoError(t, err)
}

func TestBufferEmptyValue(t *testing.T) {
	for _, buf := range []*Buffer{
		NewBufferFromString(""),
		NewBuffer(nil),
	} {
		err := buf.Reveal(func(value string) error {
			assert.Empty(t, value)
			return nil
		})
		require.NoError(t, err)

		// Repeatedly, and after Destroy.
		require.NoError(t, buf.Reveal(func(string) error { return nil }))
		buf.Destroy()
		require.NoError(t, buf.Reveal(func(string) error { return nil }))
	}
}

func TestBufferDestroy(t *testing.T) {
	buf := NewBufferFromString("hunter2")
	buf.Destroy()
	buf.Destroy() // idempotent

	err := buf.Reveal(func(value string) error {
		assert.Empty(t, value)
		return nil
	})
	require.NoError(t, err)
}
