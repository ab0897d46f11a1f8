package pipeline

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/systmms/vault-inject/internal/errors"
)

// fakeExecutor implements a few well-known filters in-process.
type fakeExecutor struct{}

func (fakeExecutor) Run(_ context.Context, command string, stdin []byte) ([]byte, []byte, int, error) {
	switch command {
	case "base64":
		out := base64.StdEncoding.EncodeToString(stdin) + "\n"
		return []byte(out), nil, 0, nil
	case "rev":
		var lines []string
		for _, line := range strings.Split(strings.TrimSuffix(string(stdin), "\n"), "\n") {
			runes := []rune(line)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			lines = append(lines, string(runes))
		}
		return []byte(strings.Join(lines, "\n") + "\n"), nil, 0, nil
	case "cat":
		return stdin, nil, 0, nil
	case "fail":
		return nil, []byte("boom\n"), 3, nil
	case "leak":
		stderr := append([]byte("bad input: "), stdin...)
		return nil, append(stderr, '\n'), 1, nil
	default:
		return nil, []byte("unknown command\n"), 127, nil
	}
}

func TestApplyChain(t *testing.T) {
	t.Parallel()

	p := NewWithExecutor(fakeExecutor{})

	out, err := p.Apply(context.Background(), []string{"base64", "rev"}, []byte("wibble"))
	require.NoError(t, err)

	encoded := base64.StdEncoding.EncodeToString([]byte("wibble")) // d2liYmxl
	runes := []rune(encoded)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	assert.Equal(t, string(runes), string(out), "final trailing newline is trimmed")
}

func TestApplyNoFilters(t *testing.T) {
	t.Parallel()

	p := NewWithExecutor(fakeExecutor{})

	// Without filters the raw value is untouched, trailing newline included.
	out, err := p.Apply(context.Background(), nil, []byte("raw\n"))
	require.NoError(t, err)
	assert.Equal(t, "raw\n", string(out))
}

func TestApplyTrimsExactlyOneNewline(t *testing.T) {
	t.Parallel()

	p := NewWithExecutor(fakeExecutor{})

	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"one\n", "one"},
		{"two\n\n", "two\n"},
		{"crlf\r\n", "crlf"},
		{"embedded\nnewline\n", "embedded\nnewline"},
		{"", ""},
	}
	for _, tt := range tests {
		out, err := p.Apply(context.Background(), []string{"cat"}, []byte(tt.input))
		require.NoError(t, err)
		assert.Equal(t, tt.expected, string(out), "input %q", tt.input)
	}
}

func TestApplyStageFailure(t *testing.T) {
	t.Parallel()

	p := NewWithExecutor(fakeExecutor{})

	_, err := p.Apply(context.Background(), []string{"base64", "fail", "rev"}, []byte("x"))
	var pipeErr verrors.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, 2, pipeErr.Index)
	assert.Equal(t, 3, pipeErr.ExitCode)
	assert.Equal(t, "fail", pipeErr.Command)
	assert.Equal(t, "boom", pipeErr.Stderr)
}

func TestApplyRedactsSecretFromStderr(t *testing.T) {
	t.Parallel()

	p := NewWithExecutor(fakeExecutor{})

	_, err := p.Apply(context.Background(), []string{"leak"}, []byte("hunter2"))
	var pipeErr verrors.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, "bad input: [REDACTED]", pipeErr.Stderr)
	assert.NotContains(t, err.Error(), "hunter2")
}

func TestShellExecutor(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	out, err := p.Apply(ctx, []string{"cat"}, []byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	out, err = p.Apply(ctx, []string{"tr a-z A-Z", "cat"}, []byte("wibble"))
	require.NoError(t, err)
	assert.Equal(t, "WIBBLE", string(out))

	_, err = p.Apply(ctx, []string{"exit 3"}, []byte("x"))
	var pipeErr verrors.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, 1, pipeErr.Index)
	assert.Equal(t, 3, pipeErr.ExitCode)
}
