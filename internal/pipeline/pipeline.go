// Package pipeline runs a raw secret value through an ordered chain of
// external filter commands, stage i's stdout feeding stage i+1's stdin.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	verrors "github.com/systmms/vault-inject/internal/errors"
	"github.com/systmms/vault-inject/internal/logging"
)

// Executor runs one shell command with the given stdin. This abstraction
// allows filter behavior to be faked in tests.
type Executor interface {
	Run(ctx context.Context, command string, stdin []byte) (stdout, stderr []byte, exitCode int, err error)
}

// shellExecutor runs commands through 'sh -c'.
type shellExecutor struct{}

func (shellExecutor) Run(ctx context.Context, command string, stdin []byte) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, nil, 0, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

// Pipeline applies filter chains to secret values.
type Pipeline struct {
	exec Executor
}

// New creates a pipeline that spawns real shell commands.
func New() *Pipeline {
	return &Pipeline{exec: shellExecutor{}}
}

// NewWithExecutor creates a pipeline with a custom executor. Used in tests.
func NewWithExecutor(exec Executor) *Pipeline {
	return &Pipeline{exec: exec}
}

// Apply streams input through every filter in order. A stage exiting
// non-zero aborts the chain; no partial result is returned. A single
// trailing newline is trimmed from the final stage's output only, since
// CLI filter tools conventionally append one; intermediate output passes
// through untouched.
func (p *Pipeline) Apply(ctx context.Context, filters []string, input []byte) ([]byte, error) {
	value := input
	for i, filter := range filters {
		stdout, stderr, exitCode, err := p.exec.Run(ctx, filter, value)
		if err != nil {
			return nil, fmt.Errorf("failed to run the filter '%s': %w", filter, err)
		}
		if exitCode != 0 {
			// A failing filter may echo its stdin; keep the secret out of
			// the reported stderr.
			msg := logging.Redact(string(bytes.TrimRight(stderr, "\n")), []string{string(input), string(value)})
			return nil, verrors.PipelineError{
				Command:  filter,
				Index:    i + 1,
				ExitCode: exitCode,
				Stderr:   msg,
			}
		}
		value = stdout
	}
	if len(filters) > 0 {
		value = trimFinalNewline(value)
	}
	return value, nil
}

// trimFinalNewline removes exactly one trailing newline (and a preceding
// carriage return, if any). Embedded and additional trailing newlines are
// preserved.
func trimFinalNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
		if n := len(b); n > 0 && b[n-1] == '\r' {
			b = b[:n-1]
		}
	}
	return b
}
