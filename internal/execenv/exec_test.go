package execenv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/systmms/vault-inject/internal/errors"
	"github.com/systmms/vault-inject/internal/logging"
	"github.com/systmms/vault-inject/internal/resolve"
	"github.com/systmms/vault-inject/internal/secure"
)

func testEnv(t *testing.T, pairs ...string) resolve.EnvironmentMap {
	t.Helper()
	require.Zero(t, len(pairs)%2)
	var env resolve.EnvironmentMap
	for i := 0; i < len(pairs); i += 2 {
		env = append(env, resolve.ResolvedSecret{
			Name:       pairs[i],
			OriginPath: "secret/test",
			Value:      secure.NewBufferFromString(pairs[i+1]),
		})
	}
	t.Cleanup(env.Destroy)
	return env
}

func newTestExecutor() *Executor {
	return New(logging.NewWithWriter(false, true, os.Stderr))
}

func TestRunNoCommand(t *testing.T) {
	code, err := newTestExecutor().Run(context.Background(), Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRunMainCommandExitCode(t *testing.T) {
	code, err := newTestExecutor().Run(context.Background(), Options{Command: "exit 7"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestRunMainCommandInjectsEnvironment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	env := testEnv(t, "INJECTED_TOKEN", "s3cret")

	code, err := newTestExecutor().Run(context.Background(), Options{
		Command: `printf '%s' "$INJECTED_TOKEN" > ` + out,
	}, env)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(data))
}

func TestRunMainCommandResolvedValueWins(t *testing.T) {
	t.Setenv("INJECTED_TOKEN", "ambient")
	out := filepath.Join(t.TempDir(), "out")
	env := testEnv(t, "INJECTED_TOKEN", "resolved")

	code, err := newTestExecutor().Run(context.Background(), Options{
		Command: `printf '%s' "$INJECTED_TOKEN" > ` + out,
	}, env)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "resolved", string(data))
}

func TestRunEachCommandPerSecret(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	env := testEnv(t, "ALPHA", "1", "BETA", "2")

	code, err := newTestExecutor().Run(context.Background(), Options{
		Each: `printf '%s={value}\n' {name} >> ` + out,
	}, env)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "ALPHA=1\nBETA=2\n", string(data))
}

func TestRunEachSecretAlias(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	env := testEnv(t, "ALPHA", "hunter2")

	_, err := newTestExecutor().Run(context.Background(), Options{
		Each: `printf '%s' {secret} > ` + out,
	}, env)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(data))
}

func TestRunEachFailureDoesNotAbort(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	env := testEnv(t, "ALPHA", "1", "BETA", "2")

	code, err := newTestExecutor().Run(context.Background(), Options{
		Each:    `test {name} != ALPHA && printf '%s\n' {name} >> ` + out,
		Command: "exit 0",
	}, env)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "BETA\n", string(data))
}

func TestRunEachUnknownPlaceholder(t *testing.T) {
	env := testEnv(t, "ALPHA", "1")

	_, err := newTestExecutor().Run(context.Background(), Options{
		Each: "echo {nope}",
	}, env)
	require.Error(t, err)
	var userErr verrors.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Message, "{nope}")
}

func TestBuildEnviron(t *testing.T) {
	t.Setenv("EXECENV_AMBIENT", "keep")
	t.Setenv("EXECENV_SHADOWED", "lose")
	env := testEnv(t, "EXECENV_SHADOWED", "win", "EXECENV_NEW", "fresh")

	environ, err := buildEnviron(env)
	require.NoError(t, err)

	joined := "\x00" + strings.Join(environ, "\x00") + "\x00"
	assert.Contains(t, joined, "\x00EXECENV_AMBIENT=keep\x00")
	assert.Contains(t, joined, "\x00EXECENV_SHADOWED=win\x00")
	assert.Contains(t, joined, "\x00EXECENV_NEW=fresh\x00")
	assert.NotContains(t, joined, "EXECENV_SHADOWED=lose")
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "(empty)", maskValue(""))
	assert.Equal(t, "**", maskValue("ab"))
	assert.Equal(t, "s****5", maskValue("s3cr35"))
	assert.Equal(t, "hun********r2", maskValue("hunter2hunter2"))
}
