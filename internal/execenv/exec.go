// Package execenv runs the optional per-secret --each commands and the
// main command with resolved secrets injected into its environment.
package execenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	verrors "github.com/systmms/vault-inject/internal/errors"
	"github.com/systmms/vault-inject/internal/logging"
	"github.com/systmms/vault-inject/internal/resolve"
	"github.com/systmms/vault-inject/internal/template"
)

// Executor runs commands with resolved secrets.
type Executor struct {
	logger *logging.Logger
}

// New creates a new executor
func New(logger *logging.Logger) *Executor {
	return &Executor{logger: logger}
}

// Options configures one execution.
type Options struct {
	// Command is the main command, run once through 'sh -c' with the
	// resolved variables in its environment. Empty means no main command.
	Command string
	// Each is a command template run once per resolved secret, with
	// {name}, {value} and the alias {secret} substituted into the text.
	Each string
	// Print lists the resolved variables (values masked) on the
	// diagnostic stream before anything runs.
	Print bool
}

// Run executes the each-commands and then the main command, returning the
// exit code the process should finish with. The error is only non-nil for
// failures of this tool itself; the main command's own non-zero exit is
// returned as a code with a nil error.
func (e *Executor) Run(ctx context.Context, opts Options, env resolve.EnvironmentMap) (int, error) {
	if opts.Print {
		e.printResolved(env)
	}

	if opts.Each != "" {
		if err := e.runEach(ctx, opts.Each, env); err != nil {
			return 0, err
		}
	}

	if opts.Command == "" {
		return 0, nil
	}
	return e.runMain(ctx, opts.Command, env)
}

// runEach runs the each-command once per secret in discovery order. Its
// streams are inherited so 'export $(vault-inject ...)' style usage works.
// A non-zero exit is reported but does not gate later runs or the main
// command; fatal resolution errors have already aborted by this point.
func (e *Executor) runEach(ctx context.Context, each string, env resolve.EnvironmentMap) error {
	tmpl, err := template.Parse(each)
	if err != nil {
		return err
	}
	for _, name := range tmpl.Names() {
		if name != "name" && name != "value" && name != "secret" {
			return verrors.UserError{
				Message:    fmt.Sprintf("The --each command references the unknown placeholder '{%s}'", name),
				Suggestion: "Available placeholders are {name}, {value} and {secret}",
			}
		}
	}

	for _, s := range env {
		err := s.Value.Reveal(func(value string) error {
			rendered, err := tmpl.Render(template.Bindings{
				"name":   s.Name,
				"value":  value,
				"secret": value,
			})
			if err != nil {
				return err
			}

			cmd := exec.CommandContext(ctx, "sh", "-c", rendered)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					e.logger.Warn("The command '%s' for '%s' exited with status %d", each, s.Name, exitErr.ExitCode())
					return nil
				}
				e.logger.Warn("Failed to run the command '%s' for '%s': %s", each, s.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runMain runs the main command exactly once and propagates its exit code
// verbatim.
func (e *Executor) runMain(ctx context.Context, command string, env resolve.EnvironmentMap) (int, error) {
	environ, err := buildEnviron(env)
	if err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = environ
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	e.logger.Debug("Executing command: %s", command)
	e.logger.Debug("Environment variables injected: %d", len(env))

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 0, verrors.ExecError{Command: command, Err: err}
	}
	return 0, nil
}

// buildEnviron merges the resolved secrets over the parent environment;
// resolved values win on a name collision with an ambient variable.
func buildEnviron(env resolve.EnvironmentMap) ([]string, error) {
	resolved := map[string]bool{}
	for _, s := range env {
		resolved[s.Name] = true
	}

	var environ []string
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && resolved[name] {
			continue
		}
		environ = append(environ, kv)
	}

	for _, s := range env {
		name := s.Name
		err := s.Value.Reveal(func(value string) error {
			environ = append(environ, name+"="+value)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return environ, nil
}

func (e *Executor) printResolved(env resolve.EnvironmentMap) {
	e.logger.Info("Resolved %d environment variables:", len(env))
	for _, s := range env {
		name := s.Name
		_ = s.Value.Reveal(func(value string) error {
			e.logger.Info("  %s=%s (from /%s)", name, maskValue(value), s.OriginPath)
			return nil
		})
	}
}

// maskValue masks a secret value for display
func maskValue(value string) string {
	if len(value) == 0 {
		return "(empty)"
	}
	if len(value) <= 3 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	}
	return value[:3] + strings.Repeat("*", 8) + value[len(value)-2:]
}
