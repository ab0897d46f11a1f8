package errors

import (
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// AuthKind classifies authentication failures.
type AuthKind int

const (
	AuthInvalidCredentials AuthKind = iota
	AuthServiceUnreachable
	AuthMalformedResponse
)

// AuthError is a terminal authentication failure. No retry is attempted
// beyond what the HTTP client already does.
type AuthError struct {
	Method string
	Kind   AuthKind
	Err    error
}

func (e AuthError) Error() string {
	var what string
	switch e.Kind {
	case AuthInvalidCredentials:
		what = "invalid credentials"
	case AuthServiceUnreachable:
		what = "vault unreachable"
	case AuthMalformedResponse:
		what = "malformed login response"
	}
	msg := fmt.Sprintf("%s authentication failed: %s", e.Method, what)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// MountError indicates mount discovery failed.
type MountError struct {
	Err error
}

func (e MountError) Error() string {
	return "failed to discover secret mounts: " + e.Err.Error()
}

func (e MountError) Unwrap() error {
	return e.Err
}

// TemplateError is a malformed pattern or a substitution that references a
// placeholder with no binding.
type TemplateError struct {
	Pattern     string
	Placeholder string
	Message     string
}

func (e TemplateError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("template '%s': placeholder '%s' %s", e.Pattern, e.Placeholder, e.Message)
	}
	return fmt.Sprintf("template '%s': %s", e.Pattern, e.Message)
}

// FetchKind classifies secret fetch failures.
type FetchKind int

const (
	FetchUnknownMount FetchKind = iota
	FetchNotFound
	FetchPermissionDenied
	FetchServiceError
)

// FetchError is a failure to retrieve a secret at a concrete path.
type FetchError struct {
	Path string
	Kind FetchKind
	Err  error
}

func (e FetchError) Error() string {
	var msg string
	switch e.Kind {
	case FetchUnknownMount:
		msg = fmt.Sprintf("no known secret engine is mounted for path '/%s'", e.Path)
	case FetchNotFound:
		msg = fmt.Sprintf("no secret found at path '/%s'", e.Path)
	case FetchPermissionDenied:
		msg = fmt.Sprintf("permission denied reading path '/%s'", e.Path)
	default:
		msg = fmt.Sprintf("failed to read path '/%s'", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e FetchError) Unwrap() error {
	return e.Err
}

// PipelineError reports a filter stage that exited non-zero. Index is the
// 1-based position of the stage within its pipeline.
type PipelineError struct {
	Command  string
	Index    int
	ExitCode int
	Stderr   string
}

func (e PipelineError) Error() string {
	msg := fmt.Sprintf("filter %d ('%s') exited with status %d", e.Index, e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ":\n" + e.Stderr
	}
	return msg
}

// CollisionError means two mappings resolved the same environment variable
// name. Silent overwrite would make which secret ends up bound undefined,
// so resolution aborts before anything runs.
type CollisionError struct {
	Name       string
	FirstPath  string
	SecondPath string
}

func (e CollisionError) Error() string {
	return fmt.Sprintf("environment variable '%s' is produced by both '/%s' and '/%s'",
		e.Name, e.FirstPath, e.SecondPath)
}

// ExecError is a failure to spawn the main command.
type ExecError struct {
	Command string
	Err     error
}

func (e ExecError) Error() string {
	return fmt.Sprintf("failed to run the command '%s': %s", e.Command, e.Err.Error())
}

func (e ExecError) Unwrap() error {
	return e.Err
}
