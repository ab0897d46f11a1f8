// Package mapping parses the --secret mini-language:
//
//	ENV_TEMPLATE = /path/to/secret/KEY_TEMPLATE [| filter-cmd]*
//
// The environment variable side and the final path segment may contain
// {name} placeholders. Bindings flow from the key match to the environment
// variable name, so every placeholder used on the left must appear in the
// key segment.
package mapping

import (
	"fmt"
	"strings"

	verrors "github.com/systmms/vault-inject/internal/errors"
	"github.com/systmms/vault-inject/internal/template"
)

// Mapping is one parsed --secret entry. Immutable once parsed.
type Mapping struct {
	// EnvVar is the environment variable name template.
	EnvVar *template.Template
	// Path is the secret path prefix with the final segment removed and
	// the leading '/' stripped.
	Path string
	// Key is the final path segment, matched against the field keys found
	// at Path.
	Key *template.Template
	// Filters are the shell commands the value is piped through, in order.
	Filters []string
}

// Parse parses one --secret string.
func Parse(s string) (*Mapping, error) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return nil, verrors.UserError{
			Message:    fmt.Sprintf("Expected secrets of the form 'ENV_VAR=path/to/secret/key' but got '%s'", s),
			Suggestion: "Separate the environment variable from the secret path with '='",
		}
	}

	envVarStr := strings.TrimSpace(s[:idx])
	secretStr := s[idx+1:]

	bits := strings.Split(secretStr, "|")
	for i := range bits {
		bits[i] = strings.TrimSpace(bits[i])
	}
	for i, cmd := range bits {
		if i > 0 && cmd == "" {
			return nil, verrors.UserError{
				Message: fmt.Sprintf("Every '|' must forward to a command, but command %d of '%s' is missing", i, s),
			}
		}
	}

	pathAndKey := bits[0]
	filters := bits[1:]

	pathStr, keyStr, ok := splitPathAndKey(pathAndKey)
	if !ok {
		return nil, verrors.UserError{
			Message:    fmt.Sprintf("Expected the secret path to have at least one '/' in it but got '%s'", pathAndKey),
			Suggestion: "Secret paths look like '/mount/path/to/secret/key'",
		}
	}

	key, err := template.Parse(keyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid key template '%s': %w", keyStr, err)
	}
	envVar, err := template.Parse(envVarStr)
	if err != nil {
		return nil, fmt.Errorf("invalid environment variable template '%s': %w", envVarStr, err)
	}
	if !envVar.CanRenderFrom(key) {
		return nil, verrors.UserError{
			Message: fmt.Sprintf("The environment variable pattern '%s' contains template parameters not seen in the corresponding key '%s'", envVarStr, keyStr),
		}
	}

	return &Mapping{
		EnvVar:  envVar,
		Path:    strings.TrimLeft(pathStr, "/"),
		Key:     key,
		Filters: filters,
	}, nil
}

// ParseAll parses every --secret string, failing on the first invalid one.
func ParseAll(specs []string) ([]*Mapping, error) {
	mappings := make([]*Mapping, 0, len(specs))
	for _, s := range specs {
		m, err := Parse(s)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// EnvVarFromKey returns the environment variable name for a key that matches
// this mapping's key template, or false if the key does not match.
func (m *Mapping) EnvVarFromKey(key string) (string, bool) {
	b, ok := m.Key.Match(key)
	if !ok {
		return "", false
	}
	name, err := m.EnvVar.Render(b)
	if err != nil {
		// Parse guarantees env placeholders are a subset of key placeholders.
		return "", false
	}
	return name, true
}

// splitPathAndKey splits on the last '/'. The path part must be non-empty
// after stripping the leading '/'.
func splitPathAndKey(s string) (path, key string, ok bool) {
	idx := strings.LastIndexByte(s, '/')
	if idx <= 0 {
		return "", "", false
	}
	if strings.TrimLeft(s[:idx], "/") == "" {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
