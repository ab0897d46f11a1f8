// Package config loads optional defaults from a YAML file. Flags and
// environment variables always take precedence over the file; the file only
// fills in values the invocation left unset.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	verrors "github.com/systmms/vault-inject/internal/errors"
)

// Config holds the defaults a user can persist instead of repeating them
// on every invocation. Secrets deliberately have no place here.
type Config struct {
	// VaultURL is the base URL of the Vault server.
	VaultURL string `yaml:"vault_url"`
	// AuthType is the default authentication method (userpass, ldap, token).
	AuthType string `yaml:"auth_type"`
	// AuthPath overrides the mount path of the auth method.
	AuthPath string `yaml:"auth_path"`
	// Username is the default login name for userpass and ldap.
	Username string `yaml:"username"`
	// CacheBackend selects where session tokens are cached (file, keyring).
	CacheBackend string `yaml:"cache_backend"`
	// TimeoutSeconds bounds each Vault request. Zero keeps the built-in default.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// NoColor disables colored diagnostics.
	NoColor bool `yaml:"no_color"`
}

// DefaultPath returns the conventional location of the defaults file,
// honoring the platform's user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determining config directory: %w", err)
	}
	return filepath.Join(dir, "vault-inject", "config.yaml"), nil
}

// Load reads the defaults file at path. A missing file is not an error when
// explicit is false (the conventional path simply may not exist); with
// explicit true the user asked for this exact file and gets told when it
// is absent. Unknown keys are rejected so typos do not silently lose
// settings.
func Load(path string, explicit bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &Config{}, nil
		}
		return nil, verrors.UserError{
			Message:    fmt.Sprintf("Failed to read the config file '%s'", path),
			Suggestion: "Check that the file exists and is readable",
			Err:        err,
		}
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, verrors.UserError{
			Message:    fmt.Sprintf("The config file '%s' is not valid", path),
			Suggestion: "Fix the YAML syntax or remove the unknown keys",
			Err:        err,
		}
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
