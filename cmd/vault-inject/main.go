package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/vault-inject/internal/cache"
	"github.com/systmms/vault-inject/internal/config"
	verrors "github.com/systmms/vault-inject/internal/errors"
	"github.com/systmms/vault-inject/internal/execenv"
	"github.com/systmms/vault-inject/internal/logging"
	"github.com/systmms/vault-inject/internal/mapping"
	"github.com/systmms/vault-inject/internal/pipeline"
	"github.com/systmms/vault-inject/internal/resolve"
	"github.com/systmms/vault-inject/internal/secure"
	"github.com/systmms/vault-inject/internal/vault"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		secure.Purge()
		os.Exit(1)
	}
	secure.Purge()
	os.Exit(code)
}

func run() (int, error) {
	opts := &options{}
	exitCode := 0

	rootCmd := &cobra.Command{
		Use:   "vault-inject",
		Short: "Run commands with secrets from Vault in their environment",
		Long: `vault-inject authenticates against a Vault server, resolves secret
mappings into environment variables and runs a command with those
variables injected. Secrets never touch the shell history or disk.

Mappings have the form ENV_VAR=/path/to/secret/key with optional
filter commands, e.g.:

  vault-inject \
    --vault-url https://vault.example.com \
    --auth-type userpass --username alice \
    --secret 'DB_PASSWORD=/secret/db/password | base64' \
    --command 'psql -h db.example.com'

Placeholders like {name} in both sides of a mapping fan one mapping
out over every matching key of the secret.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := opts.execute(cmd)
			exitCode = code
			return err
		},
	}

	opts.register(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		return 0, err
	}
	return exitCode, nil
}

// options carries the raw flag values before defaulting and validation.
type options struct {
	vaultURL     string
	authType     string
	authPath     string
	username     string
	password     string
	token        string
	secrets      []string
	command      string
	each         string
	noCacheRead  bool
	noCacheWrite bool
	cacheBackend string
	timeout      int
	printVars    bool
	debug        bool
	noColor      bool
	configFile   string
}

func (o *options) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.vaultURL, "vault-url", "", "Vault server URL (or VAULT_ADDR)")
	flags.StringVar(&o.authType, "auth-type", "", "Authentication method: userpass, ldap or token")
	flags.StringVar(&o.authPath, "auth-path", "", "Mount path of the auth method, if not the default")
	flags.StringVar(&o.username, "username", "", "Login name for userpass/ldap (prompted if omitted)")
	flags.StringVar(&o.password, "password", "", "Password for userpass/ldap (prompted if omitted)")
	flags.StringVar(&o.token, "token", "", "Vault token for token auth (prompted if omitted)")
	flags.StringArrayVarP(&o.secrets, "secret", "s", nil, "Secret mapping ENV_VAR=/path/to/key [| filter]... (repeatable)")
	flags.StringVarP(&o.command, "command", "c", "", "Command to run with the secrets in its environment")
	flags.StringVar(&o.each, "each", "", "Command to run once per secret, with {name} and {value} substituted")
	flags.BoolVar(&o.noCacheRead, "no-cache-read", false, "Skip the cached session token and log in fresh")
	flags.BoolVar(&o.noCacheWrite, "no-cache-write", false, "Do not persist the session token")
	flags.StringVar(&o.cacheBackend, "cache-backend", "", "Where to cache session tokens: file or keyring")
	flags.IntVar(&o.timeout, "timeout", 0, "Per-request timeout in seconds")
	flags.BoolVar(&o.printVars, "print", false, "List the resolved variables (values masked) before running")
	flags.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&o.configFile, "config", "", "Path to the defaults file")
}

func (o *options) execute(cmd *cobra.Command) (int, error) {
	cfg, err := o.loadDefaults(cmd)
	if err != nil {
		return 0, err
	}
	o.applyDefaults(cmd, cfg)

	logger := logging.New(o.debug, o.noColor)

	if len(o.secrets) == 0 {
		return 0, verrors.UserError{
			Message:    "No secrets specified",
			Suggestion: "Add at least one --secret 'ENV_VAR=/path/to/secret/key' mapping",
		}
	}
	if o.vaultURL == "" {
		return 0, verrors.UserError{
			Message:    "No Vault server specified",
			Suggestion: "Pass --vault-url or set VAULT_ADDR",
		}
	}

	mappings, err := mapping.ParseAll(o.secrets)
	if err != nil {
		return 0, err
	}

	method, err := vault.ParseMethod(o.authType)
	if err != nil {
		return 0, verrors.UserError{
			Message:    "Invalid authentication type",
			Details:    err.Error(),
			Suggestion: "Use --auth-type with 'userpass', 'ldap' or 'token'",
		}
	}

	creds, err := o.credentials(method)
	if err != nil {
		return 0, err
	}

	client := vault.NewClient(vault.Config{
		Address: o.vaultURL,
		Timeout: time.Duration(o.timeout) * time.Second,
	})

	tokenCache, err := o.openCache(logger)
	if err != nil {
		return 0, err
	}
	policy := vault.CachePolicy{Read: !o.noCacheRead, Write: !o.noCacheWrite}

	ctx := context.Background()

	auth := vault.NewAuthenticator(client, tokenCache, policy, o.authPath, logger)
	session, err := auth.Authenticate(ctx, method, creds)
	if err != nil {
		return 0, err
	}
	logger.Debug("Authenticated against %s via %s", o.vaultURL, method)

	client = client.WithToken(session.Token)

	mounts, err := vault.DiscoverMounts(ctx, client)
	if err != nil {
		return 0, err
	}
	store := vault.NewStore(client, mounts)

	resolver := resolve.New(store, pipeline.New(), logger)
	env, err := resolver.Resolve(ctx, mappings)
	if err != nil {
		return 0, err
	}
	defer env.Destroy()
	logger.Debug("Resolved %d environment variables", len(env))

	executor := execenv.New(logger)
	return executor.Run(ctx, execenv.Options{
		Command: o.command,
		Each:    o.each,
		Print:   o.printVars,
	}, env)
}

// loadDefaults reads the YAML defaults file. An explicit --config must
// exist; the conventional path may be absent.
func (o *options) loadDefaults(cmd *cobra.Command) (*config.Config, error) {
	path := o.configFile
	explicit := cmd.Flags().Changed("config")
	if !explicit {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return &config.Config{}, nil
		}
	}
	return config.Load(path, explicit)
}

// applyDefaults fills unset options, in order: environment variable, then
// the defaults file, then the built-in default. Flags set on the command
// line are never overridden.
func (o *options) applyDefaults(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	fill := func(flag string, dst *string, envVars []string, fileValue, fallback string) {
		if flags.Changed(flag) {
			return
		}
		for _, name := range envVars {
			if v := os.Getenv(name); v != "" {
				*dst = v
				return
			}
		}
		if fileValue != "" {
			*dst = fileValue
			return
		}
		*dst = fallback
	}

	fill("vault-url", &o.vaultURL, []string{"VAULT_ADDR"}, cfg.VaultURL, "")
	fill("auth-type", &o.authType, []string{"VAULT_INJECT_AUTH_TYPE"}, cfg.AuthType, "token")
	fill("auth-path", &o.authPath, []string{"VAULT_INJECT_AUTH_PATH"}, cfg.AuthPath, "")
	fill("username", &o.username, []string{"VAULT_INJECT_USERNAME"}, cfg.Username, "")
	fill("password", &o.password, []string{"VAULT_INJECT_PASSWORD"}, "", "")
	fill("token", &o.token, []string{"VAULT_INJECT_TOKEN", "VAULT_TOKEN"}, "", "")
	fill("cache-backend", &o.cacheBackend, nil, cfg.CacheBackend, "file")

	if !flags.Changed("timeout") && cfg.TimeoutSeconds > 0 {
		o.timeout = cfg.TimeoutSeconds
	}
	if !flags.Changed("no-color") && cfg.NoColor {
		o.noColor = true
	}
}

// credentials completes the credential set for the chosen method,
// prompting interactively for anything still missing.
func (o *options) credentials(method vault.Method) (vault.Credentials, error) {
	creds := vault.Credentials{
		Username: o.username,
		Password: o.password,
		Token:    o.token,
	}

	switch method {
	case vault.MethodToken:
		if creds.Token == "" {
			token, err := promptSecret("Vault token: ")
			if err != nil {
				return creds, err
			}
			creds.Token = strings.TrimSpace(token)
		}
	default:
		if creds.Username == "" {
			username, err := promptLine("Username: ")
			if err != nil {
				return creds, err
			}
			creds.Username = strings.TrimSpace(username)
		}
		if creds.Username == "" {
			return creds, verrors.UserError{
				Message:    "No username specified",
				Suggestion: "Pass --username or set VAULT_INJECT_USERNAME",
			}
		}
		if creds.Password == "" {
			password, err := promptSecret(fmt.Sprintf("Password for %s: ", creds.Username))
			if err != nil {
				return creds, err
			}
			creds.Password = password
		}
	}
	return creds, nil
}

func (o *options) openCache(logger *logging.Logger) (vault.TokenCache, error) {
	if o.noCacheRead && o.noCacheWrite {
		return nil, nil
	}
	backend, err := cache.Open(o.cacheBackend, "")
	if err != nil {
		return nil, verrors.UserError{
			Message:    "Failed to open the token cache",
			Details:    err.Error(),
			Suggestion: "Check --cache-backend, or disable caching with --no-cache-read --no-cache-write",
			Err:        err,
		}
	}
	logger.Debug("Using %s token cache", o.cacheBackend)
	return backend, nil
}
