package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	verrors "github.com/systmms/vault-inject/internal/errors"
	"github.com/systmms/vault-inject/internal/logging"
)

// Method is a supported authentication method. The set is closed; each
// method carries only the credential fields it needs.
type Method int

const (
	MethodUserPass Method = iota
	MethodLDAP
	MethodToken
)

// ParseMethod converts a string into a Method, accepting a few aliases for
// username/password authentication.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "ldap":
		return MethodLDAP, nil
	case "token":
		return MethodToken, nil
	case "userpass", "user-pass", "username-password", "username", "user":
		return MethodUserPass, nil
	default:
		return 0, fmt.Errorf("'%s' is not a valid authentication type (try 'ldap', 'userpass' or 'token')", s)
	}
}

func (m Method) String() string {
	switch m {
	case MethodLDAP:
		return "ldap"
	case MethodToken:
		return "token"
	default:
		return "userpass"
	}
}

// defaultMount is the auth mount Vault enables the method under by default.
func (m Method) defaultMount() string {
	return m.String()
}

// Credentials are the inputs for one login attempt. Username and Password
// are used by userpass/ldap, Token by the token method.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Session is an authenticated Vault session for one invocation.
type Session struct {
	Token     string
	ExpiresAt time.Time // zero for static tokens
	Method    Method
	Principal string
}

// TokenCache is the subset of the persisted token cache the authenticator
// consults. Implementations must treat expired entries as absent.
type TokenCache interface {
	Lookup(serverURL, method, principal string) (token string, ok bool)
	Store(serverURL, method, principal, token string, expiresAt time.Time) error
}

// CachePolicy gates reads and writes of the token cache independently.
type CachePolicy struct {
	Read  bool
	Write bool
}

// Authenticator produces a Session from credentials, consulting the token
// cache first when the policy allows.
type Authenticator struct {
	client    *Client
	cache     TokenCache
	policy    CachePolicy
	authMount string // overrides the method's default auth mount
	logger    *logging.Logger
}

// NewAuthenticator creates an authenticator. cache may be nil to disable
// caching entirely; authMount may be empty to use the method's default.
func NewAuthenticator(client *Client, cache TokenCache, policy CachePolicy, authMount string, logger *logging.Logger) *Authenticator {
	return &Authenticator{
		client:    client,
		cache:     cache,
		policy:    policy,
		authMount: authMount,
		logger:    logger,
	}
}

// Authenticate returns a session token for the given method and credentials.
//
// A valid cached token short-circuits the network login. Cache failures are
// soft: they degrade to a fresh login rather than aborting.
func (a *Authenticator) Authenticate(ctx context.Context, method Method, creds Credentials) (Session, error) {
	if method == MethodToken {
		if creds.Token == "" {
			return Session{}, verrors.AuthError{
				Method: method.String(),
				Kind:   verrors.AuthInvalidCredentials,
				Err:    errors.New("no token provided"),
			}
		}
		// A static token has no lease we can observe, so nothing is cached.
		return Session{Token: creds.Token, Method: method}, nil
	}

	if a.cache != nil && a.policy.Read {
		if token, ok := a.cache.Lookup(a.client.config.Address, method.String(), creds.Username); ok {
			a.logger.Debug("Using cached token for %s@%s", creds.Username, a.client.config.Address)
			return Session{Token: token, Method: method, Principal: creds.Username}, nil
		}
	}

	session, err := a.login(ctx, method, creds)
	if err != nil {
		return Session{}, err
	}
	a.logger.Debug("Logged in as %s (token %s)", creds.Username, logging.Secret(session.Token))

	if a.cache != nil && a.policy.Write {
		err := a.cache.Store(a.client.config.Address, method.String(), session.Principal, session.Token, session.ExpiresAt)
		if err != nil {
			a.logger.Debug("Could not persist token to cache: %s", err)
		}
	}

	return session, nil
}

func (a *Authenticator) login(ctx context.Context, method Method, creds Credentials) (Session, error) {
	mount := a.authMount
	if mount == "" {
		mount = method.defaultMount()
	}
	mount = strings.Trim(mount, "/")
	path := fmt.Sprintf("auth/%s/login/%s", mount, creds.Username)

	var resp struct {
		Auth struct {
			ClientToken   string `json:"client_token"`
			LeaseDuration int    `json:"lease_duration"`
		} `json:"auth"`
	}
	err := a.client.post(ctx, path, map[string]interface{}{"password": creds.Password}, &resp)
	if err != nil {
		return Session{}, classifyAuthErr(method, err)
	}
	if resp.Auth.ClientToken == "" {
		return Session{}, verrors.AuthError{
			Method: method.String(),
			Kind:   verrors.AuthMalformedResponse,
			Err:    errors.New("no client token in the login response"),
		}
	}

	session := Session{
		Token:     resp.Auth.ClientToken,
		Method:    method,
		Principal: creds.Username,
	}
	if resp.Auth.LeaseDuration > 0 {
		session.ExpiresAt = time.Now().Add(time.Duration(resp.Auth.LeaseDuration) * time.Second)
	}
	return session, nil
}

func classifyAuthErr(method Method, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		kind := verrors.AuthServiceUnreachable
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			kind = verrors.AuthInvalidCredentials
		}
		return verrors.AuthError{Method: method.String(), Kind: kind, Err: err}
	}
	var tErr *transportError
	if errors.As(err, &tErr) {
		return verrors.AuthError{Method: method.String(), Kind: verrors.AuthServiceUnreachable, Err: err}
	}
	return verrors.AuthError{Method: method.String(), Kind: verrors.AuthMalformedResponse, Err: err}
}
