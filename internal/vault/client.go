// Package vault is a small client for the parts of the Vault HTTP API this
// tool needs: login endpoints, mount discovery, and KV2/cubbyhole reads.
package vault

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

// Config holds connection settings for a Vault server.
type Config struct {
	Address   string
	Namespace string
	Timeout   time.Duration
	TLSSkip   bool
}

// Client makes authenticated JSON requests against one Vault server.
type Client struct {
	config Config
	token  string
	http   *http.Client
}

// NewClient creates a client with no token attached.
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	if config.TLSSkip {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		config: config,
		http:   httpClient,
	}
}

// WithToken returns a copy of the client that sends the given token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// apiError is a non-2xx response, carrying Vault's error envelope when the
// body had one.
type apiError struct {
	Status   int
	Messages []string
}

func (e *apiError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("vault returned status %d: %s", e.Status, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("vault returned status %d", e.Status)
}

// transportError is a request that never produced a response.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "failed to reach vault: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.request(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.request(ctx, http.MethodPost, path, body, out)
}

func (c *Client) request(ctx context.Context, method, path string, body, out interface{}) error {
	url := apiURL(c.config.Address, path)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request to '%s': %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Vault-Token", c.token)
	}
	if c.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.config.Namespace)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		var envelope struct {
			Errors []string `json:"errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			apiErr.Messages = envelope.Errors
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from '%s': %w", path, err)
		}
	}
	return nil
}

// apiURL joins the server address and an API path under /v1/, tolerating
// stray slashes on either side and a path prefix on the address.
func apiURL(address, path string) string {
	return strings.TrimRight(address, "/") + "/v1/" + strings.Trim(path, "/")
}
