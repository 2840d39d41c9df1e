// Package credential exchanges the local token proxy for a short-lived
// realtime client secret.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"
)

// DefaultTokenURL is the proxy endpoint used when none is configured.
const DefaultTokenURL = "http://localhost:3000/token"

// MisconfiguredCode is the machine readable code the proxy returns when it
// has no upstream key.
const MisconfiguredCode = "server_misconfigured"

// Credential is an ephemeral client secret.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Fetcher fetches credentials.
type Fetcher interface {
	Fetch(ctx context.Context) (Credential, error)
}

// Client fetches credentials from the token proxy.
type Client struct {
	url        string
	clientKey  string
	httpClient *http.Client
	log        pslog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithURL overrides the token URL.
func WithURL(url string) Option {
	return func(c *Client) {
		if strings.TrimSpace(url) != "" {
			c.url = strings.TrimSpace(url)
		}
	}
}

// WithClientKey sends key as a bearer token to the proxy.
func WithClientKey(key string) Option {
	return func(c *Client) { c.clientKey = strings.TrimSpace(key) }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// New constructs a Client.
func New(opts ...Option) *Client {
	c := &Client{
		url:        DefaultTokenURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	Value     *string `json:"value"`
	ExpiresAt int64   `json:"expires_at,omitempty"`
}

type proxyError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Fetch performs one token request. It never retries.
func (c *Client) Fetch(ctx context.Context) (Credential, error) {
	log := c.log
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(nil))
	if err != nil {
		return Credential{}, &Error{Kind: KindUnreachable, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.clientKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.clientKey)
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("credential fetch failed", "url", c.url, "err", err)
		return Credential{}, &Error{Kind: KindUnreachable, Message: fmt.Sprintf("Token server unreachable: %v", err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, &Error{Kind: KindUnreachable, Status: resp.StatusCode, Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		credErr := classifyFailure(resp.StatusCode, body)
		log.Warn("credential fetch rejected", "status", resp.StatusCode, "kind", credErr.Kind, "err", credErr.Message)
		return Credential{}, credErr
	}
	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Value == nil || strings.TrimSpace(*parsed.Value) == "" {
		log.Warn("credential fetch malformed", "status", resp.StatusCode, "bytes", len(body))
		return Credential{}, &Error{Kind: KindMalformedResponse, Status: resp.StatusCode, Body: string(body), Message: "Invalid token response from server", Err: err}
	}
	cred := Credential{Value: *parsed.Value}
	if parsed.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(parsed.ExpiresAt, 0)
	}
	log.Debug("credential fetch ok", "duration_ms", time.Since(start).Milliseconds(), "expires_at", cred.ExpiresAt)
	return cred, nil
}

func classifyFailure(status int, body []byte) *Error {
	out := &Error{Kind: KindUpstreamRejected, Status: status, Body: string(body)}
	var parsed proxyError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		out.Message = parsed.Error
		if parsed.Code == MisconfiguredCode || strings.Contains(parsed.Error, "API key not configured") {
			out.Kind = KindServerMisconfigured
		}
	}
	if out.Message == "" {
		out.Message = fmt.Sprintf("Token server error: %d", status)
	}
	return out
}
