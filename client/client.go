// Package client talks to the storefront auth API on behalf of a single browser-like session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"golang.org/x/oauth2"
)

const (
	loginPath   = "/api/auth/login"
	refreshPath = "/api/auth/refresh"
	logoutPath  = "/api/auth/logout"

	// RefreshEarly is how long before expiry TokenSource refreshes the access token.
	RefreshEarly = time.Minute
)

// Client keeps the session cookie between calls, so refreshes stay bound to the login's session.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithTransport replaces the transport used for API calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

func New(baseURL string, options ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("client.New: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Jar: jar, Timeout: 30 * time.Second},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
}

func (tr tokenResponse) token() *oauth2.Token {
	expiry := tr.ExpiresAt
	if expiry.IsZero() && tr.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		Expiry:       expiry,
	}
}

// Login authenticates and returns the first access token. The refresh token field carries
// the refresh token id the session is bound to.
func (c *Client) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	return c.tokenRequest(ctx, loginPath, "", body)
}

// Refresh exchanges current, which may have expired, for a new access token.
func (c *Client) Refresh(ctx context.Context, current *oauth2.Token) (*oauth2.Token, error) {
	bearer := ""
	if current != nil {
		bearer = current.AccessToken
	}
	return c.tokenRequest(ctx, refreshPath, bearer, nil)
}

// Logout revokes the session's refresh token id.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+logoutPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client.Logout: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp.StatusCode)
	}
	return nil
}

func (c *Client) tokenRequest(ctx context.Context, path, bearer string, body []byte) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("client %s: failed to decode token response: %w", path, err)
	}
	return tr.token(), nil
}

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case http.StatusTooManyRequests:
		return apperrors.ErrRateLimited
	default:
		return fmt.Errorf("%w: unexpected status %d", apperrors.ErrInternal, status)
	}
}

// refresher is the oauth2.TokenSource behind TokenSource.
type refresher struct {
	ctx    context.Context
	client *Client

	mu      sync.Mutex
	current *oauth2.Token
}

func (r *refresher) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.client.Refresh(r.ctx, r.current)
	if err != nil {
		return nil, err
	}
	r.current = next
	return next, nil
}

// TokenSource reuses initial until RefreshEarly before its expiry and then refreshes it through
// the session.
func (c *Client) TokenSource(ctx context.Context, initial *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(initial, &refresher{ctx: ctx, client: c, current: initial}, RefreshEarly)
}

// HTTPClient returns a client that sends the session cookie and a current bearer token on every request.
func (c *Client) HTTPClient(ts oauth2.TokenSource) *http.Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Jar:       c.httpClient.Jar,
		Timeout:   c.httpClient.Timeout,
		Transport: &oauth2.Transport{Source: ts, Base: base},
	}
}
