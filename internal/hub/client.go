package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"whispertune/internal/logging"
	"whispertune/internal/services"
)

const stageName = "hub"

// HTTPDoer describes the HTTP client used by the hub client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs hub API calls.
type Client struct {
	endpoint string
	tokens   TokenProvider
	http     HTTPDoer
	logger   *slog.Logger

	mu    sync.Mutex
	token string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "hub")
	}
}

// WithTimeout bounds how long the client waits for response headers. Bodies
// are not limited, so large shard downloads and LFS uploads are unaffected.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			transport := http.DefaultTransport.(*http.Transport).Clone()
			transport.ResponseHeaderTimeout = timeout
			c.http = &http.Client{Transport: transport}
		}
	}
}

// NewClient constructs a hub client. tokens may be nil for anonymous access.
func NewClient(endpoint string, tokens TokenProvider, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		tokens:   tokens,
		http:     http.DefaultClient,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the base URL without a trailing slash.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Account describes the authenticated identity.
type Account struct {
	Name     string `json:"name"`
	FullName string `json:"fullname"`
	Type     string `json:"type"`
	Orgs     []struct {
		Name string `json:"name"`
	} `json:"orgs"`
}

// WhoAmI verifies the token and returns the account it belongs to.
func (c *Client) WhoAmI(ctx context.Context) (Account, error) {
	token, err := c.requireToken(ctx)
	if err != nil {
		return Account{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/whoami-v2", nil)
	if err != nil {
		return Account{}, fmt.Errorf("build whoami request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Account{}, services.Wrap(services.ErrTransient, stageName, "whoami", "request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "whoami"); err != nil {
		return Account{}, err
	}
	var account Account
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return Account{}, fmt.Errorf("decode whoami response: %w", err)
	}
	return account, nil
}

// resolveToken resolves and caches the provider token. A missing token is not an
// error; anonymous requests are allowed for public resources.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" || c.tokens == nil {
		return c.token, nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return "", nil
		}
		return "", services.Wrap(services.ErrAuthentication, stageName, "resolve token", "", err)
	}
	c.token = token
	return token, nil
}

func (c *Client) requireToken(ctx context.Context) (string, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", services.Wrap(services.ErrAuthentication, stageName, "resolve token", "no hub token configured", ErrNoToken)
	}
	return token, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// checkStatus converts a non-2xx response into a marked error.
func checkStatus(resp *http.Response, operation string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	detail := fmt.Sprintf("status %d", resp.StatusCode)
	if msg := errorMessage(body); msg != "" {
		detail += ": " + msg
	}
	marker := services.ErrExternalTool
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		marker = services.ErrAuthentication
	case resp.StatusCode == http.StatusNotFound:
		marker = services.ErrNotFound
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		marker = services.ErrTimeout
	case resp.StatusCode >= 500:
		marker = services.ErrTransient
	}
	return services.Wrap(marker, stageName, operation, detail, nil)
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
