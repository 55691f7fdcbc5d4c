package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/macfox/tokline/internal/fetcherr"
	"github.com/macfox/tokline/internal/usage"
)

const (
	DefaultEndpoint  = "https://api.anthropic.com/api/oauth/usage"
	DefaultBeta      = "oauth-2025-04-20"
	DefaultUserAgent = "tokline/1.0"

	maxBodyBytes = 1 << 20
)

type Config struct {
	Endpoint  string
	Beta      string
	UserAgent string
	Timeout   time.Duration
}

type Client struct {
	cfg   Config
	http  *http.Client
	creds *Credentials

	// OnUnauthorized runs after a 401 has invalidated the credentials.
	OnUnauthorized func()
}

func NewClient(cfg Config, creds *Credentials, httpClient *http.Client) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Beta == "" {
		cfg.Beta = DefaultBeta
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, creds: creds}
}

func (c *Client) Fetch(ctx context.Context) (*usage.Limits, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", c.cfg.Beta)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fetcherr.Transient("oauth usage request: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fetcherr.Transient("read oauth usage body: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.creds.Invalidate(token)
		if c.OnUnauthorized != nil {
			c.OnUnauthorized()
		}
		return nil, fmt.Errorf("oauth usage: %w", fetcherr.ErrTokenExpired)
	case resp.StatusCode != http.StatusOK:
		return nil, fetcherr.Transient("oauth usage status %d: %s", resp.StatusCode, snippet(body))
	}
	return usage.ParseLimits(body)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}
