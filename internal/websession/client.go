package websession

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/macfox/tokline/internal/fetcherr"
	"github.com/macfox/tokline/internal/usage"
)

const (
	DefaultBaseURL   = "https://claude.ai"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) tokline/1.0"

	maxBodyBytes = 1 << 20
)

type Organization struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: DefaultUserAgent,
		http:      httpClient,
	}
}

func (c *Client) Organizations(ctx context.Context, sessionKey string) ([]Organization, error) {
	body, err := c.get(ctx, sessionKey, "/api/organizations")
	if err != nil {
		return nil, err
	}
	var orgs []Organization
	if err := json.Unmarshal(body, &orgs); err != nil {
		return nil, fetcherr.Parse("organizations: %v", err)
	}
	return orgs, nil
}

// ResolveOrganization picks the first organization with chat access, or the
// first one listed.
func (c *Client) ResolveOrganization(ctx context.Context, sessionKey string) (string, error) {
	orgs, err := c.Organizations(ctx, sessionKey)
	if err != nil {
		return "", err
	}
	for _, org := range orgs {
		for _, capability := range org.Capabilities {
			if capability == "chat" && org.UUID != "" {
				return org.UUID, nil
			}
		}
	}
	for _, org := range orgs {
		if org.UUID != "" {
			return org.UUID, nil
		}
	}
	return "", fetcherr.Parse("organizations: no organization id in response")
}

func (c *Client) Usage(ctx context.Context, sessionKey, orgID string) (*usage.Limits, error) {
	body, err := c.get(ctx, sessionKey, "/api/organizations/"+url.PathEscape(orgID)+"/usage")
	if err != nil {
		return nil, err
	}
	return usage.ParseLimits(body)
}

func (c *Client) get(ctx context.Context, sessionKey, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.AddCookie(&http.Cookie{Name: "sessionKey", Value: sessionKey})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fetcherr.Transient("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fetcherr.Transient("read %s: %v", path, err)
	}
	if err := classifyResponse(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return body, nil
}

// classifyResponse maps a non-success response onto the failure taxonomy.
// Session problems surface either as 401/403 or as an auth-typed error body.
func classifyResponse(status int, body []byte) error {
	errType, msg := extractErrorFromBody(body)
	if status >= 200 && status < 300 && errType == "" {
		return nil
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden || isSessionError(errType, msg) {
		detail := strings.TrimSpace(errType + " " + msg)
		if detail == "" {
			detail = http.StatusText(status)
		}
		return fmt.Errorf("%w (%s)", fetcherr.ErrSessionExpired, detail)
	}
	if errType != "" {
		return fetcherr.Transient("status %d: %s: %s", status, errType, msg)
	}
	return fetcherr.Transient("status %d", status)
}

func isSessionError(errType, msg string) bool {
	switch errType {
	case "authentication_error", "permission_error", "account_session_invalid":
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "session") && (strings.Contains(lower, "expired") || strings.Contains(lower, "invalid"))
}

func extractErrorFromBody(body []byte) (string, string) {
	if len(body) == 0 {
		return "", ""
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	if errObj, ok := payload["error"].(map[string]any); ok {
		return asString(errObj["type"]), asString(errObj["message"])
	}
	return "", ""
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
