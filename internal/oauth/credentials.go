// Package oauth reads Claude Code's OAuth token and queries the plan usage
// endpoint with it.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/macfox/tokline/internal/fetcherr"
)

const CredentialsFile = ".credentials.json"

type credentialsDoc struct {
	ClaudeAiOauth *struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken,omitempty"`
		ExpiresAt    int64  `json:"expiresAt,omitempty"`
	} `json:"claudeAiOauth"`
}

// KeychainFunc returns the raw credentials JSON stored by the OS keychain.
type KeychainFunc func(ctx context.Context) ([]byte, error)

// Credentials memoizes the access token. A token rejected by the endpoint is
// remembered and treated as absent until a different token shows up.
type Credentials struct {
	path     string
	keychain KeychainFunc

	mu       sync.Mutex
	token    string
	rejected string
}

// NewCredentials reads path first and falls back to keychain (nil disables
// the fallback).
func NewCredentials(path string, keychain KeychainFunc) *Credentials {
	return &Credentials{path: path, keychain: keychain}
}

// NewDefaultCredentials uses the platform keychain where one exists.
func NewDefaultCredentials(path string) *Credentials {
	return NewCredentials(path, readKeychain)
}

func (c *Credentials) Path() string {
	return c.path
}

func (c *Credentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.read(ctx)
	if err != nil {
		return "", err
	}
	if token == c.rejected {
		return "", fmt.Errorf("%w: stored oauth token was rejected", fetcherr.ErrUnavailable)
	}
	c.token = token
	return token, nil
}

// Available reports whether a usable token exists.
func (c *Credentials) Available(ctx context.Context) bool {
	_, err := c.Token(ctx)
	return err == nil
}

// Invalidate drops the memo and marks token as rejected.
func (c *Credentials) Invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	if token != "" {
		c.rejected = token
	}
}

// Reset drops the memo so the next Token call re-reads storage.
func (c *Credentials) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *Credentials) read(ctx context.Context) (string, error) {
	data, err := os.ReadFile(c.path)
	if err == nil {
		if token := parseToken(data); token != "" {
			return token, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: read credentials: %v", fetcherr.ErrUnavailable, err)
	}
	if c.keychain != nil {
		if raw, kerr := c.keychain(ctx); kerr == nil {
			if token := parseToken(raw); token != "" {
				return token, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no oauth access token in %s", fetcherr.ErrUnavailable, c.path)
}

func parseToken(data []byte) string {
	var doc credentialsDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.ClaudeAiOauth == nil {
		return ""
	}
	return strings.TrimSpace(doc.ClaudeAiOauth.AccessToken)
}
