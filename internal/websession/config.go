// Package websession fetches plan usage from the claude.ai web API using a
// browser session cookie.
package websession

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/macfox/tokline/internal/fsutil"
)

// Session is the persisted session config.
type Session struct {
	SessionKey     string `json:"sessionKey"`
	OrganizationID string `json:"organizationId,omitempty"`
}

func (s Session) Valid() bool {
	return strings.TrimSpace(s.SessionKey) != ""
}

// Redacted returns the key with everything but its tail masked.
func (s Session) Redacted() string {
	key := strings.TrimSpace(s.SessionKey)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 12) + key[len(key)-6:]
}

type ConfigStore struct {
	path string
}

func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: path}
}

func (s *ConfigStore) Path() string {
	return s.path
}

// Load returns a zero Session when the file does not exist.
func (s *ConfigStore) Load() (Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, nil
		}
		return Session{}, fmt.Errorf("read session config: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("parse session config %s: %w", s.path, err)
	}
	sess.SessionKey = strings.TrimSpace(sess.SessionKey)
	sess.OrganizationID = strings.TrimSpace(sess.OrganizationID)
	return sess, nil
}

func (s *ConfigStore) Save(sess Session) error {
	if !sess.Valid() {
		return errors.New("session key is empty")
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("save session config: %w", err)
	}
	return nil
}
