package websession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/macfox/tokline/internal/fetcherr"
)

// ErrThrottled means a re-resolution was skipped because one ran recently.
var ErrThrottled = errors.New("session re-resolution throttled")

// Resolver finds a session key: memo first, then the config file, then the
// browser helper. Keys found by the helper are written back to the config.
// throttle limits re-resolution after a rejected key; helperGate limits
// helper runs when no session is configured at all, so a machine without a
// browser session does not pay for the helper on every render.
type Resolver struct {
	store      *ConfigStore
	helper     Helper
	throttle   *Throttle
	helperGate *Throttle
	logger     *slog.Logger

	mu   sync.Mutex
	memo Session
}

// NewResolver accepts nil throttles, which disable the corresponding limit.
func NewResolver(store *ConfigStore, helper Helper, throttle, helperGate *Throttle, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{store: store, helper: helper, throttle: throttle, helperGate: helperGate, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memo.Valid() {
		return r.memo, nil
	}
	sess, err := r.resolveLocked(ctx, "", r.helperGate)
	if err != nil {
		return Session{}, err
	}
	r.memo = sess
	return sess, nil
}

// Available adapts Resolve to a probe check.
func (r *Resolver) Available(ctx context.Context) bool {
	_, err := r.Resolve(ctx)
	return err == nil
}

// Reset drops the memo.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = Session{}
}

// Reresolve forgets rejected and looks for a different key, at most once per
// throttle interval.
func (r *Resolver) Reresolve(ctx context.Context, rejected string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = Session{}
	if r.throttle != nil && !r.throttle.Allow() {
		return Session{}, ErrThrottled
	}
	sess, err := r.resolveLocked(ctx, rejected, nil)
	if err != nil {
		return Session{}, err
	}
	r.memo = sess
	r.logger.Info("web session re-resolved")
	return sess, nil
}

// SetOrganization records a lazily resolved organization id for key.
func (r *Resolver) SetOrganization(key, orgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := Session{SessionKey: key, OrganizationID: orgID}
	if r.memo.SessionKey == key {
		r.memo.OrganizationID = orgID
	}
	return r.store.Save(sess)
}

func (r *Resolver) resolveLocked(ctx context.Context, rejected string, gate *Throttle) (Session, error) {
	stored, err := r.store.Load()
	if err != nil {
		r.logger.Warn("load session config", "error", err)
	}
	if stored.Valid() && stored.SessionKey != rejected {
		return stored, nil
	}
	if r.helper == nil {
		return Session{}, fmt.Errorf("%w: no web session configured", fetcherr.ErrUnavailable)
	}
	if gate != nil && !gate.Allow() {
		return Session{}, fmt.Errorf("%w: no web session configured and the browser helper ran recently", fetcherr.ErrUnavailable)
	}
	result, err := r.helper.Extract(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", fetcherr.ErrUnavailable, err)
	}
	if result.SessionKey == rejected {
		return Session{}, fmt.Errorf("%w: browser still holds the rejected session", fetcherr.ErrUnavailable)
	}
	sess := Session{SessionKey: result.SessionKey, OrganizationID: result.OrganizationID}
	if sess.OrganizationID == "" && stored.SessionKey == sess.SessionKey {
		sess.OrganizationID = stored.OrganizationID
	}
	if err := r.store.Save(sess); err != nil {
		r.logger.Warn("persist web session", "error", err)
	}
	r.logger.Info("web session resolved from browser", "browser", result.Browser)
	return sess, nil
}
