package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/macfox/tokline/internal/clock"
	"github.com/macfox/tokline/internal/fetcherr"
)

// Policy selects what a stale access does.
type Policy string

const (
	// PolicyExtend refetches inline; on failure prior data is kept and the
	// timestamp advanced so the failure does not cause a refresh storm.
	PolicyExtend Policy = "extend"
	// PolicyDiscard refetches inline; on failure the data is dropped.
	PolicyDiscard Policy = "discard"
	// PolicyBackground serves stale data and refreshes in a detached task
	// guarded by the advisory lock.
	PolicyBackground Policy = "background"
)

func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(raw); p {
	case PolicyExtend, PolicyDiscard, PolicyBackground:
		return p, nil
	}
	return "", fmt.Errorf("invalid cache policy %q (expected extend, discard or background)", raw)
}

type FetchFunc[T any] func(ctx context.Context) (*T, error)

type Availability interface {
	Available(ctx context.Context) bool
	Reset()
}

type Spawner interface {
	SpawnDetached(kind Kind) error
}

type FetchEvent struct {
	Kind      Kind
	Policy    Policy
	StartedAt time.Time
	Duration  time.Duration
	Empty     bool
	Err       error
}

type Observer interface {
	ObserveFetch(ctx context.Context, event FetchEvent)
}

type Options[T any] struct {
	Kind         Kind
	Store        Store[T]
	Policy       Policy
	TTL          time.Duration
	Timeout      time.Duration
	// ProbeTimeout bounds the availability check; zero means Timeout.
	ProbeTimeout time.Duration
	Fetch        FetchFunc[T]
	Availability Availability
	Lock         *Lock
	Spawner      Spawner
	Observer     Observer
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Manager owns the cache entry of one data kind. Get never fails: every
// fetch error collapses to "no new data".
type Manager[T any] struct {
	mu           sync.Mutex
	kind         Kind
	store        Store[T]
	policy       Policy
	ttl          time.Duration
	timeout      time.Duration
	probeTimeout time.Duration
	fetch        FetchFunc[T]
	availability Availability
	lock         *Lock
	spawner      Spawner
	observer     Observer
	clock        clock.Clock
	logger       *slog.Logger
}

func NewManager[T any](opts Options[T]) (*Manager[T], error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("fetch func is required")
	}
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("ttl for %s must be > 0", opts.Kind)
	}
	if opts.Policy == PolicyBackground && (opts.Lock == nil || opts.Spawner == nil) {
		return nil, fmt.Errorf("background policy for %s needs a lock and a spawner", opts.Kind)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = opts.Timeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager[T]{
		kind:         opts.Kind,
		store:        opts.Store,
		policy:       opts.Policy,
		ttl:          opts.TTL,
		timeout:      opts.Timeout,
		probeTimeout: opts.ProbeTimeout,
		fetch:        opts.Fetch,
		availability: opts.Availability,
		lock:         opts.Lock,
		spawner:      opts.Spawner,
		observer:     opts.Observer,
		clock:        opts.Clock,
		logger:       opts.Logger.With("kind", string(opts.Kind)),
	}, nil
}

func (m *Manager[T]) Kind() Kind {
	return m.kind
}

func (m *Manager[T]) Policy() Policy {
	return m.policy
}

func (m *Manager[T]) TTL() time.Duration {
	return m.ttl
}

// ProbeTimeout is the deadline given to the availability check.
func (m *Manager[T]) ProbeTimeout() time.Duration {
	return m.probeTimeout
}

// Get returns the cached value, refreshing it per the policy when stale.
func (m *Manager[T]) Get(ctx context.Context) *T {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.load()
	if ok && m.clock.Now().Sub(entry.At()) < m.ttl {
		return entry.Data
	}
	if !m.available(ctx) {
		m.logger.Debug("source unavailable")
		return nil
	}
	if m.policy == PolicyBackground {
		m.spawnRefresh()
		return entry.Data
	}
	next, _ := m.refreshLocked(ctx, entry, ok)
	return next.Data
}

// Entry exposes the raw cache state, including expiry flags.
func (m *Manager[T]) Entry() (Entry[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// Refresh fetches unconditionally and stores the result. It is what a
// detached background task runs; it releases the advisory lock when done.
func (m *Manager[T]) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock != nil {
		defer func() {
			if err := m.lock.Release(); err != nil {
				m.logger.Warn("release refresh lock", "error", err)
			}
		}()
	}
	if !m.available(ctx) {
		return fmt.Errorf("refresh %s: %w", m.kind, fetcherr.ErrUnavailable)
	}
	entry, ok := m.load()
	_, err := m.refreshLocked(ctx, entry, ok)
	return err
}

// Clear resets the entry to empty and forgets the availability verdict.
func (m *Manager[T]) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if err := m.store.Reset(); err != nil {
		errs = append(errs, err)
	}
	if m.lock != nil {
		if err := m.lock.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.availability != nil {
		m.availability.Reset()
	}
	return errors.Join(errs...)
}

// available runs the availability check under its own deadline. A check
// that times out counts as unavailable.
func (m *Manager[T]) available(ctx context.Context) bool {
	if m.availability == nil {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	return m.availability.Available(probeCtx)
}

func (m *Manager[T]) load() (Entry[T], bool) {
	entry, ok, err := m.store.Load()
	if err != nil {
		m.logger.Warn("load cache entry", "error", err)
		return Entry[T]{}, false
	}
	return entry, ok
}

func (m *Manager[T]) refreshLocked(ctx context.Context, prev Entry[T], hadPrev bool) (Entry[T], error) {
	started := m.clock.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, m.timeout)
	data, err := m.fetch(fetchCtx)
	cancel()
	now := m.clock.Now()

	next := Entry[T]{Timestamp: now.UnixMilli()}
	if hadPrev && prev.Timestamp > next.Timestamp {
		next.Timestamp = prev.Timestamp
	}
	if err == nil {
		next.Data = data
		m.logger.Debug("fetch succeeded", "latency_ms", now.Sub(started).Milliseconds(), "empty", data == nil)
	} else {
		if hadPrev && m.policy != PolicyDiscard {
			next.Data = prev.Data
		}
		next.TokenExpired = errors.Is(err, fetcherr.ErrTokenExpired)
		next.SessionExpired = errors.Is(err, fetcherr.ErrSessionExpired)
		m.logger.Warn("fetch failed",
			"class", string(fetcherr.Classify(err)),
			"error", err,
			"kept_prior", next.Data != nil,
		)
	}
	if saveErr := m.store.Save(next); saveErr != nil {
		m.logger.Warn("save cache entry", "error", saveErr)
	}
	if m.observer != nil {
		m.observer.ObserveFetch(ctx, FetchEvent{
			Kind:      m.kind,
			Policy:    m.policy,
			StartedAt: started,
			Duration:  now.Sub(started),
			Empty:     err == nil && data == nil,
			Err:       err,
		})
	}
	return next, err
}

func (m *Manager[T]) spawnRefresh() {
	if m.lock.Held() {
		m.logger.Debug("background refresh already in flight")
		return
	}
	if err := m.lock.Acquire(); err != nil {
		m.logger.Warn("acquire refresh lock", "error", err)
		return
	}
	if err := m.spawner.SpawnDetached(m.kind); err != nil {
		m.logger.Warn("spawn background refresh", "error", err)
		if relErr := m.lock.Release(); relErr != nil {
			m.logger.Warn("release refresh lock", "error", relErr)
		}
	}
}
