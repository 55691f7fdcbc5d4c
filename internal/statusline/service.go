// Package statusline wires every usage source behind its cache manager and
// exposes the read surface the statusline widgets consume.
package statusline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/macfox/tokline/internal/cache"
	"github.com/macfox/tokline/internal/clock"
	"github.com/macfox/tokline/internal/config"
	"github.com/macfox/tokline/internal/costcli"
	"github.com/macfox/tokline/internal/journal"
	"github.com/macfox/tokline/internal/oauth"
	"github.com/macfox/tokline/internal/probe"
	"github.com/macfox/tokline/internal/spawn"
	"github.com/macfox/tokline/internal/usage"
	"github.com/macfox/tokline/internal/websession"
)

// Source names an availability domain. The cost CLI backs two data kinds.
type Source string

const (
	SourceCostCLI Source = "costcli"
	SourceOAuth   Source = "oauth"
	SourceWeb     Source = "web"
)

func Sources() []Source {
	return []Source{SourceCostCLI, SourceOAuth, SourceWeb}
}

func ParseSource(raw string) (Source, error) {
	for _, s := range Sources() {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown source %q (expected costcli, oauth or web)", raw)
}

// SourceFor maps a data kind to the source whose availability gates it.
func SourceFor(kind cache.Kind) Source {
	switch kind {
	case cache.KindDaily, cache.KindBlock:
		return SourceCostCLI
	case cache.KindOAuth:
		return SourceOAuth
	default:
		return SourceWeb
	}
}

// Deps overrides collaborators; zero values select the real ones.
type Deps struct {
	Clock      clock.Clock
	Logger     *slog.Logger
	Runner     costcli.Runner
	HTTPClient *http.Client
	Helper     websession.Helper
	Keychain   oauth.KeychainFunc
	Spawner    cache.Spawner
	Observer   cache.Observer
}

type Service struct {
	cfg    config.Config
	clock  clock.Clock
	logger *slog.Logger

	costCLI  *costcli.Client
	creds    *oauth.Credentials
	sessions *websession.ConfigStore
	resolver *websession.Resolver

	probes map[Source]*probe.Probe
	daily  *cache.Manager[usage.DailyReport]
	block  *cache.Manager[usage.ActiveBlock]
	oauth  *cache.Manager[usage.Limits]
	web    *cache.Manager[usage.Limits]

	journal *journal.Store
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{
		cfg:    cfg,
		clock:  deps.Clock,
		logger: deps.Logger,
		probes: map[Source]*probe.Probe{},
	}

	observer := deps.Observer
	if observer == nil && cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.DBPath, deps.Clock)
		if err != nil {
			s.logger.Warn("journal disabled", "error", err)
		} else {
			store.SetLogger(s.logger)
			s.journal = store
			observer = store
		}
	}

	spawner := deps.Spawner
	if spawner == nil {
		proc, err := spawn.NewProcess(cfg.Path, cfg.Logging.File)
		if err != nil {
			return nil, err
		}
		spawner = proc
	}

	s.costCLI = costcli.NewClient(costcli.Config{
		Tool:          cfg.CostCLI.Tool,
		PackageRunner: cfg.CostCLI.PackageRunner,
		WindowDays:    cfg.CostCLI.WindowDays,
	}, deps.Runner, deps.Clock)
	s.probes[SourceCostCLI] = probe.New(string(SourceCostCLI), s.costCLI.Available, cfg.CostCLI.ProbeBeforeFetch)

	keychain := deps.Keychain
	if keychain == nil {
		s.creds = oauth.NewDefaultCredentials(cfg.OAuth.CredentialsPath)
	} else {
		s.creds = oauth.NewCredentials(cfg.OAuth.CredentialsPath, keychain)
	}
	oauthProbe := probe.New(string(SourceOAuth), s.creds.Available, true)
	oauthProbe.OnReset = s.creds.Reset
	s.probes[SourceOAuth] = oauthProbe
	oauthClient := oauth.NewClient(oauth.Config{
		Endpoint: cfg.OAuth.Endpoint,
		Beta:     cfg.OAuth.Beta,
		Timeout:  cfg.Sources.OAuth.Timeout.Duration,
	}, s.creds, deps.HTTPClient)
	oauthClient.OnUnauthorized = oauthProbe.Reset

	helper := deps.Helper
	if helper == nil {
		helper = websession.CommandHelper{Argv: cfg.Web.Helper, Timeout: cfg.Web.HelperTimeout.Duration}
	}
	s.sessions = websession.NewConfigStore(cfg.Web.SessionPath)
	throttle := websession.NewThrottle(cfg.Web.ReresolveInterval.Duration, filepath.Join(cfg.Cache.Dir, "web-reresolve.stamp"), deps.Clock)
	helperGate := websession.NewThrottle(cfg.Web.ReresolveInterval.Duration, filepath.Join(cfg.Cache.Dir, "web-helper.stamp"), deps.Clock)
	s.resolver = websession.NewResolver(s.sessions, helper, throttle, helperGate, s.logger.With("source", string(SourceWeb)))
	webProbe := probe.New(string(SourceWeb), s.resolver.Available, true)
	webProbe.OnReset = s.resolver.Reset
	s.probes[SourceWeb] = webProbe
	webSource := websession.NewSource(
		s.resolver,
		websession.NewClient(cfg.Web.BaseURL, cfg.Sources.Web.Timeout.Duration, deps.HTTPClient),
		s.logger.With("source", string(SourceWeb)),
	)

	var err error
	if s.daily, err = newManager(s, cache.KindDaily, s.costCLI.Daily, spawner, observer); err != nil {
		return nil, err
	}
	if s.block, err = newManager(s, cache.KindBlock, s.costCLI.ActiveBlock, spawner, observer); err != nil {
		return nil, err
	}
	if s.oauth, err = newManager(s, cache.KindOAuth, oauthClient.Fetch, spawner, observer); err != nil {
		return nil, err
	}
	if s.web, err = newManager(s, cache.KindWeb, webSource.Fetch, spawner, observer); err != nil {
		return nil, err
	}
	return s, nil
}

func newManager[T any](s *Service, kind cache.Kind, fetch cache.FetchFunc[T], spawner cache.Spawner, observer cache.Observer) (*cache.Manager[T], error) {
	src := s.cfg.Sources.For(kind)
	policy, err := cache.ParsePolicy(src.Policy)
	if err != nil {
		return nil, fmt.Errorf("sources.%s: %w", kind, err)
	}
	return cache.NewManager(cache.Options[T]{
		Kind:         kind,
		Store:        cache.NewFileStore[T](s.cfg.Cache.Dir, kind),
		Policy:       policy,
		TTL:          src.TTL.Duration,
		Timeout:      src.Timeout.Duration,
		ProbeTimeout: s.probeTimeout(SourceFor(kind)),
		Fetch:        fetch,
		Availability: s.probes[SourceFor(kind)],
		Lock:         cache.NewLock(s.cfg.Cache.Dir, kind, s.cfg.Cache.LockTTL.Duration, s.clock),
		Spawner:      spawner,
		Observer:     observer,
		Clock:        s.clock,
		Logger:       s.logger,
	})
}

func (s *Service) Close() error {
	return s.journal.Close()
}

func (s *Service) Config() config.Config {
	return s.cfg
}

func (s *Service) Now() time.Time {
	return s.clock.Now()
}

func (s *Service) DailyReport(ctx context.Context) *usage.DailyReport {
	return s.daily.Get(ctx)
}

// CostAggregates is recomputed from the cached daily report on every call.
func (s *Service) CostAggregates(ctx context.Context) *usage.CostAggregates {
	return usage.Aggregate(s.daily.Get(ctx), s.clock.Now())
}

func (s *Service) ActiveBlock(ctx context.Context) *usage.ActiveBlock {
	return s.block.Get(ctx)
}

func (s *Service) OAuthUsage(ctx context.Context) *usage.Limits {
	return s.oauth.Get(ctx)
}

func (s *Service) WebUsage(ctx context.Context) *usage.Limits {
	return s.web.Get(ctx)
}

// Available runs the source's memoized check under the same deadline the
// cache managers give it.
func (s *Service) Available(ctx context.Context, source Source) bool {
	p, ok := s.probes[source]
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout(source))
	defer cancel()
	return p.Available(ctx)
}

// probeTimeout is the longest fetch timeout among the kinds a source backs.
// The web check may run the browser helper, so it also gets the helper's.
func (s *Service) probeTimeout(source Source) time.Duration {
	var longest time.Duration
	for _, kind := range cache.Kinds() {
		if SourceFor(kind) != source {
			continue
		}
		longest = max(longest, s.cfg.Sources.For(kind).Timeout.Duration)
	}
	if source == SourceWeb {
		longest = max(longest, s.cfg.Web.HelperTimeout.Duration)
	}
	if longest <= 0 {
		longest = 5 * time.Second
	}
	return longest
}

// ClearCache empties every cache entry and forgets every availability verdict.
func (s *Service) ClearCache() error {
	return errors.Join(
		s.daily.Clear(),
		s.block.Clear(),
		s.oauth.Clear(),
		s.web.Clear(),
	)
}

// Refresh fetches kind now, regardless of freshness.
func (s *Service) Refresh(ctx context.Context, kind cache.Kind) error {
	switch kind {
	case cache.KindDaily:
		return s.daily.Refresh(ctx)
	case cache.KindBlock:
		return s.block.Refresh(ctx)
	case cache.KindOAuth:
		return s.oauth.Refresh(ctx)
	case cache.KindWeb:
		return s.web.Refresh(ctx)
	}
	return fmt.Errorf("unknown data kind %q", kind)
}

// EntryState reports cache metadata for kind without fetching.
type EntryState struct {
	Kind           cache.Kind `json:"kind"`
	Policy         string     `json:"policy"`
	TTL            string     `json:"ttl"`
	Present        bool       `json:"present"`
	HasData        bool       `json:"has_data"`
	FetchedAt      time.Time  `json:"fetched_at,omitempty"`
	TokenExpired   bool       `json:"token_expired,omitempty"`
	SessionExpired bool       `json:"session_expired,omitempty"`
}

func (s *Service) State(kind cache.Kind) EntryState {
	switch kind {
	case cache.KindDaily:
		return entryState(s.daily)
	case cache.KindBlock:
		return entryState(s.block)
	case cache.KindOAuth:
		return entryState(s.oauth)
	default:
		return entryState(s.web)
	}
}

func entryState[T any](m *cache.Manager[T]) EntryState {
	state := EntryState{Kind: m.Kind(), Policy: string(m.Policy()), TTL: m.TTL().String()}
	entry, ok := m.Entry()
	if !ok {
		return state
	}
	state.Present = true
	state.HasData = entry.Data != nil
	state.FetchedAt = entry.At()
	state.TokenExpired = entry.TokenExpired
	state.SessionExpired = entry.SessionExpired
	return state
}

func (s *Service) Journal() *journal.Store {
	return s.journal
}

func (s *Service) Sessions() *websession.ConfigStore {
	return s.sessions
}

// CostCommand reports how the cost tool will be invoked.
func (s *Service) CostCommand() []string {
	return s.costCLI.Command()
}
