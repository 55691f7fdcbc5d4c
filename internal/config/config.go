package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/macfox/tokline/internal/budget"
	"github.com/macfox/tokline/internal/cache"
	"github.com/macfox/tokline/internal/fsutil"
)

const (
	DefaultHome          = "~/.tokline"
	DefaultClaudeDir     = "~/.claude"
	DefaultRetentionDays = 30
	DefaultWindowDays    = 30
)

// Env holds the environment overrides.
type Env struct {
	Config          string `envconfig:"TOKLINE_CONFIG"`
	Home            string `envconfig:"TOKLINE_HOME"`
	LogLevel        string `envconfig:"TOKLINE_LOG_LEVEL"`
	ClaudeConfigDir string `envconfig:"CLAUDE_CONFIG_DIR"`
}

func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("read environment: %w", err)
	}
	return env, nil
}

// Duration is a time.Duration written as "60s" or "2m" in TOML.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type CacheConfig struct {
	Dir     string   `toml:"dir"`
	LockTTL Duration `toml:"lock_ttl"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type JournalConfig struct {
	Enabled       bool   `toml:"enabled"`
	DBPath        string `toml:"db_path"`
	RetentionDays int    `toml:"retention_days"`
}

type SourceConfig struct {
	Policy  string   `toml:"policy"`
	TTL     Duration `toml:"ttl"`
	Timeout Duration `toml:"timeout"`
}

type SourcesConfig struct {
	Daily SourceConfig `toml:"daily"`
	Block SourceConfig `toml:"block"`
	OAuth SourceConfig `toml:"oauth"`
	Web   SourceConfig `toml:"web"`
}

func (s SourcesConfig) For(kind cache.Kind) SourceConfig {
	switch kind {
	case cache.KindDaily:
		return s.Daily
	case cache.KindBlock:
		return s.Block
	case cache.KindOAuth:
		return s.OAuth
	default:
		return s.Web
	}
}

type CostCLIConfig struct {
	Tool             string   `toml:"tool"`
	PackageRunner    []string `toml:"package_runner"`
	ProbeBeforeFetch bool     `toml:"probe_before_fetch"`
	WindowDays       int      `toml:"window_days"`
}

type OAuthConfig struct {
	Endpoint        string `toml:"endpoint"`
	Beta            string `toml:"beta"`
	CredentialsPath string `toml:"credentials_path"`
}

type WebConfig struct {
	BaseURL           string   `toml:"base_url"`
	SessionPath       string   `toml:"session_path"`
	Helper            []string `toml:"helper"`
	HelperTimeout     Duration `toml:"helper_timeout"`
	ReresolveInterval Duration `toml:"reresolve_interval"`
}

type BudgetConfig struct {
	DailyUSD       float64 `toml:"daily_usd"`
	WeeklyUSD      float64 `toml:"weekly_usd"`
	MonthlyUSD     float64 `toml:"monthly_usd"`
	WarningPercent int     `toml:"warning_percent"`
}

func (b BudgetConfig) Limits() budget.Limits {
	return budget.Limits{
		DailyUSD:       b.DailyUSD,
		WeeklyUSD:      b.WeeklyUSD,
		MonthlyUSD:     b.MonthlyUSD,
		WarningPercent: b.WarningPercent,
	}
}

type StatuslineConfig struct {
	Widgets   []string `toml:"widgets"`
	Separator string   `toml:"separator"`
}

type Config struct {
	Cache      CacheConfig      `toml:"cache"`
	Logging    LoggingConfig    `toml:"logging"`
	Journal    JournalConfig    `toml:"journal"`
	Sources    SourcesConfig    `toml:"sources"`
	CostCLI    CostCLIConfig    `toml:"cost_cli"`
	OAuth      OAuthConfig      `toml:"oauth"`
	Web        WebConfig        `toml:"web"`
	Budget     BudgetConfig     `toml:"budget"`
	Statusline StatuslineConfig `toml:"statusline"`

	// Resolved at load time, never written.
	Path      string `toml:"-"`
	Home      string `toml:"-"`
	ClaudeDir string `toml:"-"`
}

// Default returns the defaults rooted at home (unexpanded paths are fine).
func Default(home string) Config {
	if home == "" {
		home = DefaultHome
	}
	join := func(name string) string {
		return filepath.Join(home, name)
	}
	return Config{
		Cache: CacheConfig{
			Dir:     join("cache"),
			LockTTL: NewDuration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  join("tokline.log"),
		},
		Journal: JournalConfig{
			Enabled:       true,
			DBPath:        join("journal.db"),
			RetentionDays: DefaultRetentionDays,
		},
		Sources: SourcesConfig{
			Daily: SourceConfig{Policy: string(cache.PolicyBackground), TTL: NewDuration(60 * time.Second), Timeout: NewDuration(15 * time.Second)},
			Block: SourceConfig{Policy: string(cache.PolicyExtend), TTL: NewDuration(30 * time.Second), Timeout: NewDuration(2 * time.Second)},
			OAuth: SourceConfig{Policy: string(cache.PolicyExtend), TTL: NewDuration(60 * time.Second), Timeout: NewDuration(5 * time.Second)},
			Web:   SourceConfig{Policy: string(cache.PolicyExtend), TTL: NewDuration(120 * time.Second), Timeout: NewDuration(5 * time.Second)},
		},
		CostCLI: CostCLIConfig{
			Tool:             "ccusage",
			PackageRunner:    []string{"npx", "--yes"},
			ProbeBeforeFetch: true,
			WindowDays:       DefaultWindowDays,
		},
		OAuth: OAuthConfig{
			Endpoint: "https://api.anthropic.com/api/oauth/usage",
			Beta:     "oauth-2025-04-20",
		},
		Web: WebConfig{
			BaseURL:           "https://claude.ai",
			SessionPath:       join("session.json"),
			Helper:            []string{"python3", join("extract-session-key.py")},
			HelperTimeout:     NewDuration(10 * time.Second),
			ReresolveInterval: NewDuration(2 * time.Minute),
		},
		Budget: BudgetConfig{
			WarningPercent: budget.DefaultWarningPercent,
		},
		Statusline: StatuslineConfig{
			Widgets:   []string{"today", "block", "five_hour"},
			Separator: " | ",
		},
	}
}

func DefaultConfigPath(home string) string {
	if home == "" {
		home = DefaultHome
	}
	return filepath.Join(home, "config.toml")
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path is empty")
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Clean(path), nil
}

func EnsureSecureDataDir(dir string) (string, error) {
	expanded, err := ExpandPath(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(expanded, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.Chmod(expanded, 0o700); err != nil {
		return "", fmt.Errorf("set data dir perms: %w", err)
	}
	return expanded, nil
}

// Load reads path (or TOKLINE_CONFIG, or the default location) over the
// defaults. Keys present in the file override defaults one by one; a missing
// file yields defaults.
func Load(path string, env Env) (Config, error) {
	home := DefaultHome
	if env.Home != "" {
		home = env.Home
	}
	home, err := ExpandPath(home)
	if err != nil {
		return Config{}, fmt.Errorf("expand home: %w", err)
	}
	cfg := Default(home)
	cfg.Home = home

	switch {
	case path != "":
	case env.Config != "":
		path = env.Config
	default:
		path = DefaultConfigPath(home)
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return cfg, fmt.Errorf("expand config path: %w", err)
	}
	cfg.Path = expanded

	if _, err := os.Stat(expanded); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("stat config: %w", err)
		}
	} else if _, err := toml.DecodeFile(expanded, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	claudeDir := DefaultClaudeDir
	if env.ClaudeConfigDir != "" {
		claudeDir = env.ClaudeConfigDir
	}
	if cfg.ClaudeDir, err = ExpandPath(claudeDir); err != nil {
		return cfg, fmt.Errorf("expand claude config dir: %w", err)
	}
	if cfg.OAuth.CredentialsPath == "" {
		cfg.OAuth.CredentialsPath = filepath.Join(cfg.ClaudeDir, ".credentials.json")
	}

	if err := cfg.expandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	targets := []struct {
		name string
		path *string
	}{
		{"cache.dir", &c.Cache.Dir},
		{"logging.file", &c.Logging.File},
		{"journal.db_path", &c.Journal.DBPath},
		{"oauth.credentials_path", &c.OAuth.CredentialsPath},
		{"web.session_path", &c.Web.SessionPath},
	}
	for _, target := range targets {
		expanded, err := ExpandPath(*target.path)
		if err != nil {
			return fmt.Errorf("expand %s: %w", target.name, err)
		}
		*target.path = expanded
	}
	for i, arg := range c.Web.Helper {
		if strings.HasPrefix(arg, "~") {
			expanded, err := ExpandPath(arg)
			if err != nil {
				return fmt.Errorf("expand web.helper: %w", err)
			}
			c.Web.Helper[i] = expanded
		}
	}
	return nil
}

func (c Config) Validate() error {
	for _, kind := range cache.Kinds() {
		src := c.Sources.For(kind)
		if _, err := cache.ParsePolicy(src.Policy); err != nil {
			return fmt.Errorf("sources.%s.policy: %w", kind, err)
		}
		if src.TTL.Duration <= 0 {
			return fmt.Errorf("sources.%s.ttl must be > 0", kind)
		}
		if src.Timeout.Duration <= 0 {
			return fmt.Errorf("sources.%s.timeout must be > 0", kind)
		}
	}
	if c.Cache.LockTTL.Duration <= 0 {
		return errors.New("cache.lock_ttl must be > 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q (expected debug, info, warn or error)", c.Logging.Level)
	}
	if c.CostCLI.WindowDays <= 0 {
		return errors.New("cost_cli.window_days must be > 0")
	}
	if c.Web.ReresolveInterval.Duration <= 0 {
		return errors.New("web.reresolve_interval must be > 0")
	}
	if err := c.Budget.Limits().Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	if c.Budget.WarningPercent < 1 || c.Budget.WarningPercent > 100 {
		return fmt.Errorf("budget.warning_percent %d out of range 1..100", c.Budget.WarningPercent)
	}
	return nil
}

func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultConfigPath(cfg.Home)
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path: %w", err)
	}

	dir := filepath.Dir(expanded)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil && !os.IsPermission(err) {
		return fmt.Errorf("set config directory perms: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(expanded, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
