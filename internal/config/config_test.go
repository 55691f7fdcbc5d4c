package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(filepath.Join(home, "missing.toml"), Env{Home: home})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.Dir != filepath.Join(home, "cache") {
		t.Fatalf("cache dir = %s, want under %s", cfg.Cache.Dir, home)
	}
	if cfg.Sources.Daily.Policy != "background" || cfg.Sources.Daily.TTL.Duration != time.Minute {
		t.Fatalf("daily source = %+v, want background/60s", cfg.Sources.Daily)
	}
	if cfg.Sources.Block.Policy != "extend" || cfg.Sources.Block.TTL.Duration != 30*time.Second {
		t.Fatalf("block source = %+v, want extend/30s", cfg.Sources.Block)
	}
	if cfg.Sources.Web.TTL.Duration != 2*time.Minute {
		t.Fatalf("web ttl = %v, want 2m", cfg.Sources.Web.TTL)
	}
	if !cfg.Journal.Enabled || cfg.Journal.RetentionDays != DefaultRetentionDays {
		t.Fatalf("journal = %+v", cfg.Journal)
	}
	if !strings.HasSuffix(cfg.OAuth.CredentialsPath, filepath.Join(".claude", ".credentials.json")) {
		t.Fatalf("credentials path = %s", cfg.OAuth.CredentialsPath)
	}
	if cfg.Web.Helper[1] != filepath.Join(home, "extract-session-key.py") {
		t.Fatalf("helper = %v", cfg.Web.Helper)
	}
}

func TestLoadOverridesFieldByField(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.toml")
	content := `
[sources.daily]
ttl = "90s"

[sources.web]
policy = "discard"

[cost_cli]
package_runner = ["bunx"]

[journal]
enabled = false

[budget]
daily_usd = 25.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load("", Env{Config: path, Home: home})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("Path = %s, want %s", cfg.Path, path)
	}
	if cfg.Sources.Daily.TTL.Duration != 90*time.Second || cfg.Sources.Daily.Policy != "background" {
		t.Fatalf("daily source = %+v, want background/90s", cfg.Sources.Daily)
	}
	if cfg.Sources.Web.Policy != "discard" || cfg.Sources.Web.TTL.Duration != 2*time.Minute {
		t.Fatalf("web source = %+v", cfg.Sources.Web)
	}
	if !slices.Equal(cfg.CostCLI.PackageRunner, []string{"bunx"}) || cfg.CostCLI.Tool != "ccusage" {
		t.Fatalf("cost_cli = %+v", cfg.CostCLI)
	}
	if cfg.Journal.Enabled {
		t.Fatalf("journal.enabled = true, want false")
	}
	if cfg.Budget.DailyUSD != 25.5 || cfg.Budget.WarningPercent != 80 {
		t.Fatalf("budget = %+v", cfg.Budget)
	}
}

func TestLoadHonorsClaudeConfigDirAndLogLevel(t *testing.T) {
	home := t.TempDir()
	claude := filepath.Join(t.TempDir(), "claude-profile")
	cfg, err := Load("", Env{Home: home, ClaudeConfigDir: claude, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ClaudeDir != claude {
		t.Fatalf("ClaudeDir = %s, want %s", cfg.ClaudeDir, claude)
	}
	if cfg.OAuth.CredentialsPath != filepath.Join(claude, ".credentials.json") {
		t.Fatalf("credentials path = %s", cfg.OAuth.CredentialsPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoadEnvReadsVariables(t *testing.T) {
	t.Setenv("TOKLINE_HOME", "/tmp/tokline-home")
	t.Setenv("CLAUDE_CONFIG_DIR", "/tmp/claude")
	t.Setenv("TOKLINE_LOG_LEVEL", "warn")
	env, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if env.Home != "/tmp/tokline-home" || env.ClaudeConfigDir != "/tmp/claude" || env.LogLevel != "warn" {
		t.Fatalf("env = %+v", env)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown policy", content: "[sources.block]\npolicy = 'sometimes'\n"},
		{name: "zero ttl", content: "[sources.oauth]\nttl = '0s'\n"},
		{name: "bad duration", content: "[sources.web]\nttl = 'soon'\n"},
		{name: "bad level", content: "[logging]\nlevel = 'loud'\n"},
		{name: "warning percent", content: "[budget]\nwarning_percent = 150\n"},
		{name: "negative budget", content: "[budget]\nmonthly_usd = -5.0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			path := filepath.Join(home, "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path, Env{Home: home}); err == nil {
				t.Fatalf("expected Load() to reject %s", tt.name)
			}
		})
	}
}

func TestSaveRoundTripsDurations(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load("", Env{Home: home})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Sources.OAuth.TTL = NewDuration(45 * time.Second)
	path := filepath.Join(home, "nested", "config.toml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config perms = %v, want 0600", info.Mode().Perm())
	}
	reloaded, err := Load(path, Env{Home: home})
	if err != nil {
		t.Fatalf("Load() after Save error = %v", err)
	}
	if reloaded.Sources.OAuth.TTL.Duration != 45*time.Second {
		t.Fatalf("oauth ttl = %v, want 45s", reloaded.Sources.OAuth.TTL)
	}
}

func TestEnsureSecureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	got, err := EnsureSecureDataDir(dir)
	if err != nil {
		t.Fatalf("EnsureSecureDataDir() error = %v", err)
	}
	info, err := os.Stat(got)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("dir perms = %v, want 0700", info.Mode().Perm())
	}
}
