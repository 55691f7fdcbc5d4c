// Package costcli wraps the external usage-metering CLI (ccusage).
package costcli

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/macfox/tokline/internal/clock"
	"github.com/macfox/tokline/internal/fetcherr"
	"github.com/macfox/tokline/internal/usage"
)

const sinceLayout = "20060102"

type Config struct {
	Tool          string
	PackageRunner []string
	WindowDays    int
}

type Client struct {
	cfg    Config
	runner Runner
	clock  clock.Clock

	mu   sync.Mutex
	argv []string
}

func NewClient(cfg Config, runner Runner, clk clock.Clock) *Client {
	if cfg.Tool == "" {
		cfg.Tool = "ccusage"
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Client{cfg: cfg, runner: runner, clock: clk}
}

// Locate finds the tool on PATH, falling back to the package runner. The
// resolved command prefix is reused by later fetches.
func (c *Client) Locate(ctx context.Context) error {
	if path, err := c.runner.LookPath(c.cfg.Tool); err == nil {
		c.setArgv([]string{path})
		return nil
	}
	if len(c.cfg.PackageRunner) == 0 {
		return fmt.Errorf("%w: %s not found on PATH", fetcherr.ErrUnavailable, c.cfg.Tool)
	}
	prefix := append(slices.Clone(c.cfg.PackageRunner), c.cfg.Tool)
	args := append(slices.Clone(prefix[1:]), "--version")
	if _, err := c.runner.Run(ctx, prefix[0], args...); err != nil {
		return fmt.Errorf("%w: %s via %s: %v", fetcherr.ErrUnavailable, c.cfg.Tool, prefix[0], err)
	}
	c.setArgv(prefix)
	return nil
}

// Available adapts Locate to a probe check.
func (c *Client) Available(ctx context.Context) bool {
	return c.Locate(ctx) == nil
}

// Command reports the resolved command prefix. Before Locate succeeds it is
// just the bare tool name.
func (c *Client) Command() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.argv) == 0 {
		return []string{c.cfg.Tool}
	}
	return slices.Clone(c.argv)
}

func (c *Client) setArgv(argv []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.argv = argv
}

// Since is the first day of the rolling report window, in compact form.
func (c *Client) Since() string {
	return c.clock.Now().AddDate(0, 0, -c.cfg.WindowDays).Format(sinceLayout)
}

func (c *Client) Daily(ctx context.Context) (*usage.DailyReport, error) {
	out, err := c.run(ctx, "daily", "--json", "--since", c.Since())
	if err != nil {
		return nil, err
	}
	return ParseDailyReport(out)
}

// ActiveBlock returns nil without error when no block is currently active.
func (c *Client) ActiveBlock(ctx context.Context) (*usage.ActiveBlock, error) {
	out, err := c.run(ctx, "blocks", "--active", "--json")
	if err != nil {
		return nil, err
	}
	return ParseActiveBlock(out)
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	argv := c.Command()
	started := time.Now()
	out, err := c.runner.Run(ctx, argv[0], append(argv[1:], args...)...)
	if err != nil {
		return nil, fmt.Errorf("%s %s after %s: %w", c.cfg.Tool, args[0], time.Since(started).Round(time.Millisecond), err)
	}
	return out, nil
}
