// Package spawn starts detached background refreshes of the on-disk cache.
package spawn

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/macfox/tokline/internal/cache"
)

const backgroundEnv = "TOKLINE_BACKGROUND"

// Process re-executes the current binary as `refresh --kind <kind>` in its
// own session. The parent never waits on the child.
type Process struct {
	Executable string
	ConfigPath string
	LogPath    string
}

func NewProcess(configPath, logPath string) (*Process, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &Process{Executable: exe, ConfigPath: configPath, LogPath: logPath}, nil
}

// InBackground reports whether this process is a detached refresher.
func InBackground() bool {
	return os.Getenv(backgroundEnv) == "1"
}

func (p *Process) Command(kind cache.Kind) *exec.Cmd {
	args := []string{"refresh", "--kind", string(kind)}
	if p.ConfigPath != "" {
		args = append(args, "--config", p.ConfigPath)
	}
	cmd := exec.Command(p.Executable, args...)
	cmd.Env = append(os.Environ(), backgroundEnv+"=1")
	cmd.SysProcAttr = detachedAttr()
	return cmd
}

func (p *Process) SpawnDetached(kind cache.Kind) error {
	if InBackground() {
		return fmt.Errorf("refusing to spawn %s refresh from a background refresher", kind)
	}
	cmd := p.Command(kind)
	if p.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(p.LogPath), 0o700); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		logFile, err := os.OpenFile(p.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open refresh log file: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start background refresh: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("detach refresh process: %w", err)
	}
	return nil
}
