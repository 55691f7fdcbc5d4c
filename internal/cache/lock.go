package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/macfox/tokline/internal/clock"
)

// Lock marks a background refresh as in flight. It is read-then-write with
// no compare-and-swap: two processes may both acquire it in a narrow window,
// which only costs a duplicate refresh. A lock older than ttl is abandoned.
type Lock struct {
	path  string
	ttl   time.Duration
	clock clock.Clock
}

func NewLock(dir string, kind Kind, ttl time.Duration, clk clock.Clock) *Lock {
	if clk == nil {
		clk = clock.System{}
	}
	return &Lock{
		path:  filepath.Join(dir, string(kind)+".lock"),
		ttl:   ttl,
		clock: clk,
	}
}

func (l *Lock) Path() string {
	return l.path
}

// Held reports whether a lock younger than the TTL exists. A stamp from the
// future counts as abandoned.
func (l *Lock) Held() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return false
	}
	age := l.clock.Now().Sub(time.UnixMilli(ms))
	return age >= 0 && age < l.ttl
}

func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	stamp := strconv.FormatInt(l.clock.Now().UnixMilli(), 10)
	if err := os.WriteFile(l.path, []byte(stamp), 0o600); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
