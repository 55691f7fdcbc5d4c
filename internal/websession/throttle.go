package websession

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/macfox/tokline/internal/clock"
)

// Throttle allows one event per interval. The last allowed event is
// persisted so that short-lived processes share the budget.
type Throttle struct {
	interval  time.Duration
	stampPath string
	clock     clock.Clock

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewThrottle(interval time.Duration, stampPath string, clk clock.Clock) *Throttle {
	if clk == nil {
		clk = clock.System{}
	}
	return &Throttle{interval: interval, stampPath: stampPath, clock: clk}
}

func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if t.limiter == nil {
		t.limiter = rate.NewLimiter(rate.Every(t.interval), 1)
		if last, ok := t.lastStamp(); ok && !last.After(now) {
			t.limiter.AllowN(last, 1)
		}
	}
	if !t.limiter.AllowN(now, 1) {
		return false
	}
	// A lost stamp only lets another process re-resolve early.
	_ = t.writeStamp(now)
	return true
}

func (t *Throttle) lastStamp() (time.Time, bool) {
	if t.stampPath == "" {
		return time.Time{}, false
	}
	data, err := os.ReadFile(t.stampPath)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (t *Throttle) writeStamp(now time.Time) error {
	if t.stampPath == "" {
		return errors.New("no stamp path")
	}
	if err := os.MkdirAll(filepath.Dir(t.stampPath), 0o700); err != nil {
		return fmt.Errorf("create throttle dir: %w", err)
	}
	return os.WriteFile(t.stampPath, []byte(strconv.FormatInt(now.UnixMilli(), 10)), 0o600)
}
