// Package probe memoizes whether a data source is worth fetching from.
package probe

import (
	"context"
	"sync"
)

// CheckFunc answers the availability question once. It must not panic and
// should report false for any missing prerequisite.
type CheckFunc func(ctx context.Context) bool

// Probe caches one verdict per process until Reset. With ProbeBeforeFetch
// disabled it never runs the check and always reports true, leaving the
// fetch itself to fail.
type Probe struct {
	Name             string
	ProbeBeforeFetch bool
	// OnReset also drops whatever credential memo backs the check.
	OnReset func()

	check   CheckFunc
	mu      sync.Mutex
	decided bool
	verdict bool
	runs    int
}

func New(name string, check CheckFunc, probeBeforeFetch bool) *Probe {
	return &Probe{
		Name:             name,
		ProbeBeforeFetch: probeBeforeFetch,
		check:            check,
	}
}

func (p *Probe) Available(ctx context.Context) bool {
	if !p.ProbeBeforeFetch {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decided {
		return p.verdict
	}
	p.verdict = p.check != nil && p.check(ctx)
	p.decided = true
	p.runs++
	return p.verdict
}

// Reset forgets the memoized verdict so the next call re-runs the check.
func (p *Probe) Reset() {
	p.mu.Lock()
	p.decided = false
	p.verdict = false
	onReset := p.OnReset
	p.mu.Unlock()
	if onReset != nil {
		onReset()
	}
}

// Runs reports how many times the underlying check has executed.
func (p *Probe) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}
