package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/macfox/tokline/internal/cache"
	"github.com/macfox/tokline/internal/clock"
	"github.com/macfox/tokline/internal/fetcherr"
)

var t0 = time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"), clk)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenSetsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat db: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("db perms = %v, want 0600", info.Mode().Perm())
	}
}

func TestObserveFetchRecordsOutcomes(t *testing.T) {
	store := openTestStore(t, clock.NewFake(t0))
	ctx := context.Background()

	store.ObserveFetch(ctx, cache.FetchEvent{Kind: cache.KindDaily, Policy: cache.PolicyBackground, StartedAt: t0, Duration: 850 * time.Millisecond})
	store.ObserveFetch(ctx, cache.FetchEvent{Kind: cache.KindBlock, Policy: cache.PolicyExtend, StartedAt: t0.Add(time.Second), Empty: true})
	store.ObserveFetch(ctx, cache.FetchEvent{
		Kind:      cache.KindOAuth,
		Policy:    cache.PolicyExtend,
		StartedAt: t0.Add(2 * time.Second),
		Duration:  120 * time.Millisecond,
		Err:       fmt.Errorf("oauth usage: %w", fetcherr.ErrTokenExpired),
	})

	records, err := store.List(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	newest := records[0]
	if newest.Kind != "oauth" || newest.Outcome != OutcomeError || newest.ErrorClass != "auth" {
		t.Fatalf("newest = %+v", newest)
	}
	if newest.LatencyMS != 120 || newest.PID != os.Getpid() {
		t.Fatalf("newest latency/pid = %d/%d", newest.LatencyMS, newest.PID)
	}
	if records[1].Outcome != OutcomeEmpty || records[2].Outcome != OutcomeOK {
		t.Fatalf("outcomes = %s, %s", records[1].Outcome, records[2].Outcome)
	}
	if !records[2].Timestamp.Equal(t0) {
		t.Fatalf("timestamp = %v, want %v", records[2].Timestamp, t0)
	}
}

func TestListFilters(t *testing.T) {
	store := openTestStore(t, clock.NewFake(t0))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		kind := "daily"
		if i%2 == 1 {
			kind = "web"
		}
		if err := store.Record(ctx, FetchRecord{Timestamp: t0.Add(time.Duration(i) * time.Minute), Kind: kind, Policy: "extend", Outcome: OutcomeOK}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	web, err := store.List(ctx, QueryFilter{Kind: "web"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(web) != 2 {
		t.Fatalf("web records = %d, want 2", len(web))
	}
	recent, err := store.List(ctx, QueryFilter{Since: t0.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent records = %d, want 2", len(recent))
	}
	limited, err := store.List(ctx, QueryFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(limited) != 1 || !limited[0].Timestamp.Equal(t0.Add(4*time.Minute)) {
		t.Fatalf("limited = %+v", limited)
	}
}

func TestStatsGroupsByKind(t *testing.T) {
	store := openTestStore(t, clock.NewFake(t0))
	ctx := context.Background()
	records := []FetchRecord{
		{Timestamp: t0, Kind: "web", Outcome: OutcomeOK, LatencyMS: 100},
		{Timestamp: t0.Add(time.Minute), Kind: "web", Outcome: OutcomeError, ErrorClass: "auth", LatencyMS: 300},
		{Timestamp: t0.Add(2 * time.Minute), Kind: "daily", Outcome: OutcomeError, ErrorClass: "transient", LatencyMS: 2000},
	}
	for _, r := range records {
		r.Policy = "extend"
		if err := store.Record(ctx, r); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	rows, err := store.Stats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	daily, web := rows[0], rows[1]
	if daily.Kind != "daily" || daily.Failures != 1 || !daily.LastSuccess.IsZero() {
		t.Fatalf("daily row = %+v", daily)
	}
	if web.Attempts != 2 || web.Failures != 1 || web.AuthFailures != 1 || web.AvgLatencyMS != 200 {
		t.Fatalf("web row = %+v", web)
	}
	if !web.LastSuccess.Equal(t0) {
		t.Fatalf("web last success = %v, want %v", web.LastSuccess, t0)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	clk := clock.NewFake(t0)
	store := openTestStore(t, clk)
	ctx := context.Background()
	for _, age := range []time.Duration{time.Hour, 48 * time.Hour, 10 * 24 * time.Hour} {
		if err := store.Record(ctx, FetchRecord{Timestamp: t0.Add(-age), Kind: "block", Policy: "extend", Outcome: OutcomeOK}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	removed, err := store.DeleteOlderThan(ctx, 7)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if n, err := store.DeleteOlderThan(ctx, 0); err != nil || n != 0 {
		t.Fatalf("DeleteOlderThan(0) = %d, %v", n, err)
	}
	left, err := store.List(ctx, QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("remaining = %d, want 2", len(left))
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  ", nil); err == nil || errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Open() error = %v, want empty path error", err)
	}
}
