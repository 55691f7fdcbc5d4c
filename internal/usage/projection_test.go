package usage

import (
	"testing"
	"time"
)

func TestProjectBlockKeepsSourceProjection(t *testing.T) {
	given := &Projection{ProjectedCostUSD: 9, ProjectedTokens: 900}
	block := ActiveBlock{Projection: given, TotalTokens: 10}
	if got := ProjectBlock(block, refNow); got != given {
		t.Fatalf("ProjectBlock() = %+v, want source projection", got)
	}
}

func TestProjectBlockExtrapolates(t *testing.T) {
	start := refNow.Add(-60 * time.Minute)
	block := ActiveBlock{
		StartTime:   start,
		EndTime:     start.Add(5 * time.Hour),
		TotalTokens: 6000,
		CostUSD:     3,
	}
	got := ProjectBlock(block, refNow)
	if got == nil {
		t.Fatalf("ProjectBlock() = nil")
	}
	if got.BurnRate != 100 {
		t.Fatalf("burn rate = %v, want 100", got.BurnRate)
	}
	if got.ProjectedTokens != 30000 {
		t.Fatalf("projected tokens = %d, want 30000", got.ProjectedTokens)
	}
	if got.ProjectedCostUSD != 15 {
		t.Fatalf("projected cost = %v, want 15", got.ProjectedCostUSD)
	}
	if !got.ProjectedEndTime.Equal(block.EndTime) {
		t.Fatalf("projected end = %v, want %v", got.ProjectedEndTime, block.EndTime)
	}
	if cph := CostPerHour(block, refNow); cph != 3 {
		t.Fatalf("CostPerHour() = %v, want 3", cph)
	}
}

func TestProjectBlockNothingConsumed(t *testing.T) {
	block := ActiveBlock{StartTime: refNow, EndTime: refNow.Add(5 * time.Hour)}
	if got := ProjectBlock(block, refNow); got != nil {
		t.Fatalf("ProjectBlock() = %+v, want nil", got)
	}
}

func TestWindowRemaining(t *testing.T) {
	w := Window{ResetsAt: "2026-02-21T14:00:00.250000+00:00"}
	got, err := w.Remaining(refNow)
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if got != 90*time.Minute+250*time.Millisecond {
		t.Fatalf("Remaining() = %v, want 1h30m0.25s", got)
	}
	past := Window{ResetsAt: "2026-02-21T10:00:00Z"}
	if got, _ := past.Remaining(refNow); got != 0 {
		t.Fatalf("Remaining(past) = %v, want 0", got)
	}
	if _, err := (Window{ResetsAt: "soon"}).Remaining(refNow); err == nil {
		t.Fatalf("expected error for invalid resets_at")
	}
}
