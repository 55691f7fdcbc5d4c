package budget

import (
	"testing"
	"time"

	"github.com/macfox/tokline/internal/usage"
)

var now = time.Date(2026, 2, 21, 18, 30, 0, 0, time.UTC)

func TestEvaluateLevels(t *testing.T) {
	agg := &usage.CostAggregates{Daily: 12, Weekly: 41, Monthly: 150}
	statuses := Evaluate(agg, Limits{DailyUSD: 10, WeeklyUSD: 50, MonthlyUSD: 300}, now)
	if len(statuses) != 3 {
		t.Fatalf("statuses = %d, want 3", len(statuses))
	}
	want := []struct {
		period  Period
		level   Level
		percent float64
	}{
		{PeriodDaily, LevelExceeded, 120},
		{PeriodWeekly, LevelWarning, 82},
		{PeriodMonthly, LevelOK, 50},
	}
	for i, w := range want {
		got := statuses[i]
		if got.Period != w.period || got.Level != w.level || got.Percent != w.percent {
			t.Fatalf("status[%d] = %+v, want %s %s %.0f%%", i, got, w.period, w.level, w.percent)
		}
	}
	if Worst(statuses) != LevelExceeded {
		t.Fatalf("Worst() = %s, want exceeded", Worst(statuses))
	}
}

func TestEvaluateSkipsDisabledPeriods(t *testing.T) {
	statuses := Evaluate(&usage.CostAggregates{Daily: 5}, Limits{DailyUSD: 10, WarningPercent: 50}, now)
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if statuses[0].Level != LevelWarning {
		t.Fatalf("level = %s, want warning at 50%%", statuses[0].Level)
	}
	if Evaluate(nil, Limits{DailyUSD: 10}, now) != nil {
		t.Fatalf("Evaluate(nil) should be nil")
	}
	if Worst(nil) != LevelOK {
		t.Fatalf("Worst(nil) = %s, want ok", Worst(nil))
	}
}

func TestResetsAt(t *testing.T) {
	want := time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)
	if got := ResetsAt(PeriodDaily, now); !got.Equal(want) {
		t.Fatalf("ResetsAt(daily) = %v, want %v", got, want)
	}
	if got := ResetsAt(PeriodWeekly, now); !got.IsZero() {
		t.Fatalf("ResetsAt(weekly) = %v, want zero", got)
	}
}

func TestLimitsValidate(t *testing.T) {
	if err := (Limits{DailyUSD: -1}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for negative amount")
	}
	if err := (Limits{WarningPercent: 101}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for warning_percent > 100")
	}
	if err := (Limits{DailyUSD: 5, WarningPercent: 90}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, err := ParsePeriod("hourly"); err == nil {
		t.Fatalf("ParsePeriod() expected error")
	}
}
