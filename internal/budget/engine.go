// Package budget compares cost aggregates with configured spend limits.
package budget

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/macfox/tokline/internal/usage"
)

const DefaultWarningPercent = 80

type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelExceeded Level = "exceeded"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	}
	return "", fmt.Errorf("invalid period %q (expected daily, weekly or monthly)", raw)
}

// Limits are spend caps in USD; zero disables a period.
type Limits struct {
	DailyUSD       float64
	WeeklyUSD      float64
	MonthlyUSD     float64
	WarningPercent int
}

func (l Limits) Validate() error {
	if l.DailyUSD < 0 || l.WeeklyUSD < 0 || l.MonthlyUSD < 0 {
		return errors.New("budget amounts must be >= 0")
	}
	if l.WarningPercent != 0 && (l.WarningPercent < 1 || l.WarningPercent > 100) {
		return fmt.Errorf("warning_percent %d out of range 1..100", l.WarningPercent)
	}
	return nil
}

func (l Limits) limit(period Period) float64 {
	switch period {
	case PeriodDaily:
		return l.DailyUSD
	case PeriodWeekly:
		return l.WeeklyUSD
	default:
		return l.MonthlyUSD
	}
}

type Status struct {
	Period   Period
	LimitUSD float64
	SpentUSD float64
	Percent  float64
	Level    Level
	// ResetsAt is zero for the rolling periods.
	ResetsAt time.Time
}

// Evaluate returns one status per enabled period. Nil aggregates yield nil.
func Evaluate(agg *usage.CostAggregates, limits Limits, now time.Time) []Status {
	if agg == nil {
		return nil
	}
	warn := limits.WarningPercent
	if warn == 0 {
		warn = DefaultWarningPercent
	}
	warnAt := decimal.NewFromInt(int64(warn))
	spent := map[Period]float64{
		PeriodDaily:   agg.Daily,
		PeriodWeekly:  agg.Weekly,
		PeriodMonthly: agg.Monthly,
	}

	out := []Status{}
	for _, period := range []Period{PeriodDaily, PeriodWeekly, PeriodMonthly} {
		limit := limits.limit(period)
		if limit <= 0 {
			continue
		}
		pct := decimal.NewFromFloat(spent[period]).Div(decimal.NewFromFloat(limit)).Mul(decimal.NewFromInt(100)).Round(1)
		status := Status{
			Period:   period,
			LimitUSD: limit,
			SpentUSD: spent[period],
			Percent:  pct.InexactFloat64(),
			Level:    LevelOK,
			ResetsAt: ResetsAt(period, now),
		}
		switch {
		case pct.GreaterThanOrEqual(decimal.NewFromInt(100)):
			status.Level = LevelExceeded
		case pct.GreaterThanOrEqual(warnAt):
			status.Level = LevelWarning
		}
		out = append(out, status)
	}
	return out
}

// Worst returns the most severe level among statuses.
func Worst(statuses []Status) Level {
	worst := LevelOK
	for _, s := range statuses {
		switch s.Level {
		case LevelExceeded:
			return LevelExceeded
		case LevelWarning:
			worst = LevelWarning
		}
	}
	return worst
}

// ResetsAt is the next local midnight for the daily period. Weekly and
// monthly totals are rolling windows and never reset.
func ResetsAt(period Period, now time.Time) time.Time {
	if period != PeriodDaily {
		return time.Time{}
	}
	return periodStart(now).AddDate(0, 0, 1)
}

func periodStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
