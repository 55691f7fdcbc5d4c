package usage

import (
	"time"

	"github.com/shopspring/decimal"
)

const week = 7 * 24 * time.Hour

// Aggregate rolls a daily report up relative to now. Daily is the entry dated
// today, Weekly sums entries dated on or after now-7d, and Monthly sums every
// entry in the report: the report is already scoped to the fetch window and
// is not filtered again here.
func Aggregate(report *DailyReport, now time.Time) *CostAggregates {
	if report == nil || report.Daily == nil {
		return nil
	}
	loc := now.Location()
	today := now.Format(DateLayout)
	weekStart := now.Add(-week)

	daily := decimal.Zero
	weekly := decimal.Zero
	monthly := decimal.Zero
	for _, entry := range report.Daily {
		cost := decimal.NewFromFloat(entry.TotalCost)
		monthly = monthly.Add(cost)
		if entry.Date == today {
			daily = daily.Add(cost)
		}
		day, err := time.ParseInLocation(DateLayout, entry.Date, loc)
		if err != nil {
			continue
		}
		if !day.Before(weekStart) {
			weekly = weekly.Add(cost)
		}
	}
	return &CostAggregates{
		Daily:   daily.InexactFloat64(),
		Weekly:  weekly.InexactFloat64(),
		Monthly: monthly.InexactFloat64(),
	}
}
