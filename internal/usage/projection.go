package usage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProjectBlock returns the block's projection, extrapolating one from the
// elapsed burn when the source did not supply it. Nil when nothing has been
// consumed yet.
func ProjectBlock(block ActiveBlock, now time.Time) *Projection {
	if block.Projection != nil {
		return block.Projection
	}
	elapsed := now.Sub(block.StartTime).Minutes()
	if elapsed <= 0 || block.TotalTokens <= 0 {
		return nil
	}
	remaining := block.EndTime.Sub(now).Minutes()
	if remaining < 0 {
		remaining = 0
	}

	minutes := decimal.NewFromFloat(elapsed)
	left := decimal.NewFromFloat(remaining)
	tokensPerMinute := decimal.NewFromInt(block.TotalTokens).Div(minutes)
	costPerMinute := decimal.NewFromFloat(block.CostUSD).Div(minutes)

	projectedTokens := decimal.NewFromInt(block.TotalTokens).Add(tokensPerMinute.Mul(left))
	projectedCost := decimal.NewFromFloat(block.CostUSD).Add(costPerMinute.Mul(left))
	return &Projection{
		ProjectedCostUSD: projectedCost.Round(4).InexactFloat64(),
		ProjectedTokens:  projectedTokens.Round(0).IntPart(),
		ProjectedEndTime: block.EndTime,
		BurnRate:         tokensPerMinute.Round(2).InexactFloat64(),
	}
}

// CostPerHour is the block's average spend rate so far.
func CostPerHour(block ActiveBlock, now time.Time) float64 {
	hours := now.Sub(block.StartTime).Hours()
	if hours <= 0 {
		return 0
	}
	return decimal.NewFromFloat(block.CostUSD).Div(decimal.NewFromFloat(hours)).Round(4).InexactFloat64()
}
