package costcli

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/macfox/tokline/internal/fetcherr"
	"github.com/macfox/tokline/internal/usage"
)

func ParseDailyReport(raw []byte) (*usage.DailyReport, error) {
	var report usage.DailyReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fetcherr.Parse("daily report: %v", err)
	}
	if report.Daily == nil {
		return nil, fetcherr.Parse("daily report: missing daily array")
	}
	for i, entry := range report.Daily {
		if _, err := time.Parse(usage.DateLayout, entry.Date); err != nil {
			return nil, fetcherr.Parse("daily report: entry %d has invalid date %q", i, entry.Date)
		}
	}
	return &report, nil
}

type rawBlock struct {
	IsActive    bool           `json:"isActive"`
	IsGap       bool           `json:"isGap"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime"`
	CostUSD     float64        `json:"costUSD"`
	TotalTokens int64          `json:"totalTokens"`
	BurnRate    *rawBurn       `json:"burnRate"`
	Projection  *rawProjection `json:"projection"`
}

type rawBurn struct {
	TokensPerMinute float64 `json:"tokensPerMinute"`
	CostPerHour     float64 `json:"costPerHour"`
}

type rawProjection struct {
	TotalTokens      int64   `json:"totalTokens"`
	TotalCost        float64 `json:"totalCost"`
	RemainingMinutes float64 `json:"remainingMinutes"`
}

// ParseActiveBlock accepts either {"blocks":[...]} or a bare array and
// returns the first active, non-gap block. Rows that are all inactive yield
// nil.
func ParseActiveBlock(raw []byte) (*usage.ActiveBlock, error) {
	trimmed := bytes.TrimSpace(raw)
	var blocks []rawBlock
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return nil, fetcherr.Parse("blocks: %v", err)
		}
	} else {
		var wrapped struct {
			Blocks []rawBlock `json:"blocks"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fetcherr.Parse("blocks: %v", err)
		}
		if wrapped.Blocks == nil {
			return nil, fetcherr.Parse("blocks: missing blocks array")
		}
		blocks = wrapped.Blocks
	}

	for _, b := range blocks {
		if !b.IsActive || b.IsGap {
			continue
		}
		block := &usage.ActiveBlock{
			CostUSD:     b.CostUSD,
			StartTime:   b.StartTime,
			EndTime:     b.EndTime,
			TotalTokens: b.TotalTokens,
		}
		if b.BurnRate != nil {
			rate := b.BurnRate.TokensPerMinute
			block.BurnRate = &rate
		}
		if b.Projection != nil {
			p := &usage.Projection{
				ProjectedCostUSD: b.Projection.TotalCost,
				ProjectedTokens:  b.Projection.TotalTokens,
				ProjectedEndTime: b.EndTime,
			}
			if block.BurnRate != nil {
				p.BurnRate = *block.BurnRate
			}
			block.Projection = p
		}
		return block, nil
	}
	return nil, nil
}
