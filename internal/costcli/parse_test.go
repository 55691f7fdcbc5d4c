package costcli

import (
	"errors"
	"testing"
	"time"

	"github.com/macfox/tokline/internal/fetcherr"
)

func TestParseDailyReport(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		entries int
		wantErr bool
	}{
		{name: "valid", raw: `{"daily":[{"date":"2026-02-20","totalCost":2},{"date":"2026-02-21","totalCost":3}]}`, entries: 2},
		{name: "empty array", raw: `{"daily":[]}`, entries: 0},
		{name: "malformed", raw: `invalid json {`, wantErr: true},
		{name: "missing daily", raw: `{"totals":{"totalCost":1}}`, wantErr: true},
		{name: "bad date", raw: `{"daily":[{"date":"yesterday","totalCost":1}]}`, wantErr: true},
		{name: "wrong type", raw: `{"daily":[{"date":"2026-02-21","totalCost":"lots"}]}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ParseDailyReport([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, fetcherr.ErrParse) || report != nil {
					t.Fatalf("ParseDailyReport() = %+v, %v; want parse error", report, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDailyReport() error = %v", err)
			}
			if len(report.Daily) != tt.entries {
				t.Fatalf("entries = %d, want %d", len(report.Daily), tt.entries)
			}
		})
	}
}

const activeBlocks = `{"blocks":[
 {"isActive":false,"isGap":false,"startTime":"2026-02-21T00:00:00.000Z","endTime":"2026-02-21T05:00:00.000Z","costUSD":4,"totalTokens":1000},
 {"isActive":true,"isGap":false,"startTime":"2026-02-21T08:00:00.000Z","endTime":"2026-02-21T13:00:00.000Z","costUSD":6.25,"totalTokens":250000,
  "burnRate":{"tokensPerMinute":3205.5,"costPerHour":4.8},
  "projection":{"totalTokens":961538,"totalCost":24.03,"remainingMinutes":222}}
]}`

func TestParseActiveBlock(t *testing.T) {
	block, err := ParseActiveBlock([]byte(activeBlocks))
	if err != nil {
		t.Fatalf("ParseActiveBlock() error = %v", err)
	}
	if block == nil {
		t.Fatalf("ParseActiveBlock() = nil, want active block")
	}
	if block.CostUSD != 6.25 || block.TotalTokens != 250000 {
		t.Fatalf("block = %+v", block)
	}
	if block.BurnRate == nil || *block.BurnRate != 3205.5 {
		t.Fatalf("BurnRate = %v, want 3205.5", block.BurnRate)
	}
	if block.Projection == nil || block.Projection.ProjectedCostUSD != 24.03 || block.Projection.ProjectedTokens != 961538 {
		t.Fatalf("Projection = %+v", block.Projection)
	}
	wantEnd := time.Date(2026, 2, 21, 13, 0, 0, 0, time.UTC)
	if !block.Projection.ProjectedEndTime.Equal(wantEnd) {
		t.Fatalf("ProjectedEndTime = %v, want %v", block.Projection.ProjectedEndTime, wantEnd)
	}
}

func TestParseActiveBlockInactiveRowsYieldNil(t *testing.T) {
	raw := `[{"isActive":false,"startTime":"2026-02-21T00:00:00Z","endTime":"2026-02-21T05:00:00Z","costUSD":1}]`
	block, err := ParseActiveBlock([]byte(raw))
	if err != nil {
		t.Fatalf("ParseActiveBlock() error = %v", err)
	}
	if block != nil {
		t.Fatalf("ParseActiveBlock() = %+v, want nil", block)
	}
}

func TestParseActiveBlockNullBurnRate(t *testing.T) {
	raw := `{"blocks":[{"isActive":true,"startTime":"2026-02-21T08:00:00Z","endTime":"2026-02-21T13:00:00Z","costUSD":0,"totalTokens":0,"burnRate":null,"projection":null}]}`
	block, err := ParseActiveBlock([]byte(raw))
	if err != nil {
		t.Fatalf("ParseActiveBlock() error = %v", err)
	}
	if block == nil || block.BurnRate != nil || block.Projection != nil {
		t.Fatalf("block = %+v, want active block without burn rate", block)
	}
}

func TestParseActiveBlockMalformed(t *testing.T) {
	for _, raw := range []string{"invalid json {", `{"other":1}`, ""} {
		if _, err := ParseActiveBlock([]byte(raw)); !errors.Is(err, fetcherr.ErrParse) {
			t.Fatalf("ParseActiveBlock(%q) error = %v, want parse error", raw, err)
		}
	}
}
