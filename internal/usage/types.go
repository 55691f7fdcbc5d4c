package usage

import "time"

// DateLayout is the calendar-day format used by daily reports.
const DateLayout = "2006-01-02"

type DailyCostEntry struct {
	Date                string   `json:"date"`
	InputTokens         int64    `json:"inputTokens"`
	OutputTokens        int64    `json:"outputTokens"`
	CacheCreationTokens int64    `json:"cacheCreationTokens"`
	CacheReadTokens     int64    `json:"cacheReadTokens"`
	TotalTokens         int64    `json:"totalTokens"`
	TotalCost           float64  `json:"totalCost"`
	ModelsUsed          []string `json:"modelsUsed"`
}

type Totals struct {
	InputTokens         int64   `json:"inputTokens"`
	OutputTokens        int64   `json:"outputTokens"`
	CacheCreationTokens int64   `json:"cacheCreationTokens"`
	CacheReadTokens     int64   `json:"cacheReadTokens"`
	TotalTokens         int64   `json:"totalTokens"`
	TotalCost           float64 `json:"totalCost"`
}

// DailyReport entries are in source order; callers must not assume sorting.
type DailyReport struct {
	Daily  []DailyCostEntry `json:"daily"`
	Totals *Totals          `json:"totals,omitempty"`
}

type CostAggregates struct {
	Daily   float64 `json:"daily"`
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
}

type Projection struct {
	ProjectedCostUSD float64   `json:"projectedCostUSD"`
	ProjectedTokens  int64     `json:"projectedTokens"`
	ProjectedEndTime time.Time `json:"projectedEndTime"`
	BurnRate         float64   `json:"burnRate"`
}

// ActiveBlock is the currently open billing window. BurnRate is tokens per
// minute.
type ActiveBlock struct {
	CostUSD     float64     `json:"costUSD"`
	BurnRate    *float64    `json:"burnRate"`
	Projection  *Projection `json:"projection"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     time.Time   `json:"endTime"`
	TotalTokens int64       `json:"totalTokens"`
}

// Limits is the plan utilization payload shared by the OAuth and web usage
// endpoints.
type Limits struct {
	FiveHour       *Window     `json:"five_hour"`
	SevenDay       *Window     `json:"seven_day,omitempty"`
	SevenDayOpus   *Window     `json:"seven_day_opus,omitempty"`
	SevenDaySonnet *Window     `json:"seven_day_sonnet,omitempty"`
	ExtraUsage     *ExtraUsage `json:"extra_usage"`
}

type Window struct {
	Utilization float64 `json:"utilization"` // 0-100
	ResetsAt    string  `json:"resets_at"`
}

type ExtraUsage struct {
	IsEnabled    bool     `json:"is_enabled"`
	MonthlyLimit *float64 `json:"monthly_limit"`
	UsedCredits  *float64 `json:"used_credits"`
	Utilization  *float64 `json:"utilization"`
}

func (w Window) ResetTime() (time.Time, error) {
	return time.Parse(time.RFC3339, w.ResetsAt)
}

// Remaining returns the time left until the window resets, clamped at zero.
func (w Window) Remaining(now time.Time) (time.Duration, error) {
	reset, err := w.ResetTime()
	if err != nil {
		return 0, err
	}
	remaining := reset.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
