package usage

import (
	"encoding/json"

	"github.com/macfox/tokline/internal/fetcherr"
)

// ParseLimits decodes a plan usage payload. Both usage endpoints share the
// shape; every window is optional.
func ParseLimits(body []byte) (*Limits, error) {
	var limits Limits
	if err := json.Unmarshal(body, &limits); err != nil {
		return nil, fetcherr.Parse("usage payload: %v", err)
	}
	for name, w := range map[string]*Window{
		"five_hour":        limits.FiveHour,
		"seven_day":        limits.SevenDay,
		"seven_day_opus":   limits.SevenDayOpus,
		"seven_day_sonnet": limits.SevenDaySonnet,
	} {
		if w == nil || w.ResetsAt == "" {
			continue
		}
		if _, err := w.ResetTime(); err != nil {
			return nil, fetcherr.Parse("%s.resets_at %q", name, w.ResetsAt)
		}
	}
	return &limits, nil
}
