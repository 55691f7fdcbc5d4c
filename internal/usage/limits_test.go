package usage

import (
	"errors"
	"testing"
	"time"

	"github.com/macfox/tokline/internal/fetcherr"
)

func TestParseLimits(t *testing.T) {
	body := `{"five_hour":{"utilization":37.5,"resets_at":"2026-02-21T14:00:00+00:00"},"seven_day":null,"extra_usage":{"is_enabled":true,"monthly_limit":5000,"used_credits":1250,"utilization":25}}`
	limits, err := ParseLimits([]byte(body))
	if err != nil {
		t.Fatalf("ParseLimits() error = %v", err)
	}
	if limits.FiveHour == nil || limits.FiveHour.Utilization != 37.5 {
		t.Fatalf("FiveHour = %+v", limits.FiveHour)
	}
	if limits.SevenDay != nil {
		t.Fatalf("SevenDay = %+v, want nil", limits.SevenDay)
	}
	if x := limits.ExtraUsage; x == nil || !x.IsEnabled || x.Utilization == nil || *x.Utilization != 25 {
		t.Fatalf("ExtraUsage = %+v", limits.ExtraUsage)
	}
	left, err := limits.FiveHour.Remaining(time.Date(2026, 2, 21, 13, 0, 0, 0, time.UTC))
	if err != nil || left != time.Hour {
		t.Fatalf("Remaining() = %v, %v, want 1h", left, err)
	}
}

func TestParseLimitsRejectsMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":    `<html>`,
		"bad reset":   `{"five_hour":{"utilization":1,"resets_at":"tomorrow"}}`,
		"wrong shape": `{"five_hour":"full"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLimits([]byte(body))
			if !errors.Is(err, fetcherr.ErrParse) {
				t.Fatalf("ParseLimits() error = %v, want ErrParse", err)
			}
		})
	}
}

func TestParseLimitsAllowsNullWindows(t *testing.T) {
	limits, err := ParseLimits([]byte(`{"five_hour":null,"extra_usage":null}`))
	if err != nil {
		t.Fatalf("ParseLimits() error = %v", err)
	}
	if limits.FiveHour != nil || limits.ExtraUsage != nil {
		t.Fatalf("limits = %+v, want empty", limits)
	}
}
