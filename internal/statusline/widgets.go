package statusline

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/macfox/tokline/internal/budget"
	"github.com/macfox/tokline/internal/cache"
	"github.com/macfox/tokline/internal/usage"
)

const (
	PlaceholderUnavailable = "N/A"
	PlaceholderNoData      = "--"
	PlaceholderExpired     = "expired"
)

// widgetKinds lists the data kinds each widget reads. Widgets with no kinds
// read local files only.
var widgetKinds = map[string][]cache.Kind{
	"today":         {cache.KindDaily},
	"week":          {cache.KindDaily},
	"month":         {cache.KindDaily},
	"budget":        {cache.KindDaily},
	"block":         {cache.KindBlock},
	"burn":          {cache.KindBlock},
	"projection":    {cache.KindBlock},
	"five_hour":     {cache.KindOAuth},
	"seven_day":     {cache.KindOAuth},
	"extra_usage":   {cache.KindOAuth},
	"web_five_hour": {cache.KindWeb},
	"web_seven_day": {cache.KindWeb},
	"mcp":           nil,
}

func Widgets() []string {
	names := make([]string, 0, len(widgetKinds))
	for name := range widgetKinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func ValidateWidgets(widgets []string) error {
	for _, w := range widgets {
		if _, ok := widgetKinds[w]; !ok {
			return fmt.Errorf("unknown widget %q (known: %s)", w, strings.Join(Widgets(), ", "))
		}
	}
	return nil
}

// KindsFor returns the data kinds needed by widgets, in canonical order.
func KindsFor(widgets []string) []cache.Kind {
	need := map[cache.Kind]bool{}
	for _, w := range widgets {
		for _, k := range widgetKinds[w] {
			need[k] = true
		}
	}
	out := []cache.Kind{}
	for _, k := range cache.Kinds() {
		if need[k] {
			out = append(out, k)
		}
	}
	return out
}

// Slot is one data kind's outcome for a render.
type Slot struct {
	Available      bool `json:"available"`
	TokenExpired   bool `json:"token_expired,omitempty"`
	SessionExpired bool `json:"session_expired,omitempty"`
}

type Snapshot struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Daily       *usage.DailyReport    `json:"daily,omitempty"`
	Aggregates  *usage.CostAggregates `json:"aggregates,omitempty"`
	Block       *usage.ActiveBlock    `json:"block,omitempty"`
	OAuth       *usage.Limits         `json:"oauth,omitempty"`
	Web         *usage.Limits         `json:"web,omitempty"`
	Budgets     []budget.Status       `json:"budgets,omitempty"`
	Servers     int                   `json:"servers"`
	Slots       map[cache.Kind]Slot   `json:"slots"`
	Warnings    []string              `json:"warnings,omitempty"`
}

// Snapshot gathers the data kinds needed by widgets concurrently. Kinds no
// widget needs are never touched. It never fails: problems become warnings.
func (s *Service) Snapshot(ctx context.Context, widgets []string) Snapshot {
	snap := Snapshot{GeneratedAt: s.clock.Now(), Slots: map[cache.Kind]Slot{}}
	kinds := KindsFor(widgets)
	slots := make([]Slot, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			switch kind {
			case cache.KindDaily:
				snap.Daily = s.daily.Get(gctx)
				slots[i] = s.slot(gctx, kind, snap.Daily != nil)
			case cache.KindBlock:
				snap.Block = s.block.Get(gctx)
				slots[i] = s.slot(gctx, kind, snap.Block != nil)
			case cache.KindOAuth:
				snap.OAuth = s.oauth.Get(gctx)
				slots[i] = s.slot(gctx, kind, snap.OAuth != nil)
			case cache.KindWeb:
				snap.Web = s.web.Get(gctx)
				slots[i] = s.slot(gctx, kind, snap.Web != nil)
			}
			return nil
		})
	}
	_ = g.Wait()
	for i, kind := range kinds {
		snap.Slots[kind] = slots[i]
	}

	if snap.Daily != nil {
		snap.Aggregates = usage.Aggregate(snap.Daily, snap.GeneratedAt)
		snap.Budgets = budget.Evaluate(snap.Aggregates, s.cfg.Budget.Limits(), snap.GeneratedAt)
	}
	if slices.Contains(widgets, "mcp") {
		n, err := ServerCount(s.cfg.ClaudeDir)
		if err != nil {
			snap.Warnings = append(snap.Warnings, "mcp: "+err.Error())
		}
		snap.Servers = n
	}
	return snap
}

// slot decides between "unavailable" and "no data". A kind that has ever
// been fetched was available at the time; otherwise the memoized probe
// verdict from Get is consulted.
func (s *Service) slot(ctx context.Context, kind cache.Kind, hasData bool) Slot {
	state := s.State(kind)
	slot := Slot{
		Available:      hasData || state.Present,
		TokenExpired:   state.TokenExpired,
		SessionExpired: state.SessionExpired,
	}
	if !slot.Available {
		slot.Available = s.Available(ctx, SourceFor(kind))
	}
	return slot
}

// Render composes the line for widgets, in order.
func Render(snap Snapshot, widgets []string, separator string) string {
	parts := make([]string, 0, len(widgets))
	for _, w := range widgets {
		parts = append(parts, renderWidget(snap, w))
	}
	return strings.Join(parts, separator)
}

func renderWidget(snap Snapshot, widget string) string {
	kinds := widgetKinds[widget]
	if len(kinds) == 1 {
		if placeholder, ok := placeholderFor(snap, kinds[0]); ok {
			return label(widget) + placeholder
		}
	}
	now := snap.GeneratedAt
	switch widget {
	case "today":
		return label(widget) + usd(snap.Aggregates.Daily)
	case "week":
		return label(widget) + usd(snap.Aggregates.Weekly)
	case "month":
		return label(widget) + usd(snap.Aggregates.Monthly)
	case "budget":
		if len(snap.Budgets) == 0 {
			return label(widget) + PlaceholderNoData
		}
		worst := snap.Budgets[0]
		for _, b := range snap.Budgets {
			if b.Percent > worst.Percent {
				worst = b
			}
		}
		return fmt.Sprintf("%s%s %.0f%% %s", label(widget), worst.Period, worst.Percent, levelMark(worst.Level))
	case "block":
		left := snap.Block.EndTime.Sub(now)
		if left < 0 {
			left = 0
		}
		return fmt.Sprintf("%s%s (%s left)", label(widget), usd(snap.Block.CostUSD), shortDuration(left))
	case "burn":
		if snap.Block.BurnRate == nil {
			return label(widget) + PlaceholderNoData
		}
		return fmt.Sprintf("%s%s tok/min %s/h", label(widget), humanize.Comma(int64(math.Round(*snap.Block.BurnRate))), usd(usage.CostPerHour(*snap.Block, now)))
	case "projection":
		p := usage.ProjectBlock(*snap.Block, now)
		if p == nil {
			return label(widget) + PlaceholderNoData
		}
		return label(widget) + usd(p.ProjectedCostUSD)
	case "five_hour":
		return label(widget) + window(snap.OAuth.FiveHour, now)
	case "seven_day":
		return label(widget) + window(snap.OAuth.SevenDay, now)
	case "extra_usage":
		x := snap.OAuth.ExtraUsage
		switch {
		case x == nil || !x.IsEnabled:
			return label(widget) + "off"
		case x.Utilization != nil:
			return fmt.Sprintf("%s%.0f%%", label(widget), *x.Utilization)
		case x.UsedCredits != nil:
			return fmt.Sprintf("%s%.0f", label(widget), *x.UsedCredits)
		}
		return label(widget) + PlaceholderNoData
	case "web_five_hour":
		return label(widget) + window(snap.Web.FiveHour, now)
	case "web_seven_day":
		return label(widget) + window(snap.Web.SevenDay, now)
	case "mcp":
		return fmt.Sprintf("%s%d", label(widget), snap.Servers)
	}
	return widget + "?"
}

func placeholderFor(snap Snapshot, kind cache.Kind) (string, bool) {
	slot, ok := snap.Slots[kind]
	if !ok || !slot.Available {
		return PlaceholderUnavailable, true
	}
	if slot.TokenExpired || slot.SessionExpired {
		if !hasData(snap, kind) {
			return PlaceholderExpired, true
		}
	}
	if !hasData(snap, kind) {
		return PlaceholderNoData, true
	}
	return "", false
}

func hasData(snap Snapshot, kind cache.Kind) bool {
	switch kind {
	case cache.KindDaily:
		return snap.Aggregates != nil
	case cache.KindBlock:
		return snap.Block != nil
	case cache.KindOAuth:
		return snap.OAuth != nil
	default:
		return snap.Web != nil
	}
}

var labels = map[string]string{
	"today":         "today ",
	"week":          "7d ",
	"month":         "30d ",
	"budget":        "budget ",
	"block":         "block ",
	"burn":          "burn ",
	"projection":    "proj ",
	"five_hour":     "5h ",
	"seven_day":     "7d ",
	"extra_usage":   "extra ",
	"web_five_hour": "web 5h ",
	"web_seven_day": "web 7d ",
	"mcp":           "mcp ",
}

func label(widget string) string {
	return labels[widget]
}

func usd(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func window(w *usage.Window, now time.Time) string {
	if w == nil {
		return PlaceholderNoData
	}
	out := fmt.Sprintf("%.0f%%", w.Utilization)
	if left, err := w.Remaining(now); err == nil && w.ResetsAt != "" {
		out += " " + shortDuration(left)
	}
	return out
}

func shortDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd%dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

func levelMark(level budget.Level) string {
	switch level {
	case budget.LevelExceeded:
		return "!!"
	case budget.LevelWarning:
		return "!"
	default:
		return "ok"
	}
}
