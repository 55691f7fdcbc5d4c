package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/macfox/tokline/internal/budget"
	"github.com/macfox/tokline/internal/cache"
	"github.com/macfox/tokline/internal/config"
	"github.com/macfox/tokline/internal/journal"
	"github.com/macfox/tokline/internal/spawn"
	"github.com/macfox/tokline/internal/statusline"
	"github.com/macfox/tokline/internal/usage"
	"github.com/macfox/tokline/internal/websession"
)

var (
	configPath string
	outputJSON bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tokline",
		Short:         "Tokline renders cached Claude usage data for terminal statuslines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.tokline/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output JSON")

	rootCmd.AddCommand(newStatuslineCommand())
	rootCmd.AddCommand(newDailyCommand())
	rootCmd.AddCommand(newCostsCommand())
	rootCmd.AddCommand(newBlockCommand())
	rootCmd.AddCommand(newUsageCommand())
	rootCmd.AddCommand(newWebUsageCommand())
	rootCmd.AddCommand(newAvailableCommand())
	rootCmd.AddCommand(newClearCacheCommand())
	rootCmd.AddCommand(newRefreshCommand())
	rootCmd.AddCommand(newSessionCommand())
	rootCmd.AddCommand(newJournalCommand())
	rootCmd.AddCommand(newBudgetCommand())
	rootCmd.AddCommand(newConfigCommand())
	return rootCmd
}

func loadConfig() (config.Config, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(configPath, env)
}

// openService loads config and wires every source. The returned cleanup
// closes the journal and the log file.
func openService() (*statusline.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if _, err := config.EnsureSecureDataDir(cfg.Home); err != nil {
		return nil, nil, err
	}
	logger, logCloser, err := statusline.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokline: logging disabled: %v\n", err)
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		logCloser = io.NopCloser(nil)
	}
	svc, err := statusline.New(cfg, statusline.Deps{Logger: logger})
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close service", "error", err)
		}
		_ = logCloser.Close()
	}
	return svc, cleanup, nil
}

func newStatuslineCommand() *cobra.Command {
	var widgets []string
	var separator string
	cmd := &cobra.Command{
		Use:   "statusline",
		Short: "Print the statusline for the configured widgets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			cfg := svc.Config()
			if len(widgets) == 0 {
				widgets = cfg.Statusline.Widgets
			}
			if err := statusline.ValidateWidgets(widgets); err != nil {
				return err
			}
			if !cmd.Flags().Changed("separator") {
				separator = cfg.Statusline.Separator
			}
			snap := svc.Snapshot(cmd.Context(), widgets)
			if outputJSON {
				return printJSON(snap)
			}
			fmt.Println(statusline.Render(snap, widgets, separator))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&widgets, "widgets", nil, "comma-separated widgets (default from config)")
	cmd.Flags().StringVar(&separator, "separator", "", "widget separator (default from config)")
	return cmd
}

func newDailyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Show the cached daily cost report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			report := svc.DailyReport(cmd.Context())
			if outputJSON {
				return printJSON(report)
			}
			if report == nil {
				fmt.Println(noDataMessage(cmd.Context(), svc, cache.KindDaily))
				return nil
			}
			for _, entry := range report.Daily {
				fmt.Printf("%s %12s tokens  %s  %s\n", entry.Date, humanize.Comma(entry.TotalTokens), formatUSD(entry.TotalCost), strings.Join(entry.ModelsUsed, ","))
			}
			if report.Totals != nil {
				fmt.Printf("total      %12s tokens  %s\n", humanize.Comma(report.Totals.TotalTokens), formatUSD(report.Totals.TotalCost))
			}
			return nil
		},
	}
}

func newCostsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "costs",
		Short: "Show today, 7-day and 30-day spend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			agg := svc.CostAggregates(cmd.Context())
			if outputJSON {
				return printJSON(agg)
			}
			if agg == nil {
				fmt.Println(noDataMessage(cmd.Context(), svc, cache.KindDaily))
				return nil
			}
			fmt.Printf("today %s\n7d    %s\n30d   %s\n", formatUSD(agg.Daily), formatUSD(agg.Weekly), formatUSD(agg.Monthly))
			return nil
		},
	}
}

func newBlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "block",
		Short: "Show the active billing block",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			block := svc.ActiveBlock(cmd.Context())
			if outputJSON {
				return printJSON(block)
			}
			if block == nil {
				fmt.Println(noDataMessage(cmd.Context(), svc, cache.KindBlock))
				return nil
			}
			now := svc.Now()
			fmt.Printf("block %s - %s (ends %s)\n", block.StartTime.Local().Format("15:04"), block.EndTime.Local().Format("15:04"), humanize.RelTime(block.EndTime, now, "ago", "from now"))
			fmt.Printf("cost=%s tokens=%s cost/h=%s\n", formatUSD(block.CostUSD), humanize.Comma(block.TotalTokens), formatUSD(usage.CostPerHour(*block, now)))
			if block.BurnRate != nil {
				fmt.Printf("burn=%s tok/min\n", humanize.CommafWithDigits(*block.BurnRate, 1))
			}
			if p := usage.ProjectBlock(*block, now); p != nil {
				fmt.Printf("projected cost=%s tokens=%s\n", formatUSD(p.ProjectedCostUSD), humanize.Comma(p.ProjectedTokens))
			}
			return nil
		},
	}
}

func newUsageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show plan utilization from the OAuth usage endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			return printLimits(cmd.Context(), svc, cache.KindOAuth, svc.OAuthUsage(cmd.Context()))
		},
	}
}

func newWebUsageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "web-usage",
		Short: "Show plan utilization from the web session API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			return printLimits(cmd.Context(), svc, cache.KindWeb, svc.WebUsage(cmd.Context()))
		},
	}
}

func printLimits(ctx context.Context, svc *statusline.Service, kind cache.Kind, limits *usage.Limits) error {
	if outputJSON {
		return printJSON(limits)
	}
	if limits == nil {
		fmt.Println(noDataMessage(ctx, svc, kind))
		return nil
	}
	now := svc.Now()
	windows := []struct {
		name   string
		window *usage.Window
	}{
		{"five_hour", limits.FiveHour},
		{"seven_day", limits.SevenDay},
		{"seven_day_opus", limits.SevenDayOpus},
		{"seven_day_sonnet", limits.SevenDaySonnet},
	}
	for _, w := range windows {
		if w.window == nil {
			continue
		}
		line := fmt.Sprintf("%-16s %s %5.1f%%", w.name, progressBar(w.window.Utilization), w.window.Utilization)
		if reset, err := w.window.ResetTime(); err == nil {
			line += " resets " + humanize.RelTime(reset, now, "ago", "from now")
		}
		fmt.Println(line)
	}
	if x := limits.ExtraUsage; x != nil && x.IsEnabled {
		line := "extra_usage      enabled"
		if x.UsedCredits != nil && x.MonthlyLimit != nil {
			line += fmt.Sprintf(" %.0f / %.0f credits", *x.UsedCredits, *x.MonthlyLimit)
		}
		fmt.Println(line)
	}
	return nil
}

func noDataMessage(ctx context.Context, svc *statusline.Service, kind cache.Kind) string {
	state := svc.State(kind)
	switch {
	case state.TokenExpired:
		return "oauth token expired; sign in to Claude again"
	case state.SessionExpired:
		return "web session expired; run `tokline session set` or re-open claude.ai"
	case !state.Present && !svc.Available(ctx, statusline.SourceFor(kind)):
		return fmt.Sprintf("%s source unavailable", kind)
	case !state.Present:
		return "no data yet; a background refresh has been started"
	}
	return "no data"
}

func newAvailableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "Probe which usage sources can be queried",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			result := map[string]bool{}
			for _, source := range statusline.Sources() {
				result[string(source)] = svc.Available(cmd.Context(), source)
			}
			if outputJSON {
				return printJSON(result)
			}
			for _, source := range statusline.Sources() {
				status := "unavailable"
				if result[string(source)] {
					status = "available"
				}
				fmt.Printf("%-8s %s\n", source, status)
			}
			if result[string(statusline.SourceCostCLI)] {
				fmt.Printf("cost cli: %s\n", strings.Join(svc.CostCommand(), " "))
			}
			for _, kind := range cache.Kinds() {
				state := svc.State(kind)
				fetched := "never"
				if state.Present {
					fetched = humanize.RelTime(state.FetchedAt, svc.Now(), "ago", "from now")
				}
				fmt.Printf("cache %-6s policy=%s ttl=%s fetched=%s\n", kind, state.Policy, state.TTL, fetched)
			}
			return nil
		},
	}
}

func newClearCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop every cached entry and availability verdict",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := svc.ClearCache(); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]any{"status": "cleared"})
			}
			fmt.Println("cache cleared")
			return nil
		},
	}
}

// newRefreshCommand is what detached background refreshers run.
func newRefreshCommand() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:    "refresh",
		Short:  "Fetch one data kind into the cache",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := cache.ParseKind(kind)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			err = svc.Refresh(ctx, k)
			if store := svc.Journal(); store != nil && spawn.InBackground() {
				if _, pruneErr := store.DeleteOlderThan(ctx, svc.Config().Journal.RetentionDays); pruneErr != nil {
					fmt.Fprintf(os.Stderr, "prune journal: %v\n", pruneErr)
				}
			}
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(svc.State(k))
			}
			if !spawn.InBackground() {
				fmt.Printf("%s refreshed\n", k)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "data kind (daily, block, oauth, web)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newSessionCommand() *cobra.Command {
	sessionCmd := &cobra.Command{Use: "session", Short: "Manage the claude.ai web session"}

	var orgID string
	setCmd := &cobra.Command{
		Use:   "set <session-key>",
		Short: "Store a session key for the web usage source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sess := websession.Session{SessionKey: strings.TrimSpace(args[0]), OrganizationID: strings.TrimSpace(orgID)}
			if !sess.Valid() {
				return errors.New("session key is empty")
			}
			store := websession.NewConfigStore(cfg.Web.SessionPath)
			if err := store.Save(sess); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]any{"path": store.Path(), "session_key": sess.Redacted(), "organization_id": sess.OrganizationID, "status": "set"})
			}
			fmt.Printf("session saved to %s\n", store.Path())
			return nil
		},
	}
	setCmd.Flags().StringVar(&orgID, "org", "", "organization id (resolved on first fetch when omitted)")
	sessionCmd.AddCommand(setCmd)

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored session with the key redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := websession.NewConfigStore(cfg.Web.SessionPath)
			sess, err := store.Load()
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]any{"path": store.Path(), "session_key": sess.Redacted(), "organization_id": sess.OrganizationID, "configured": sess.Valid()})
			}
			if !sess.Valid() {
				fmt.Printf("no session configured (%s)\n", store.Path())
				return nil
			}
			org := sess.OrganizationID
			if org == "" {
				org = "(unresolved)"
			}
			fmt.Printf("session_key=%s organization=%s path=%s\n", sess.Redacted(), org, store.Path())
			return nil
		},
	})
	return sessionCmd
}

func openJournal() (*journal.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, errors.New("journal is disabled in config")
	}
	return journal.Open(cfg.Journal.DBPath, nil)
}

func newJournalCommand() *cobra.Command {
	journalCmd := &cobra.Command{Use: "journal", Short: "Inspect the fetch journal"}

	var kind string
	var since string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent fetch attempts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sinceTime, err := parseWindowStart(since)
			if err != nil {
				return err
			}
			store, err := openJournal()
			if err != nil {
				return err
			}
			defer store.Close()
			records, err := store.List(cmd.Context(), journal.QueryFilter{Limit: limit, Kind: kind, Since: sinceTime})
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(records)
			}
			for i := len(records) - 1; i >= 0; i-- {
				rec := records[i]
				line := fmt.Sprintf("%s %s (%s) %-6s %-10s %-6s latency=%dms pid=%d",
					rec.ID,
					rec.Timestamp.Format(time.RFC3339),
					humanize.Time(rec.Timestamp),
					rec.Kind,
					rec.Policy,
					rec.Outcome,
					rec.LatencyMS,
					rec.PID,
				)
				if rec.ErrorClass != "" {
					line += fmt.Sprintf(" error=%s %s", rec.ErrorClass, rec.ErrorMessage)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&kind, "kind", "", "filter by data kind")
	listCmd.Flags().StringVar(&since, "since", "", "time window (e.g. 1h, 7d)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "maximum records")
	journalCmd.AddCommand(listCmd)

	var period string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize fetch attempts per data kind",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sinceTime, err := parseWindowStart(period)
			if err != nil {
				return err
			}
			store, err := openJournal()
			if err != nil {
				return err
			}
			defer store.Close()
			rows, err := store.Stats(cmd.Context(), sinceTime)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(rows)
			}
			if len(rows) == 0 {
				fmt.Println("no fetches recorded")
				return nil
			}
			for _, row := range rows {
				last := "never"
				if !row.LastSuccess.IsZero() {
					last = humanize.Time(row.LastSuccess)
				}
				fmt.Printf("%-6s attempts=%d failures=%d auth=%d avg=%.0fms last_ok=%s\n", row.Kind, row.Attempts, row.Failures, row.AuthFailures, row.AvgLatencyMS, last)
			}
			return nil
		},
	}
	statsCmd.Flags().StringVar(&period, "since", "24h", "time window (e.g. 1h, 7d)")
	journalCmd.AddCommand(statsCmd)

	var days int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal records older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.Journal.RetentionDays
			}
			store, err := openJournal()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.DeleteOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]any{"deleted": n, "days": days})
			}
			fmt.Printf("deleted %d records older than %d days\n", n, days)
			return nil
		},
	}
	pruneCmd.Flags().IntVar(&days, "days", 0, "retention in days (default from config)")
	journalCmd.AddCommand(pruneCmd)

	return journalCmd
}

func newBudgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Compare spend against the configured budgets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			cfg := svc.Config()
			limits := cfg.Budget.Limits()
			agg := svc.CostAggregates(cmd.Context())
			statuses := budget.Evaluate(agg, limits, svc.Now())
			if outputJSON {
				return printJSON(map[string]any{"level": budget.Worst(statuses), "budgets": statuses})
			}
			if agg == nil {
				fmt.Println(noDataMessage(cmd.Context(), svc, cache.KindDaily))
				return nil
			}
			if len(statuses) == 0 {
				fmt.Printf("no budgets configured (set [budget] in %s)\n", cfg.Path)
				return nil
			}
			for _, st := range statuses {
				line := fmt.Sprintf("%-8s %s / %s %s %5.1f%% %s", st.Period, formatUSD(st.SpentUSD), formatUSD(st.LimitUSD), progressBar(st.Percent), st.Percent, st.Level)
				if !st.ResetsAt.IsZero() {
					line += " resets " + humanize.RelTime(st.ResetsAt, svc.Now(), "ago", "from now")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Manage the tokline config file"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective config to the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfg.Path)
			} else if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("stat config: %w", err)
			}
			if err := config.Save(cfg.Path, cfg); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]any{"path": cfg.Path, "status": "written"})
			}
			fmt.Printf("config written to %s\n", cfg.Path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(initCmd)

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cfg)
			}
			fmt.Printf("# %s\n", cfg.Path)
			return toml.NewEncoder(os.Stdout).Encode(cfg)
		},
	})
	return configCmd
}

func formatUSD(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func progressBar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	const width = 10
	filled := int(pct/100*width + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func parseWindowStart(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseDuration(raw)
	if err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	if strings.HasSuffix(raw, "d") {
		n, convErr := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if convErr != nil {
			return time.Time{}, fmt.Errorf("parse --since %q", raw)
		}
		return time.Now().UTC().Add(-time.Duration(n) * 24 * time.Hour), nil
	}
	return time.Time{}, fmt.Errorf("invalid --since format %q", raw)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
