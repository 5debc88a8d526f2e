package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/config"
	"github.com/zinwlad/game-timer/internal/usage"
)

var (
	statsDate string
	statsGap  time.Duration
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recorded play time",
	Long:  `Print the daily total, the weekly total and a per-process breakdown from the usage ledger.`,
	Example: `  gametimer stats
  gametimer stats --date 2024-04-01 --gap 30m`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDate, "date", "", "Day to report (YYYY-MM-DD) - defaults to today")
	statsCmd.Flags().DurationVar(&statsGap, "gap", 0, "Gap that separates two sessions - defaults to ledger.session_gap")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	day, err := parseStatsDate(statsDate, time.Now())
	if err != nil {
		return err
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	ledger := usage.NewLedger(store.Usage(), clock.Real{}, ledgerConfig(cfg), logger)
	printStats(cmd.Context(), os.Stdout, ledger, day, statsGap, config.ParseDuration(cfg.Limits.DailyLimit, 0))
	return nil
}

func parseStatsDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return clock.StartOfDay(now), nil
	}
	day, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return day, nil
}

// printStats writes the report for day. A positive limit adds the time
// left before the daily limit.
func printStats(ctx context.Context, w io.Writer, ledger *usage.Ledger, day time.Time, gap, limit time.Duration) {
	cyan := color.New(color.FgCyan, color.Bold)
	bold := color.New(color.Bold)

	weekStart := usage.WeekStart(day)
	daily := ledger.DailyTotal(ctx, day)
	weekly := ledger.WeeklyTotal(ctx, weekStart)

	_, _ = cyan.Fprintf(w, "Play time for %s\n", day.Format("Monday, 2006-01-02"))
	fmt.Fprintf(w, "  Today:     %s\n", bold.Sprint(formatSeconds(daily)))
	fmt.Fprintf(w, "  This week: %s (since %s)\n", bold.Sprint(formatSeconds(weekly)), weekStart.Format("2006-01-02"))
	if limit > 0 {
		left := int64(limit/time.Second) - daily
		if left > 0 {
			fmt.Fprintf(w, "  Remaining: %s of %s\n", formatSeconds(left), formatSeconds(int64(limit/time.Second)))
		} else {
			_, _ = color.New(color.FgRed, color.Bold).Fprintf(w, "  Remaining: none, daily limit of %s reached\n", formatSeconds(int64(limit/time.Second)))
		}
	}

	dayStart := clock.StartOfDay(day)
	totals := ledger.PerProcessTotal(ctx, day)
	sessions := ledger.LastSeenAndSessionCount(ctx, dayStart, dayStart.AddDate(0, 0, 1), gap)
	if len(totals) == 0 {
		fmt.Fprintln(w, "\n  No play recorded.")
		return
	}

	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if totals[names[i]] != totals[names[j]] {
			return totals[names[i]] > totals[names[j]]
		}
		return names[i] < names[j]
	})

	fmt.Fprintln(w)
	_, _ = bold.Fprintf(w, "  %-24s %10s %9s  %s\n", "PROCESS", "TIME", "SESSIONS", "LAST SEEN")
	for _, name := range names {
		st := sessions[name]
		fmt.Fprintf(w, "  %-24s %10s %9d  %s\n",
			name, formatSeconds(totals[name]), st.SessionCount, st.LastSeen.Format("15:04:05"))
	}
}

func formatSeconds(secs int64) string {
	d := time.Duration(secs) * time.Second
	return fmt.Sprintf("%dh%02dm%02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
