package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zinwlad/game-timer/internal/config"
	"github.com/zinwlad/game-timer/internal/policy"
)

var (
	checkDay     string
	checkTime    string
	checkToday   time.Duration
	checkWeek    time.Duration
	checkProcess []string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the play policy decision",
	Long:  `Evaluate the configured play policy for a given time and usage, without starting the engine.`,
	Example: `  gametimer check --day saturday --time 23:30
  gametimer -c config.yaml check --today 90m --process minecraft.exe`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	checkCmd.Flags().DurationVar(&checkToday, "today", 0, "Play time already recorded today")
	checkCmd.Flags().DurationVar(&checkWeek, "week", 0, "Play time already recorded this week")
	checkCmd.Flags().StringSliceVar(&checkProcess, "process", nil, "Monitored processes assumed running - defaults to the first configured one")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	at, err := parseCheckTime(checkDay, checkTime, time.Now())
	if err != nil {
		return err
	}

	engine, err := policy.NewEngine(policyConfig(cfg.Policy), zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	if err != nil {
		return fmt.Errorf("failed to load play policy: %w", err)
	}

	running := checkProcess
	if len(running) == 0 && len(cfg.Monitor.Processes) > 0 {
		running = cfg.Monitor.Processes[:1]
	}

	in := policy.Input{
		Time:              at,
		TodaySeconds:      int64(checkToday / time.Second),
		WeeklySeconds:     int64(checkWeek / time.Second),
		DailyLimitSeconds: int64(config.ParseDuration(cfg.Limits.DailyLimit, 0) / time.Second),
		Running:           running,
	}
	decision, err := engine.Evaluate(cmd.Context(), in)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	if !cfg.Policy.Enabled {
		color.New(color.FgYellow).Fprintln(os.Stdout, "Note: policy.enabled is false; the engine does not consult this policy.")
	}
	printDecision(os.Stdout, in, decision)
	return nil
}

func printDecision(w io.Writer, in policy.Input, decision policy.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	_, _ = cyan.Fprintln(w, "Play policy check")
	fmt.Fprintf(w, "  Time:      %s\n", in.Time.Format("Monday 15:04"))
	fmt.Fprintf(w, "  Today:     %s\n", formatSeconds(in.TodaySeconds))
	fmt.Fprintf(w, "  This week: %s\n", formatSeconds(in.WeeklySeconds))
	fmt.Fprintf(w, "  Running:   %s\n", strings.Join(in.Running, ", "))

	if decision.Allow {
		_, _ = green.Fprintln(w, "\n  ALLOW")
		return
	}
	reason := decision.Reason
	if reason == "" {
		reason = "no reason given"
	}
	_, _ = red.Fprintf(w, "\n  DENY (%s)\n", reason)
}

// parseCheckTime parses day and time flags into the next matching instant
// at or after now's date.
func parseCheckTime(dayStr, timeStr string, now time.Time) (time.Time, error) {
	hour := now.Hour()
	minute := now.Minute()

	if timeStr != "" {
		minutes, err := config.ParseClockMinute(timeStr)
		if err != nil {
			return time.Time{}, err
		}
		hour, minute = minutes/60, minutes%60
	}

	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	daysUntilTarget := int(targetDay - now.Weekday())
	if daysUntilTarget < 0 {
		daysUntilTarget += 7
	}

	targetDate := now.AddDate(0, 0, daysUntilTarget)
	return time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), hour, minute, 0, 0, now.Location()), nil
}
