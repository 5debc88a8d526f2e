package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zinwlad/game-timer/internal/config"
	"github.com/zinwlad/game-timer/internal/storage"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show persisted enforcement state",
	Long:  `Print the rest period and timer state that a restart would restore.`,
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage, zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	return printState(cmd.Context(), os.Stdout, store.State(), time.Now())
}

func printState(ctx context.Context, w io.Writer, state storage.StateStore, now time.Time) error {
	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = cyan.Fprintln(w, "[rest]")
	rest, err := state.GetRestPeriod(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		_, _ = green.Fprintln(w, "  none")
	case err != nil:
		return fmt.Errorf("failed to read rest period: %w", err)
	case !rest.Until.After(now):
		_, _ = green.Fprintf(w, "  expired at %s (%s)\n", rest.Until.Format(time.RFC3339), rest.Reason)
	default:
		_, _ = red.Fprintf(w, "  active until %s (%s, %s left)\n",
			rest.Until.Format(time.RFC3339), rest.Reason, rest.Until.Sub(now).Round(time.Second))
	}

	_, _ = cyan.Fprintln(w, "\n[timer]")
	ts, err := state.GetTimerState(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fmt.Fprintln(w, "  never saved")
		return nil
	case err != nil:
		return fmt.Errorf("failed to read timer state: %w", err)
	}

	status := "stopped"
	switch {
	case ts.Expired:
		status = "expired"
	case ts.Running && ts.Paused:
		status = "paused"
	case ts.Running:
		status = "running"
	}
	fmt.Fprintf(w, "  mode:      %s\n", ts.Mode)
	fmt.Fprintf(w, "  status:    %s\n", status)
	if ts.Mode == storage.ModeCountdown {
		fmt.Fprintf(w, "  remaining: %s of %s\n", formatSeconds(ts.RemainingSeconds), formatSeconds(ts.InitialSeconds))
	} else {
		fmt.Fprintf(w, "  elapsed:   %s\n", formatSeconds(ts.ElapsedSeconds))
	}
	fmt.Fprintf(w, "  saved at:  %s\n", ts.SavedAt.Format(time.RFC3339))
	return nil
}
