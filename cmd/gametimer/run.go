package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zinwlad/game-timer/internal/achievement"
	"github.com/zinwlad/game-timer/internal/clock"
	"github.com/zinwlad/game-timer/internal/config"
	"github.com/zinwlad/game-timer/internal/display"
	"github.com/zinwlad/game-timer/internal/display/console"
	"github.com/zinwlad/game-timer/internal/display/ws"
	"github.com/zinwlad/game-timer/internal/enforce"
	"github.com/zinwlad/game-timer/internal/metrics"
	"github.com/zinwlad/game-timer/internal/policy"
	"github.com/zinwlad/game-timer/internal/procscan"
	"github.com/zinwlad/game-timer/internal/systemd"
	"github.com/zinwlad/game-timer/internal/usage"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var _ console.Commander = (*enforce.Coordinator)(nil)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the enforcement engine",
	Long:  `Start monitoring game processes, the session timer, usage recording and enforcement.`,
	RunE:  runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Strs("processes", cfg.Monitor.Processes).
		Msg("Starting gametimer")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openEngineStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	// Process scanner
	enum, err := procscan.NewPsutilEnumerator(cfg.Monitor.MatchPaths)
	if err != nil {
		return fmt.Errorf("failed to initialize process enumerator: %w", err)
	}
	clk := clock.Real{}
	scanner := procscan.NewCache(enum, clk, scanConfig(cfg), logger)

	// Usage ledger
	ledger := usage.NewLedger(store.Usage(), clk, ledgerConfig(cfg), logger)

	// Display surface
	var (
		surface enforce.Display = display.None{}
		term    *console.Display
		bridge  *ws.Server
	)
	switch cfg.Display.Type {
	case "console":
		term = console.New(os.Stdin, os.Stdout, logger)
		term.SetLimitStep(config.ParseDuration(cfg.Limits.LimitStep, console.DefaultLimitStep))
		surface = term
	case "websocket":
		bridge = ws.NewServer(cfg.Display.ListenAddr, logger)
		if sdListeners.Display != nil {
			bridge.SetListener(sdListeners.Display)
		}
		surface = bridge
	}

	// Optional play policy
	var (
		policyEngine *policy.Engine
		evaluator    enforce.PolicyEvaluator
	)
	if cfg.Policy.Enabled {
		policyEngine, err = policy.NewEngine(policyConfig(cfg.Policy), logger)
		if err != nil {
			return fmt.Errorf("failed to load play policy: %w", err)
		}
		evaluator = policyEngine
	}

	tracker := achievement.NewTracker(surface, logger)

	coordinator := enforce.New(enforce.Deps{
		Clock:   clk,
		Scanner: scanner,
		Ledger:  ledger,
		State:   store.State(),
		Display: surface,
		Tracker: tracker,
		Policy:  evaluator,
	}, engineSettings(cfg), logger)

	if term != nil {
		term.SetController(coordinator)
	}
	if bridge != nil {
		bridge.SetController(coordinator)
	}

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled || sdListeners.Metrics != nil {
		metricsServer = metrics.NewServer(cfg.Metrics.ListenAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error { return ledger.Run(gctx) })
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	if interval := systemd.WatchdogInterval(); interval > 0 {
		g.Go(func() error { return watchdog(gctx, interval, logger) })
	}

	logger.Info().
		Str("display", cfg.Display.Type).
		Str("storage", cfg.Storage.Type).
		Bool("policy", cfg.Policy.Enabled).
		Msg("gametimer startup complete")

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info().Msg("SIGHUP received, reloading configuration...")
				reload(coordinator, ledger, policyEngine, term, logger)
				continue
			}
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break wait
		case <-gctx.Done():
			logger.Error().Msg("A component stopped unexpectedly, shutting down")
			break wait
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancel()
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := coordinator.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping coordinator")
	}
	if err := ledger.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error flushing usage ledger")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("gametimer stopped")
	return runErr
}

// reload applies a fresh configuration snapshot. Storage, display and
// listener changes need a restart.
func reload(c *enforce.Coordinator, ledger *usage.Ledger, engine *policy.Engine, term *console.Display, logger zerolog.Logger) {
	if err := systemd.NotifyReloading(); err != nil {
		logger.Debug().Err(err).Msg("Failed to send systemd reloading notification")
	}
	defer func() {
		if err := systemd.NotifyReady(); err != nil {
			logger.Debug().Err(err).Msg("Failed to send systemd ready notification")
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload configuration, keeping current settings")
		return
	}

	c.ApplySettings(engineSettings(cfg))
	ledger.SetKnownProcesses(cfg.Monitor.Processes)
	if term != nil {
		term.SetLimitStep(config.ParseDuration(cfg.Limits.LimitStep, console.DefaultLimitStep))
	}
	if engine != nil {
		if err := engine.Reload(policyConfig(cfg.Policy)); err != nil {
			logger.Error().Err(err).Msg("Failed to reload play policy")
		}
	}

	logger.Info().Strs("processes", cfg.Monitor.Processes).Msg("Configuration reloaded")
}

func watchdog(ctx context.Context, interval time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Debug().Err(err).Msg("Failed to send systemd watchdog notification")
			}
		}
	}
}
