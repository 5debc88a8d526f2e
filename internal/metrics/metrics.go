package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Process scan metrics
	ProcessScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametimer_process_scans_total",
			Help: "OS process enumerations by outcome",
		},
		[]string{"result"},
	)

	ProcessScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gametimer_process_scan_duration_seconds",
			Help:    "Duration of one OS process enumeration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	MonitoredRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gametimer_monitored_running",
			Help: "1 when a monitored process was seen in the last snapshot",
		},
	)

	// Ledger metrics
	UsageSecondsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametimer_usage_seconds_recorded_total",
			Help: "Usage seconds handed to the ledger",
		},
		[]string{"process", "source"},
	)

	LedgerFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametimer_ledger_flushes_total",
			Help: "Ledger buffer flushes by outcome",
		},
		[]string{"result"},
	)

	LedgerBufferedRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gametimer_ledger_buffered_records",
			Help: "Records waiting in the ledger buffer",
		},
	)

	LedgerPurgedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gametimer_ledger_purged_records_total",
			Help: "Records removed by retention",
		},
	)

	// Enforcement metrics
	EnforcementState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gametimer_enforcement_state",
			Help: "1 for the current enforcement state",
		},
		[]string{"state"},
	)

	EnforcementTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametimer_enforcement_transitions_total",
			Help: "State machine transitions",
		},
		[]string{"from", "to"},
	)

	RestPeriodsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametimer_rest_periods_started_total",
			Help: "Rest periods opened by reason",
		},
		[]string{"reason"},
	)

	CollaboratorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametimer_collaborator_failures_total",
			Help: "Display or tracker calls that failed, timed out or were dropped",
		},
		[]string{"collaborator", "call"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gametimer_tick_duration_seconds",
			Help:    "Coordinator tick duration",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		ProcessScansTotal,
		ProcessScanDuration,
		MonitoredRunning,
		UsageSecondsRecorded,
		LedgerFlushesTotal,
		LedgerBufferedRecords,
		LedgerPurgedRecords,
		EnforcementState,
		EnforcementTransitions,
		RestPeriodsStarted,
		CollaboratorFailures,
		TickDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
