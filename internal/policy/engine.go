package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Query is the rule every play policy must define.
const Query = "data.gametimer.play.decision"

//go:embed play.rego
var defaultPolicy string

// Config selects the policy source and the quiet-hours window passed to it.
type Config struct {
	// Dir holds .rego files that replace the embedded policy. Empty uses
	// the embedded quiet-hours policy.
	Dir string

	QuietHours bool
	QuietStart int // minute of day
	QuietEnd   int // minute of day
}

// Input carries the facts a policy decides on.
type Input struct {
	Time              time.Time
	TodaySeconds      int64
	WeeklySeconds     int64
	DailyLimitSeconds int64
	Running           []string
}

// Decision is the result of the play query.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Engine evaluates the play policy with a prepared OPA query.
type Engine struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	cfg   Config
	query rego.PreparedEvalQuery
}

// NewEngine loads and compiles the play policy.
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		logger: logger.With().Str("component", "policy").Logger(),
	}
	if err := e.Reload(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload recompiles the policy with a new configuration. On failure the
// previous query stays in effect.
func (e *Engine) Reload(cfg Config) error {
	modules, err := loadModules(cfg.Dir)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(Query)}
	for _, name := range sortedKeys(modules) {
		opts = append(opts, rego.Module(name, modules[name]))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare play query: %w", err)
	}

	e.mu.Lock()
	e.cfg = cfg
	e.query = query
	e.mu.Unlock()

	src := cfg.Dir
	if src == "" {
		src = "embedded"
	}
	e.logger.Info().Str("source", src).Int("modules", len(modules)).Bool("quiet_hours", cfg.QuietHours).Msg("Play policy loaded")
	return nil
}

// Evaluate runs the play query for the given facts.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	e.mu.RLock()
	cfg := e.cfg
	query := e.query
	e.mu.RUnlock()

	startTime := time.Now()
	results, err := query.Eval(ctx, rego.EvalInput(buildInput(cfg, in)))
	if err != nil {
		return Decision{}, fmt.Errorf("play query evaluation failed: %w", err)
	}
	e.logger.Debug().Dur("duration", time.Since(startTime)).Msg("Play query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("no result from play query")
	}

	raw, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal play decision: %w", err)
	}
	var decision Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return Decision{}, fmt.Errorf("failed to unmarshal play decision: %w", err)
	}
	return decision, nil
}

func buildInput(cfg Config, in Input) map[string]interface{} {
	running := in.Running
	if running == nil {
		running = []string{}
	}
	return map[string]interface{}{
		"weekday":             int(in.Time.Weekday()),
		"minute_of_day":       in.Time.Hour()*60 + in.Time.Minute(),
		"today_seconds":       in.TodaySeconds,
		"weekly_seconds":      in.WeeklySeconds,
		"daily_limit_seconds": in.DailyLimitSeconds,
		"running":             running,
		"quiet": map[string]interface{}{
			"enabled": cfg.QuietHours,
			"start":   cfg.QuietStart,
			"end":     cfg.QuietEnd,
		},
	}
}

// loadModules returns module sources keyed by file name.
func loadModules(dir string) (map[string]string, error) {
	if dir == "" {
		if _, err := ast.ParseModule("play.rego", defaultPolicy); err != nil {
			return nil, fmt.Errorf("failed to parse embedded policy: %w", err)
		}
		return map[string]string{"play.rego": defaultPolicy}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", dir)
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		if _, err := ast.ParseModule(file, string(content)); err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}
		modules[file] = string(content)
	}
	return modules, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
