// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment defines a chaos engineering test against the lending workflow.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
}

// Metric defines a measurable system property.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

// Threshold bounds an acceptable metric value.
type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action represents a fault injection, load, or recovery step.
type Action struct {
	Type    string // inject, load, recover
	Target  string
	Execute func(context.Context) error
}

// Assertion validates a metric after the experiment.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures experiment execution data.
type Result struct {
	ExperimentName   string             `json:"experiment_name"`
	StartTime        time.Time          `json:"start_time"`
	EndTime          time.Time          `json:"end_time"`
	Duration         time.Duration      `json:"duration"`
	HypothesisHeld   bool               `json:"hypothesis_held"`
	SteadyStateValid bool               `json:"steady_state_valid"`
	Violations       []MetricViolation  `json:"violations"`
	Observations     map[string]float64 `json:"observations"`
	ErrorEvents      []ErrorEvent       `json:"error_events"`
	Failed           []string           `json:"failed_assertions,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// ErrSteadyState aborts an experiment whose system is already unhealthy.
var ErrSteadyState = errors.New("steady state invalid - aborting experiment")

// Engine orchestrates chaos experiments.
type Engine struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	mu      sync.Mutex
	results []Result
}

// NewEngine creates an engine. A nil logger means slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tracer: otel.Tracer("libralend/chaos"),
		logger: logger,
	}
}

// Run executes a single experiment: steady state, injection, rollback,
// then observation and assertions.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string]float64),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	// Phase 1: validate steady state
	span.AddEvent("validating_steady_state")
	if violations := e.sample(ctx, exp.SteadyState, nil); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyState
	}
	result.SteadyStateValid = true

	// Phase 2: inject chaos
	span.AddEvent("injecting_chaos")
	e.execute(ctx, exp.Method, result)

	// Phase 3: roll back
	span.AddEvent("rolling_back")
	e.execute(ctx, exp.Rollback, result)

	// Phase 4: observe the settled system
	span.AddEvent("observing_system")
	result.Violations = e.sample(ctx, exp.SteadyState, result.Observations)

	// Phase 5: validate assertions
	span.AddEvent("validating_assertions")
	for _, a := range exp.Validation {
		v, ok := result.Observations[a.Metric]
		if !ok || !a.Condition(v) {
			result.Failed = append(result.Failed, fmt.Sprintf("%s: %s", a.Metric, a.Message))
		}
	}
	result.HypothesisHeld = len(result.Violations) == 0 && len(result.Failed) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	e.logger.Info("experiment finished",
		"experiment", exp.Name,
		"hypothesis_held", result.HypothesisHeld,
		"violations", len(result.Violations),
		"duration", result.Duration)
	return result, nil
}

// RunAll runs experiments in order. An aborted experiment is logged and
// skipped; the rest still run.
func (e *Engine) RunAll(ctx context.Context, exps []Experiment) []Result {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day")
	defer span.End()

	results := make([]Result, 0, len(exps))
	for i, exp := range exps {
		if ctx.Err() != nil {
			break
		}
		e.logger.Info("starting experiment",
			"n", i+1, "of", len(exps), "experiment", exp.Name, "hypothesis", exp.Hypothesis)
		res, err := e.Run(ctx, exp)
		if err != nil {
			e.logger.Error("experiment aborted", "experiment", exp.Name, "error", err)
		}
		results = append(results, *res)
	}
	return results
}

// Results returns every completed experiment result.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

func (e *Engine) execute(ctx context.Context, actions []Action, result *Result) {
	span := trace.SpanFromContext(ctx)
	for _, action := range actions {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}
}

// sample queries every metric and reports threshold violations. Values are
// stored in obs when it is non-nil.
func (e *Engine) sample(ctx context.Context, metrics []Metric, obs map[string]float64) []MetricViolation {
	var violations []MetricViolation
	for _, m := range metrics {
		value, err := m.Query(ctx)
		if err != nil {
			e.logger.Warn("metric query failed", "metric", m.Name, "error", err)
			value = -1
		} else if obs != nil {
			obs[m.Name] = value
		}
		if err != nil || !m.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: m.Name,
				Expected:   m.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}
	return violations
}
