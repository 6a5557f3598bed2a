// Package chaos runs steady-state experiments against the ledger and marketplace.
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"inkpass/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrSteadyStateInvalid aborts an experiment before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid")

// Experiment defines one hypothesis about the system under a fault.
type Experiment struct {
	Name           string
	Hypothesis     string
	SteadyState    []Probe
	Method         []Action
	Rollback       []Action
	Validation     []Assertion
	Duration       time.Duration // observation window after the method; zero samples once
	SampleInterval time.Duration
}

// Probe measures one system property.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

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

// Action injects or removes a fault.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion is checked against the last observation of a probe.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer trace.Tracer
	logger logger.Logger

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(log logger.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("inkpass/chaos"),
		logger: log.WithFields(map[string]interface{}{"component": "chaos"}),
	}
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run validates the steady state, injects the method, observes, rolls back
// and finally checks the assertions.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.steadyStateViolations(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	e.execute(ctx, exp.Method, result)

	span.AddEvent("observing_system")
	var recoveryStart time.Time
	e.sample(ctx, exp, result, &recoveryStart)
	if exp.Duration > 0 {
		interval := exp.SampleInterval
		if interval <= 0 {
			interval = time.Second
		}
		observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
		ticker := time.NewTicker(interval)
	observe:
		for {
			select {
			case <-observeCtx.Done():
				break observe
			case <-ticker.C:
				e.sample(ctx, exp, result, &recoveryStart)
			}
		}
		ticker.Stop()
		cancel()
	}

	span.AddEvent("rolling_back")
	e.execute(ctx, exp.Rollback, result)

	span.AddEvent("validating_assertions")
	result.FailedAssertions = failedAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
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

func (e *Engine) sample(ctx context.Context, exp Experiment, result *Result, recoveryStart *time.Time) {
	for _, probe := range exp.SteadyState {
		value, err := probe.Query(ctx)
		now := time.Now()
		if err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: now, Error: err.Error(), Component: probe.Name})
			continue
		}
		result.Observations[probe.Name] = append(result.Observations[probe.Name], DataPoint{Timestamp: now, Value: value})

		if !probe.Threshold.Holds(value) {
			if recoveryStart.IsZero() {
				*recoveryStart = now
			}
			result.Violations = append(result.Violations, Violation{
				Probe:     probe.Name,
				Expected:  probe.Threshold.Value,
				Actual:    value,
				Timestamp: now,
			})
		} else if !recoveryStart.IsZero() && result.MTTR == nil {
			mttr := now.Sub(*recoveryStart)
			result.MTTR = &mttr
		}
	}
}

func (e *Engine) steadyStateViolations(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, probe := range probes {
		value, err := probe.Query(ctx)
		if err != nil {
			value = -1
		}
		if err != nil || !probe.Threshold.Holds(value) {
			violations = append(violations, Violation{
				Probe:     probe.Name,
				Expected:  probe.Threshold.Value,
				Actual:    value,
				Timestamp: time.Now(),
			})
		}
	}
	return violations
}

func failedAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		observations := result.Observations[a.Probe]
		if len(observations) == 0 || !a.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay runs a series of experiments with a pause between them.
type GameDay struct {
	Name      string
	Scenarios []Experiment
	Pause     time.Duration
}

// RunGameDay returns the number of experiments whose hypothesis did not hold
// or that could not start.
func (e *Engine) RunGameDay(ctx context.Context, day GameDay) (int, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	e.logger.Info("starting game day", map[string]interface{}{"name": day.Name, "scenarios": len(day.Scenarios)})

	failed := 0
	for i, scenario := range day.Scenarios {
		if i > 0 && day.Pause > 0 {
			select {
			case <-ctx.Done():
				return failed, ctx.Err()
			case <-time.After(day.Pause):
			}
		}

		log := e.logger.WithFields(map[string]interface{}{"experiment": scenario.Name})
		log.Info("running experiment", map[string]interface{}{"hypothesis": scenario.Hypothesis})

		result, err := e.Run(ctx, scenario)
		if err != nil {
			failed++
			log.WithError(err).Error("experiment aborted", map[string]interface{}{"violations": len(result.Violations)})
			continue
		}
		if !result.HypothesisHeld {
			failed++
			log.Warn("hypothesis violated", map[string]interface{}{
				"failedAssertions": result.FailedAssertions,
				"violations":       len(result.Violations),
			})
			continue
		}
		fields := map[string]interface{}{"duration": result.Duration.String()}
		if result.MTTR != nil {
			fields["mttr"] = result.MTTR.String()
		}
		log.Info("hypothesis held", fields)
	}
	return failed, nil
}
