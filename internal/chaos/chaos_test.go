package chaos

import (
	"context"
	"errors"
	"testing"
	"time"

	"inkpass/internal/clock"
	"inkpass/internal/events"
	"inkpass/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStack(t *testing.T) *Stack {
	t.Helper()
	s, err := NewStack(clock.At(1_700_000_000), logger.NewNoOpLogger())
	require.NoError(t, err)
	return s
}

func TestThreshold_Holds(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.want, Threshold{Operator: tt.op, Value: 1}.Holds(tt.value))
		})
	}
}

func TestEngine_AbortsOnInvalidSteadyState(t *testing.T) {
	e := NewEngine(logger.NewNoOpLogger())
	injected := false

	result, err := e.Run(context.Background(), Experiment{
		Name: "broken",
		SteadyState: []Probe{{
			Name:      "always-bad",
			Query:     func(context.Context) (float64, error) { return 5, nil },
			Threshold: Threshold{Operator: "<", Value: 1},
		}},
		Method: []Action{{Execute: func(context.Context) error { injected = true; return nil }}},
	})

	assert.True(t, errors.Is(err, ErrSteadyStateInvalid))
	assert.False(t, result.SteadyStateValid)
	assert.Len(t, result.Violations, 1)
	assert.False(t, injected)
	assert.Empty(t, e.Results())
}

func TestEngine_RecordsMTTRAndActionErrors(t *testing.T) {
	e := NewEngine(logger.NewNoOpLogger())
	values := []float64{0, 3, 0}
	calls := 0

	result, err := e.Run(context.Background(), Experiment{
		Name: "recovering",
		SteadyState: []Probe{{
			Name: "errors",
			Query: func(context.Context) (float64, error) {
				v := values[calls%len(values)]
				calls++
				return v, nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method:         []Action{{Target: "db", Execute: func(context.Context) error { return ErrInjectedFault }}},
		Validation:     []Assertion{{Probe: "errors", Condition: func(v float64) bool { return v == 0 }, Message: "recovers"}},
		Duration:       50 * time.Millisecond,
		SampleInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "db", result.ErrorEvents[0].Component)
	assert.NotEmpty(t, result.Violations)
	assert.NotNil(t, result.MTTR)
	assert.Len(t, e.Results(), 1)
}

func TestLedgerExperiments_HypothesesHold(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	e := NewEngine(logger.NewNoOpLogger())
	require.NoError(t, e.RegisterLedgerExperiments(ctx, s))
	require.Len(t, e.Experiments(), 3)

	for _, exp := range e.Experiments() {
		t.Run(exp.Name, func(t *testing.T) {
			result, err := e.Run(ctx, exp)
			require.NoError(t, err)
			assert.Empty(t, result.ErrorEvents)
			assert.True(t, result.HypothesisHeld, "failed: %v", result.FailedAssertions)
		})
	}
}

func TestNotifierOutage_DropsEventsAndRestores(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	rec := &events.Recorder{}
	s.Notifier.next = rec

	exp, err := NotifierOutageExperiment(ctx, s, 5)
	require.NoError(t, err)
	result, err := NewEngine(logger.NewNoOpLogger()).Run(ctx, exp)
	require.NoError(t, err)

	assert.True(t, result.HypothesisHeld)
	assert.Equal(t, int64(5), s.Notifier.Dropped())
	assert.Empty(t, rec.Events())

	require.NoError(t, s.Notifier.Notify(ctx, events.Event{Type: "probe"}))
	assert.Len(t, rec.Events(), 1)
}

func TestRunGameDay_CountsFailures(t *testing.T) {
	e := NewEngine(logger.NewNoOpLogger())
	ok := Experiment{
		Name:        "ok",
		SteadyState: []Probe{{Name: "p", Query: func(context.Context) (float64, error) { return 1, nil }, Threshold: Threshold{Operator: "==", Value: 1}}},
		Validation:  []Assertion{{Probe: "p", Condition: func(v float64) bool { return v == 1 }}},
	}
	violated := ok
	violated.Name = "violated"
	violated.Validation = []Assertion{{Probe: "p", Condition: func(v float64) bool { return v == 2 }, Message: "never"}}
	aborted := ok
	aborted.Name = "aborted"
	aborted.SteadyState = []Probe{{Name: "p", Query: func(context.Context) (float64, error) { return 0, ErrInjectedFault }, Threshold: Threshold{Operator: "==", Value: 0}}}

	failed, err := e.RunGameDay(context.Background(), GameDay{Name: "weekly", Scenarios: []Experiment{ok, violated, aborted}})
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
}
