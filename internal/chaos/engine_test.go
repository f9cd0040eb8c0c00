package chaos

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
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

func TestEngine_RunPhases(t *testing.T) {
	var (
		value    float64
		phases   []string
		injected bool
	)
	exp := Experiment{
		Name: "toggle",
		SteadyState: []Metric{{
			Name:      "value",
			Query:     func(context.Context) (float64, error) { return value, nil },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{
			Target: "value",
			Execute: func(context.Context) error {
				phases = append(phases, "inject")
				injected = true
				value = 5
				return errors.New("noisy action")
			},
		}},
		Rollback: []Action{{
			Execute: func(context.Context) error {
				phases = append(phases, "rollback")
				value = 0
				return nil
			},
		}},
		Validation: []Assertion{{
			Metric:    "value",
			Condition: func(v float64) bool { return v == 0 },
		}},
	}

	e := NewEngine(quietLogger())
	res, err := e.Run(context.Background(), exp)
	require.NoError(t, err)

	assert.True(t, injected)
	assert.Equal(t, []string{"inject", "rollback"}, phases)
	assert.True(t, res.SteadyStateValid)
	assert.True(t, res.HypothesisHeld)
	require.Len(t, res.ErrorEvents, 1)
	assert.Equal(t, "value", res.ErrorEvents[0].Component)
	assert.Len(t, e.Results(), 1)
}

func TestEngine_RollbackThatDoesNotRecover(t *testing.T) {
	value := 0.0
	exp := Experiment{
		Name: "stuck",
		SteadyState: []Metric{{
			Name:      "value",
			Query:     func(context.Context) (float64, error) { return value, nil },
			Threshold: Threshold{Operator: "<", Value: 1},
		}},
		Method: []Action{{Execute: func(context.Context) error { value = 3; return nil }}},
	}

	res, err := NewEngine(quietLogger()).Run(context.Background(), exp)
	require.NoError(t, err)
	assert.False(t, res.HypothesisHeld)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, 3.0, res.Violations[0].Actual)
}

func TestEngine_AbortsOnBadSteadyState(t *testing.T) {
	ran := false
	exp := Experiment{
		Name: "unhealthy",
		SteadyState: []Metric{{
			Name:      "broken",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("down") },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Execute: func(context.Context) error { ran = true; return nil }}},
	}

	e := NewEngine(quietLogger())
	res, err := e.Run(context.Background(), exp)
	assert.ErrorIs(t, err, ErrSteadyState)
	assert.False(t, ran)
	assert.False(t, res.SteadyStateValid)
	assert.Empty(t, e.Results())

	results := e.RunAll(context.Background(), []Experiment{exp, exp})
	assert.Len(t, results, 2)
}

func TestSuite_HoldsOnMemoryTarget(t *testing.T) {
	if testing.Short() {
		t.Skip("runs load against the lending workflow")
	}
	target, err := NewMemoryTarget(4, 3, 12, 42, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	load := LoadProfile{Ops: 400, Workers: 8}
	results := NewEngine(quietLogger()).RunAll(ctx, Experiments(target, load))
	require.Len(t, results, 5)
	for _, res := range results {
		assert.True(t, res.HypothesisHeld, "%s: violations %v, failed %v", res.ExperimentName, res.Violations, res.Failed)
		assert.Equal(t, 0.0, res.Observations["stock_drift"], res.ExperimentName)
	}

	assert.Positive(t, target.Injector.Fired(ComponentGate))
	assert.Positive(t, target.Injector.Fired(ComponentLedger))
	assert.Positive(t, target.Injector.Fired(ComponentRegistryCreate))
	assert.Positive(t, target.Injector.Fired(ComponentRegistryUpdate))
}
