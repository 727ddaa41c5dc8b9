package tuning

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/autotune/internal/metrics"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/bayesian"
	"github.com/copyleftdev/autotune/internal/optimization/mock"
	"github.com/copyleftdev/autotune/internal/optimization/random"
	"github.com/copyleftdev/autotune/internal/space"
)

func forresterOptimizer(t *testing.T, factory optimization.StrategyFactory) *optimization.Optimizer {
	t.Helper()
	o, err := optimization.New(optimization.Config{
		ParameterSpace: space.MustNew(space.NewContinuous("x", 0, 1)),
		Targets:        []string{"score"},
		Logger:         zaptest.NewLogger(t),
	}, factory)
	require.NoError(t, err)
	return o
}

func TestBuiltinObjectives(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		want   float64
	}{
		{name: "sphere", config: map[string]any{"a": 3.0, "b": int64(-4), "mode": "fast"}, want: 25},
		{name: "forrester", config: map[string]any{"x": 0.75724876}, want: -6.02074},
		{name: "branin", config: map[string]any{"x1": math.Pi, "x2": 2.275}, want: 0.397887},
		{name: "branin", config: map[string]any{"x1": -math.Pi, "x2": 12.275}, want: 0.397887},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Builtin(tt.name, "latency")
			require.NoError(t, err)
			got, err := f(context.Background(), tt.config)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got["latency"], 1e-4)
		})
	}

	assert.Equal(t, []string{"branin", "forrester", "sphere"}, Builtins())

	_, err := Builtin("rosenbrock", "score")
	assert.ErrorIs(t, err, optimization.ErrConfigMismatch)

	f, err := Builtin("branin", "score")
	require.NoError(t, err)
	_, err = f(context.Background(), map[string]any{"x1": 1.0})
	assert.ErrorIs(t, err, optimization.ErrShapeMismatch)
	_, err = f(context.Background(), map[string]any{"x1": 1.0, "x2": "high"})
	assert.ErrorIs(t, err, optimization.ErrInvalidValue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f(ctx, map[string]any{"x1": 1.0, "x2": 1.0})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRunnerValidation(t *testing.T) {
	o := forresterOptimizer(t, random.Factory(random.Config{Seed: 1}))
	obj, err := Builtin("forrester", "score")
	require.NoError(t, err)

	_, err = NewRunner(nil, obj, Config{Iterations: 1})
	assert.ErrorIs(t, err, optimization.ErrConfigMismatch)
	_, err = NewRunner(o, nil, Config{Iterations: 1})
	assert.ErrorIs(t, err, optimization.ErrConfigMismatch)
	_, err = NewRunner(o, obj, Config{})
	assert.ErrorIs(t, err, optimization.ErrConfigMismatch)

	r, err := NewRunner(o, obj, Config{Iterations: 1, Parallelism: -2})
	require.NoError(t, err)
	assert.Equal(t, 1, r.cfg.Parallelism)
}

func TestRunRandomParallel(t *testing.T) {
	o := forresterOptimizer(t, random.Factory(random.Config{Seed: 3}))
	obj, err := Builtin("forrester", "score")
	require.NoError(t, err)

	var inFlight, maxInFlight atomic.Int32
	limited := func(ctx context.Context, config map[string]any) (map[string]float64, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return obj(ctx, config)
	}

	var numbers []int
	r, err := NewRunner(o, limited, Config{
		Iterations:  30,
		Parallelism: 4,
		Logger:      zaptest.NewLogger(t),
		OnTrial:     func(tr Trial) { numbers = append(numbers, tr.Number) },
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, res.Trials)
	assert.Equal(t, 0, res.Failed)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(4))
	require.Len(t, numbers, 30)
	for i, n := range numbers {
		assert.Equal(t, i+1, n)
	}

	history, err := o.GetObservations()
	require.NoError(t, err)
	assert.Equal(t, 30, history.Len())

	require.NotNil(t, res.Best)
	best, err := res.Best.Performance.Float(0, "score")
	require.NoError(t, err)
	for _, obs := range history.Items() {
		v, _ := obs.Performance.Float(0, "score")
		assert.LessOrEqual(t, best, v)
	}
}

func TestRunReconcilesPending(t *testing.T) {
	o := forresterOptimizer(t, mock.Factory(mock.Config{Seed: 5}))
	obj, err := Builtin("forrester", "score")
	require.NoError(t, err)

	r, err := NewRunner(o, obj, Config{Iterations: 9, Parallelism: 3})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, res.Trials)
	assert.Empty(t, o.Pending(), "every pending trial was registered")
	assert.Empty(t, o.Strategy().(*mock.Optimizer).Pending())
}

func TestRunFailures(t *testing.T) {
	o := forresterOptimizer(t, random.Factory(random.Config{Seed: 9}))
	obj, err := Builtin("forrester", "score")
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	flaky := func(ctx context.Context, config map[string]any) (map[string]float64, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n % 4 {
		case 0:
			return nil, errors.New("benchmark crashed")
		case 1:
			return map[string]float64{"throughput": 1}, nil
		}
		return obj(ctx, config)
	}

	m := metrics.New(nil)
	r, err := NewRunner(o, flaky, Config{Iterations: 12, Parallelism: 1, Metrics: m})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, res.Trials)
	assert.Equal(t, 6, res.Failed)

	history, err := o.GetObservations()
	require.NoError(t, err)
	assert.Equal(t, 6, history.Len())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `autotune_trials_total{status="failure"} 6`)
	assert.Contains(t, rec.Body.String(), `autotune_trials_total{status="success"} 6`)
}

func TestRunCancelled(t *testing.T) {
	o := forresterOptimizer(t, random.Factory(random.Config{Seed: 1}))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	obj := func(context.Context, map[string]any) (map[string]float64, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return map[string]float64{"score": float64(calls)}, nil
	}
	r, err := NewRunner(o, obj, Config{Iterations: 100})
	require.NoError(t, err)

	res, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, res.Trials)
	require.NotNil(t, res.Best)
	v, _ := res.Best.Performance.Float(0, "score")
	assert.Equal(t, 1.0, v)
}

func TestRunBayesianForrester(t *testing.T) {
	o := forresterOptimizer(t, bayesian.Factory(bayesian.Config{NInitialPoints: 5, NCandidates: 128, RandomSeed: 42}))
	obj, err := Builtin("forrester", "score")
	require.NoError(t, err)

	r, err := NewRunner(o, obj, Config{Iterations: 20, Parallelism: 2})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	best, err := res.Best.Performance.Float(0, "score")
	require.NoError(t, err)
	assert.Less(t, best, -5.0)
	assert.Empty(t, o.Pending())
}
