package bayesian

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/space"
)

func quadraticSpace() *space.Space {
	return space.MustNew(
		space.NewContinuous("x", 0, 1),
		space.NewContinuous("y", 0, 1),
	)
}

func quadratic(t *testing.T, config *frame.Frame) float64 {
	t.Helper()
	x, err := config.Float(0, "x")
	require.NoError(t, err)
	y, err := config.Float(0, "y")
	require.NoError(t, err)
	return (x-0.3)*(x-0.3) + (y-0.7)*(y-0.7)
}

func score(v float64) *frame.Frame {
	return frame.Single([]string{"score"}, map[string]any{"score": v})
}

func newOptimizer(t *testing.T, s *space.Space, cfg Config) *optimization.Optimizer {
	t.Helper()
	o, err := optimization.New(optimization.Config{
		ParameterSpace: s,
		Targets:        []string{"score"},
		Logger:         zaptest.NewLogger(t),
	}, Factory(cfg))
	require.NoError(t, err)
	return o
}

func TestNewBayesianOptimizer(t *testing.T) {
	env := optimization.Environment{Space: quadraticSpace(), Targets: []string{"score"}}

	t.Run("defaults", func(t *testing.T) {
		bo, err := NewBayesianOptimizer(env, Config{})
		require.NoError(t, err)
		cfg := bo.Config()
		assert.Equal(t, 10, cfg.NInitialPoints)
		assert.Equal(t, 512, cfg.NCandidates)
		assert.Equal(t, "matern52", cfg.Kernel)
		assert.Equal(t, "ei", cfg.Acquisition)
		assert.Equal(t, DefaultLengthScales, cfg.LengthScales)
		assert.Equal(t, "BayesianOptimizer(kernel=matern52, acquisition=ei)", bo.String())
	})

	tests := []struct {
		name string
		env  optimization.Environment
		cfg  Config
	}{
		{name: "no space", env: optimization.Environment{Targets: []string{"score"}}},
		{name: "weights", env: optimization.Environment{Space: quadraticSpace(), Targets: []string{"a"}, Weights: []float64{1, 2}}},
		{name: "kernel", env: env, cfg: Config{Kernel: "periodic"}},
		{name: "acquisition", env: env, cfg: Config{Acquisition: "thompson"}},
		{name: "length scale", env: env, cfg: Config{LengthScales: []float64{0.1, -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBayesianOptimizer(tt.env, tt.cfg)
			assert.ErrorIs(t, err, optimization.ErrConfigMismatch)
		})
	}
}

func TestLatinHypercubeSampling(t *testing.T) {
	enc := newEncoder(quadraticSpace())
	n := 8
	samples := enc.latinHypercube(n, rand.New(rand.NewSource(42)))
	require.Len(t, samples, n)

	// Every stratum of every dimension holds exactly one sample.
	for dim := 0; dim < 2; dim++ {
		seen := make([]bool, n)
		for _, s := range samples {
			require.GreaterOrEqual(t, s[dim], 0.0)
			require.Less(t, s[dim], 1.0)
			k := int(s[dim] * float64(n))
			assert.False(t, seen[k], "stratum %d of dim %d used twice", k, dim)
			seen[k] = true
		}
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	s := space.MustNew(
		space.NewContinuous("x", -2, 2),
		space.NewInteger("n", 1, 16),
		space.NewCategorical("mode", "a", "b", "c"),
	)
	enc := newEncoder(s)
	assert.Equal(t, 5, enc.width())
	assert.Equal(t, []int{0, 1}, enc.numeric)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		config := s.Sample(rng)
		rows, err := enc.encode(config)
		require.NoError(t, err)
		for _, v := range rows[0] {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		back, err := enc.decode(rows...)
		require.NoError(t, err)
		for _, name := range s.Names() {
			want, _ := config.Value(0, name)
			got, _ := back.Value(0, name)
			if f, ok := want.(float64); ok {
				assert.InDelta(t, f, got, 1e-9)
			} else {
				assert.Equal(t, want, got)
			}
		}
	}

	// Out of range feature values are clamped and categorical blocks use argmax.
	back, err := enc.decode([]float64{1.7, -0.3, 0.2, 0.9, 0.4})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 2.0, "n": int64(1), "mode": "b"}, back.Record(0))
}

func TestInitialDesignThenModel(t *testing.T) {
	o := newOptimizer(t, quadraticSpace(), Config{NInitialPoints: 4, NCandidates: 64, RandomSeed: 1})
	bo := o.Strategy().(*BayesianOptimizer)

	for i := 0; i < 6; i++ {
		s, err := o.Suggest(nil)
		require.NoError(t, err)
		require.NotNil(t, s.Metadata)
		phase, _ := s.Metadata.Value(0, MetadataPhase)
		version, _ := s.Metadata.Value(0, MetadataModelVersion)

		if i < 4 {
			assert.Equal(t, PhaseInitial, phase)
			assert.Equal(t, int64(0), version)
		} else {
			assert.Equal(t, PhaseModel, phase)
			assert.Equal(t, int64(i-3), version)
			acq, err := s.Metadata.Float(0, MetadataAcquisition)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(acq))
		}
		require.NoError(t, o.Register(s.Complete(score(quadratic(t, s.Config)))))
	}
	assert.Equal(t, 6, bo.NumObservations())
	assert.Equal(t, int64(2), bo.ModelVersion())
}

func TestBayesianOptimizerMinimizes(t *testing.T) {
	o := newOptimizer(t, quadraticSpace(), Config{NInitialPoints: 5, NCandidates: 256, RandomSeed: 42})

	for i := 0; i < 20; i++ {
		s, err := o.Suggest(nil)
		require.NoError(t, err)
		require.NoError(t, o.ParameterSpace().Contains(s.Config))
		require.NoError(t, o.Register(s.Complete(score(quadratic(t, s.Config)))))
	}

	best, err := o.GetBestObservations(1)
	require.NoError(t, err)
	v, err := best.Items()[0].Performance.Float(0, "score")
	require.NoError(t, err)
	assert.Less(t, v, 0.05)
}

func TestMixedSpaceStaysInDomain(t *testing.T) {
	s := space.MustNew(
		space.NewContinuous("x", 0, 1),
		space.NewInteger("y", 0, 5),
		space.NewCategorical("z", "a", "b", "c"),
	)
	for _, acq := range []string{"ei", "ucb"} {
		t.Run(acq, func(t *testing.T) {
			o := newOptimizer(t, s, Config{NInitialPoints: 3, NCandidates: 32, Acquisition: acq, RandomSeed: 9})
			for i := 0; i < 8; i++ {
				sg, err := o.Suggest(nil)
				require.NoError(t, err)
				require.NoError(t, s.Contains(sg.Config))
				y, _ := sg.Config.Value(0, "y")
				assert.IsType(t, int64(0), y)

				x, _ := sg.Config.Float(0, "x")
				yf, _ := sg.Config.Float(0, "y")
				z, _ := sg.Config.Value(0, "z")
				penalty := map[any]float64{"a": 1, "b": 0, "c": 2}[z]
				require.NoError(t, o.Register(sg.Complete(score(x+yf+penalty))))
			}
		})
	}
}

func TestPendingConstantLiar(t *testing.T) {
	o := newOptimizer(t, quadraticSpace(), Config{NInitialPoints: 3, NCandidates: 64, RandomSeed: 5})
	bo := o.Strategy().(*BayesianOptimizer)

	for i := 0; i < 3; i++ {
		s, err := o.Suggest(nil)
		require.NoError(t, err)
		require.NoError(t, o.Register(s.Complete(score(quadratic(t, s.Config)))))
	}

	a, err := o.Suggest(nil)
	require.NoError(t, err)
	require.NoError(t, o.RegisterPending(a))
	assert.Equal(t, 1, bo.NumPending())

	b, err := o.Suggest(nil)
	require.NoError(t, err)
	require.NoError(t, o.RegisterPending(b))
	assert.Equal(t, 2, bo.NumPending())
	assert.Len(t, o.Pending(), 2)

	require.NoError(t, o.Register(a.Complete(score(quadratic(t, a.Config)))))
	assert.Equal(t, 1, bo.NumPending())
	assert.Len(t, o.Pending(), 1)
	require.NoError(t, o.Register(b.Complete(score(quadratic(t, b.Config)))))
	assert.Equal(t, 0, bo.NumPending())
}

func TestSurrogatePredict(t *testing.T) {
	o := newOptimizer(t, quadraticSpace(), Config{NInitialPoints: 8, RandomSeed: 3})

	query := frame.Single([]string{"x", "y"}, map[string]any{"x": 0.3, "y": 0.7})
	_, err := o.SurrogatePredict(query, nil)
	require.ErrorIs(t, err, optimization.ErrEmptyHistory)

	var configs []*frame.Frame
	var scores []float64
	for i := 0; i < 8; i++ {
		s, err := o.Suggest(nil)
		require.NoError(t, err)
		v := quadratic(t, s.Config)
		configs = append(configs, s.Config)
		scores = append(scores, v)
		require.NoError(t, o.Register(s.Complete(score(v))))
	}

	pred, err := o.SurrogatePredict(frame.Concat(configs...), nil)
	require.NoError(t, err)
	require.Len(t, pred, len(scores))
	for i := range scores {
		assert.InDelta(t, scores[i], pred[i], 1e-2, "model should interpolate training point %d", i)
	}

	var warnings []error
	o2, err := optimization.New(optimization.Config{
		ParameterSpace: quadraticSpace(),
		Targets:        []string{"score"},
		OnWarning:      func(err error) { warnings = append(warnings, err) },
	}, Factory(Config{NInitialPoints: 1, RandomSeed: 3}))
	require.NoError(t, err)
	s, err := o2.Suggest(nil)
	require.NoError(t, err)
	require.NoError(t, o2.Register(s.Complete(score(1))))
	_, err = o2.SurrogatePredict(query, frame.Single([]string{"host"}, map[string]any{"host": "a"}))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], optimization.ErrContextUnsupported)
}

func TestSurrogatePredictRefitsWhenPendingCompletes(t *testing.T) {
	tests := []struct {
		name  string
		score float64
	}{
		{"worse than history", 100},
		{"better than history", -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOptimizer(t, quadraticSpace(), Config{NInitialPoints: 8, RandomSeed: 3})
			bo := o.Strategy().(*BayesianOptimizer)
			for i := 0; i < 8; i++ {
				s, err := o.Suggest(nil)
				require.NoError(t, err)
				require.NoError(t, o.Register(s.Complete(score(quadratic(t, s.Config)))))
			}

			query := frame.Single([]string{"x", "y"}, map[string]any{"x": 0.7, "y": 0.7})
			inFlight := &optimization.Suggestion{Config: query}
			require.NoError(t, o.RegisterPending(inFlight))
			_, err := o.SurrogatePredict(query, nil)
			require.NoError(t, err)
			fitted := bo.ModelVersion()

			// Same row count as the last fit: the pending row became an observation.
			require.NoError(t, o.Register(inFlight.Complete(score(tt.score))))
			require.Equal(t, 0, bo.NumPending())

			pred, err := o.SurrogatePredict(query, nil)
			require.NoError(t, err)
			assert.Greater(t, bo.ModelVersion(), fitted)
			assert.InDelta(t, tt.score, pred[0], math.Abs(tt.score)/10)
		})
	}
}

func TestMultiTargetScalarization(t *testing.T) {
	bo, err := NewBayesianOptimizer(optimization.Environment{
		Space:   quadraticSpace(),
		Targets: []string{"latency", "cost"},
		Weights: []float64{1, 10},
	}, Config{NInitialPoints: 1, RandomSeed: 1})
	require.NoError(t, err)

	s, err := bo.Suggest(nil)
	require.NoError(t, err)
	perf := frame.Single([]string{"latency", "cost"}, map[string]any{"latency": 2.0, "cost": 0.5})
	require.NoError(t, bo.Register(s.Complete(perf)))
	assert.Equal(t, []float64{7}, bo.y)

	bad := frame.Single([]string{"latency", "cost"}, map[string]any{"latency": math.Inf(1), "cost": 0.5})
	assert.ErrorIs(t, bo.Register(s.Complete(bad)), optimization.ErrInvalidValue)
	assert.Equal(t, 1, bo.NumObservations(), "rejected rows must not be recorded")
}

func TestCleanup(t *testing.T) {
	o := newOptimizer(t, quadraticSpace(), Config{NInitialPoints: 1, RandomSeed: 2})
	bo := o.Strategy().(*BayesianOptimizer)

	s, err := o.Suggest(nil)
	require.NoError(t, err)
	require.NoError(t, o.Register(s.Complete(score(1))))
	require.NoError(t, o.Cleanup())
	assert.Equal(t, 0, bo.NumObservations())
	require.NoError(t, o.Cleanup())
}
