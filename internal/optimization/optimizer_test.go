package optimization_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/mock"
	"github.com/copyleftdev/autotune/internal/optimization/random"
	"github.com/copyleftdev/autotune/internal/space"
)

func mixedSpace() *space.Space {
	return space.MustNew(
		space.NewContinuous("x", 0, 1),
		space.NewInteger("y", 0, 5),
		space.NewCategorical("z", "a", "b", "c"),
	)
}

func score(v float64) *frame.Frame {
	return frame.Single([]string{"score"}, map[string]any{"score": v})
}

func objective(t *testing.T, config *frame.Frame) float64 {
	t.Helper()
	x, err := config.Float(0, "x")
	require.NoError(t, err)
	y, err := config.Float(0, "y")
	require.NoError(t, err)
	z, _ := config.Value(0, "z")
	penalty := map[any]float64{"a": 0, "b": 0.5, "c": 1}[z]
	return (x-0.3)*(x-0.3) + y + penalty
}

func newRandom(t *testing.T, cfg optimization.Config) *optimization.Optimizer {
	t.Helper()
	if cfg.ParameterSpace == nil {
		cfg.ParameterSpace = mixedSpace()
	}
	if cfg.Targets == nil {
		cfg.Targets = []string{"score"}
	}
	cfg.Logger = zaptest.NewLogger(t)
	o, err := optimization.New(cfg, random.Factory(random.Config{Seed: 7}))
	require.NoError(t, err)
	return o
}

func TestRandomSearchEndToEnd(t *testing.T) {
	o := newRandom(t, optimization.Config{})

	_, err := o.GetObservations()
	require.ErrorIs(t, err, optimization.ErrEmptyHistory)
	_, err = o.GetBestObservations(1)
	require.ErrorIs(t, err, optimization.ErrEmptyHistory)

	minScore := math.Inf(1)
	for i := 0; i < 20; i++ {
		s, err := o.Suggest(nil)
		require.NoError(t, err)
		require.Equal(t, 1, s.Config.Len())
		require.NoError(t, o.ParameterSpace().Contains(s.Config))

		v := objective(t, s.Config)
		minScore = math.Min(minScore, v)
		require.NoError(t, o.Register(s.Complete(score(v))))
	}

	history, err := o.GetObservations()
	require.NoError(t, err)
	assert.Equal(t, 20, history.Len())
	assert.Equal(t, 20, history.Table().Configs.Len())

	best, err := o.GetBestObservations(1)
	require.NoError(t, err)
	require.Equal(t, 1, best.Len())
	got, err := best.Items()[0].Performance.Float(0, "score")
	require.NoError(t, err)
	assert.Equal(t, minScore, got)

	top3, err := o.GetBestObservations(3)
	require.NoError(t, err)
	prev := math.Inf(-1)
	for _, ob := range top3.Items() {
		v, _ := ob.Performance.Float(0, "score")
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
	assert.NoError(t, o.Cleanup())
	assert.NoError(t, o.Cleanup())
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  optimization.Config
	}{
		{name: "no space", cfg: optimization.Config{Targets: []string{"score"}}},
		{name: "no targets", cfg: optimization.Config{ParameterSpace: mixedSpace()}},
		{name: "duplicate targets", cfg: optimization.Config{
			ParameterSpace: mixedSpace(), Targets: []string{"a", "a"},
		}},
		{name: "weights length", cfg: optimization.Config{
			ParameterSpace: mixedSpace(), Targets: []string{"a", "b"}, Weights: []float64{1},
		}},
		{name: "adapter built for another space", cfg: optimization.Config{
			ParameterSpace: mixedSpace(), Targets: []string{"score"}, SpaceAdapter: newDiagonal(),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := optimization.New(tt.cfg, random.Factory(random.Config{Seed: 1}))
			assert.ErrorIs(t, err, optimization.ErrConfigMismatch)
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	o := newRandom(t, optimization.Config{})
	s, err := o.Suggest(nil)
	require.NoError(t, err)
	two := frame.Concat(s.Config, s.Config)

	tests := []struct {
		name string
		obs  *optimization.Observation
		want error
	}{
		{
			name: "wrong target",
			obs:  &optimization.Observation{Config: s.Config, Performance: frame.Single([]string{"latency"}, map[string]any{"latency": 1.0})},
			want: optimization.ErrTargetMismatch,
		},
		{
			name: "extra target",
			obs: &optimization.Observation{Config: s.Config, Performance: frame.Single([]string{"score", "cost"},
				map[string]any{"score": 1.0, "cost": 2.0})},
			want: optimization.ErrTargetMismatch,
		},
		{
			name: "row count",
			obs:  &optimization.Observation{Config: two, Performance: score(1)},
			want: optimization.ErrRowCountMismatch,
		},
		{
			name: "context row count",
			obs: &optimization.Observation{Config: s.Config, Performance: score(1),
				Context: frame.Blank(2)},
			want: optimization.ErrRowCountMismatch,
		},
		{
			name: "metadata row count",
			obs: &optimization.Observation{Config: s.Config, Performance: score(1),
				Metadata: frame.Blank(3)},
			want: optimization.ErrRowCountMismatch,
		},
		{
			name: "missing column",
			obs: &optimization.Observation{Config: frame.Single([]string{"x", "y"},
				map[string]any{"x": 0.1, "y": int64(1)}), Performance: score(1)},
			want: optimization.ErrShapeMismatch,
		},
		{
			name: "foreign column",
			obs: &optimization.Observation{Config: frame.Single([]string{"x", "y", "w"},
				map[string]any{"x": 0.1, "y": int64(1), "w": "a"}), Performance: score(1)},
			want: optimization.ErrShapeMismatch,
		},
		{
			name: "repeated column",
			obs: func() *optimization.Observation {
				cfg := frame.New("x", "x", "z")
				require.NoError(t, cfg.Append(0.1, 0.2, "a"))
				return &optimization.Observation{Config: cfg, Performance: score(1)}
			}(),
			want: optimization.ErrShapeMismatch,
		},
		{
			name: "non numeric score",
			obs: &optimization.Observation{Config: s.Config,
				Performance: frame.Single([]string{"score"}, map[string]any{"score": "fast"})},
			want: optimization.ErrInvalidValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, o.Register(tt.obs), tt.want)
		})
	}

	_, err = o.GetObservations()
	assert.ErrorIs(t, err, optimization.ErrEmptyHistory, "rejected observations must not be recorded")
}

func TestContextConsistency(t *testing.T) {
	var warnings []error
	o := newRandom(t, optimization.Config{OnWarning: func(err error) { warnings = append(warnings, err) }})

	s, err := o.Suggest(nil)
	require.NoError(t, err)
	require.NoError(t, o.Register(s.Complete(score(1))))

	withContext := s.Complete(score(2))
	withContext.Context = frame.Single([]string{"host"}, map[string]any{"host": "db-1"})
	assert.ErrorIs(t, o.Register(withContext), optimization.ErrContextConsistency)

	history, err := o.GetObservations()
	require.NoError(t, err)
	assert.Equal(t, 1, history.Len())
	assert.Empty(t, warnings)
}

func TestContextConsistencyAfterContext(t *testing.T) {
	var warnings []error
	o := newRandom(t, optimization.Config{OnWarning: func(err error) { warnings = append(warnings, err) }})

	ctx := frame.Single([]string{"host"}, map[string]any{"host": "db-1"})
	s, err := o.Suggest(ctx)
	require.NoError(t, err)
	require.NoError(t, o.Register(s.Complete(score(1))))

	s.Context = nil
	assert.ErrorIs(t, o.Register(s.Complete(score(2))), optimization.ErrContextConsistency)

	require.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.ErrorIs(t, w, optimization.ErrContextUnsupported)
	}
}

func TestRegisterAcceptsColumnsInAnyOrder(t *testing.T) {
	o := newRandom(t, optimization.Config{})
	config := frame.Single([]string{"z", "y", "x"}, map[string]any{"x": 0.5, "y": int64(2), "z": "c"})
	require.NoError(t, o.Register(&optimization.Observation{Config: config, Performance: score(3)}))
}

func TestSuggestDefaults(t *testing.T) {
	o := newRandom(t, optimization.Config{ParameterSpace: space.MustNew(
		space.NewContinuous("x", 0, 1),
		space.NewInteger("y", 0, 5).WithDefault(int64(1)),
		space.NewCategorical("z", "a", "b", "c"),
	)})

	s, err := o.SuggestDefaults(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 0.5, "y": int64(1), "z": "a"}, s.Config.Record(0))

	again, err := o.SuggestDefaults(nil)
	require.NoError(t, err)
	assert.True(t, frame.Equal(s.Config, again.Config))
}

func TestSurrogatePredictNotSupported(t *testing.T) {
	o := newRandom(t, optimization.Config{})
	s, err := o.Suggest(nil)
	require.NoError(t, err)
	_, err = o.SurrogatePredict(s.Config, nil)
	assert.ErrorIs(t, err, optimization.ErrNotSupported)
}

func TestString(t *testing.T) {
	o := newRandom(t, optimization.Config{})
	assert.Equal(t, "RandomOptimizer(seed=7)(space_adapter=none)", o.String())
}

func TestPendingLifecycle(t *testing.T) {
	o, err := optimization.New(optimization.Config{
		ParameterSpace: mixedSpace(),
		Targets:        []string{"score"},
		Logger:         zaptest.NewLogger(t),
	}, mock.Factory(mock.Config{}))
	require.NoError(t, err)

	a, err := o.Suggest(nil)
	require.NoError(t, err)
	b, err := o.Suggest(nil)
	require.NoError(t, err)

	require.NoError(t, o.RegisterPending(a))
	require.NoError(t, o.RegisterPending(b))
	assert.Len(t, o.Pending(), 2)

	bad := &optimization.Suggestion{Config: frame.Single([]string{"x"}, map[string]any{"x": 0.1})}
	assert.ErrorIs(t, o.RegisterPending(bad), optimization.ErrShapeMismatch)
	assert.Len(t, o.Pending(), 2)

	require.NoError(t, o.Register(a.Complete(score(1))))
	pending := o.Pending()
	require.Len(t, pending, 1)
	assert.True(t, frame.Equal(b.Config, pending[0].Config))

	strategy := o.Strategy().(*mock.Optimizer)
	assert.Len(t, strategy.Pending(), 1)
}

func TestPendingWithUncomparableValues(t *testing.T) {
	o, err := optimization.New(optimization.Config{
		ParameterSpace: mixedSpace(),
		Targets:        []string{"score"},
		Logger:         zaptest.NewLogger(t),
	}, mock.Factory(mock.Config{}))
	require.NoError(t, err)

	tests := []struct {
		name string
		z    any
	}{
		{"slice", []any{"a"}},
		{"map", map[string]any{"k": "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := frame.Single([]string{"x", "y", "z"}, map[string]any{"x": 0.1, "y": int64(1), "z": tt.z})
			s := &optimization.Suggestion{Config: cfg}
			require.NoError(t, o.RegisterPending(s))
			assert.NotPanics(t, func() {
				require.NoError(t, o.Register(s.Complete(score(1))))
			})
			assert.Empty(t, o.Pending())
		})
	}
}

func TestRegisterPendingRejectedByStrategy(t *testing.T) {
	o := newRandom(t, optimization.Config{})
	s, err := o.Suggest(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, o.RegisterPending(s), optimization.ErrNotSupported)
	assert.Empty(t, o.Pending())
}

func TestSuggestShapeGuard(t *testing.T) {
	tests := []struct {
		name     string
		strategy *fixedStrategy
	}{
		{name: "two rows", strategy: &fixedStrategy{config: frame.FromRecords([]string{"x"},
			map[string]any{"x": 0.1}, map[string]any{"x": 0.2})}},
		{name: "no rows", strategy: &fixedStrategy{config: frame.New("x")}},
		{name: "nil suggestion", strategy: &fixedStrategy{}},
		{name: "unknown column", strategy: &fixedStrategy{config: frame.Single([]string{"q"},
			map[string]any{"q": 0.1})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := optimization.New(optimization.Config{
				ParameterSpace: space.MustNew(space.NewContinuous("x", 0, 1)),
				Targets:        []string{"score"},
			}, func(optimization.Environment) (optimization.Strategy, error) { return tt.strategy, nil })
			require.NoError(t, err)
			_, err = o.Suggest(nil)
			assert.ErrorIs(t, err, optimization.ErrShapeMismatch)
		})
	}
}

func TestAdapterComposition(t *testing.T) {
	adapter := newDiagonal()
	o, err := optimization.New(optimization.Config{
		ParameterSpace: adapter.OrigParameterSpace(),
		Targets:        []string{"score"},
		SpaceAdapter:   adapter,
		Logger:         zaptest.NewLogger(t),
	}, random.Factory(random.Config{Seed: 3}))
	require.NoError(t, err)

	assert.Equal(t, []string{"t"}, o.StrategyParameterSpace().Names())
	assert.Equal(t, "RandomOptimizer(seed=3)(space_adapter=diagonal)", o.String())

	for i := 0; i < 20; i++ {
		s, err := o.Suggest(nil)
		require.NoError(t, err)
		x, err := s.Config.Float(0, "x")
		require.NoError(t, err)
		y, err := s.Config.Float(0, "y")
		require.NoError(t, err)
		assert.Equal(t, x, y)
		require.NoError(t, o.Register(s.Complete(score((x-0.5)*(x-0.5)))))
	}

	history, err := o.GetObservations()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, history.Table().Configs.Columns(),
		"history is kept in caller space")

	d, err := o.SuggestDefaults(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 0.5, "y": 0.5}, d.Config.Record(0))

	s, err := o.Suggest(nil)
	require.NoError(t, err)
	_, err = o.SurrogatePredict(s.Config, nil)
	assert.ErrorIs(t, err, optimization.ErrNotSupported)
}

type fixedStrategy struct {
	config *frame.Frame
}

func (f *fixedStrategy) Suggest(*frame.Frame) (*optimization.Suggestion, error) {
	if f.config == nil {
		return nil, nil
	}
	return &optimization.Suggestion{Config: f.config}, nil
}

func (f *fixedStrategy) Register(*optimization.Observation) error { return nil }

func (f *fixedStrategy) RegisterPending(*optimization.Suggestion) error { return nil }

// diagonal maps a single strategy dimension t onto x = y = t.
type diagonal struct {
	orig, target *space.Space
}

func newDiagonal() *diagonal {
	return &diagonal{
		orig:   space.MustNew(space.NewContinuous("x", 0, 1), space.NewContinuous("y", 0, 1)),
		target: space.MustNew(space.NewContinuous("t", 0, 1)),
	}
}

func (d *diagonal) OrigParameterSpace() *space.Space   { return d.orig }
func (d *diagonal) TargetParameterSpace() *space.Space { return d.target }
func (d *diagonal) String() string                     { return "diagonal" }

func (d *diagonal) Transform(configs *frame.Frame) (*frame.Frame, error) {
	out := frame.New("x", "y")
	for i := 0; i < configs.Len(); i++ {
		v, err := configs.Float(i, "t")
		if err != nil {
			return nil, err
		}
		if err := out.Append(v, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *diagonal) InverseTransform(configs *frame.Frame) (*frame.Frame, error) {
	out := frame.New("t")
	for i := 0; i < configs.Len(); i++ {
		x, err := configs.Float(i, "x")
		if err != nil {
			return nil, err
		}
		y, err := configs.Float(i, "y")
		if err != nil {
			return nil, err
		}
		if err := out.Append((x + y) / 2); err != nil {
			return nil, err
		}
	}
	return out, nil
}
