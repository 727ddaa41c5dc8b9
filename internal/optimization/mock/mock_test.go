package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/space"
)

func newMock(t *testing.T, targets []string, weights []float64) *Optimizer {
	t.Helper()
	o, err := New(optimization.Environment{
		Space: space.MustNew(
			space.NewInteger("workers", 1, 8),
			space.NewCategorical("mode", "fast", "safe"),
		),
		Targets: targets,
		Weights: weights,
	}, Config{})
	require.NoError(t, err)
	return o
}

func TestMockTracksBestWeightedScore(t *testing.T) {
	o := newMock(t, []string{"latency", "cost"}, []float64{1, 2})

	_, _, ok := o.Best()
	assert.False(t, ok)

	scores := []map[string]any{
		{"latency": 10.0, "cost": 1.0}, // 12
		{"latency": 4.0, "cost": 2.0},  // 8
		{"latency": 9.0, "cost": 0.0},  // 9
	}
	var bestConfig *frame.Frame
	for i, sc := range scores {
		s, err := o.Suggest(nil)
		require.NoError(t, err)
		if i == 1 {
			bestConfig = s.Config
		}
		require.NoError(t, o.Register(s.Complete(frame.Single([]string{"latency", "cost"}, sc))))
	}

	score, config, ok := o.Best()
	require.True(t, ok)
	assert.Equal(t, 8.0, score)
	assert.True(t, frame.Equal(bestConfig, config))
	assert.Equal(t, 3, o.Iteration())
	assert.Equal(t, "MockOptimizer(iteration=3)", o.String())
}

func TestMockIsDeterministic(t *testing.T) {
	a := newMock(t, []string{"score"}, []float64{1})
	b := newMock(t, []string{"score"}, []float64{1})
	for i := 0; i < 10; i++ {
		sa, err := a.Suggest(nil)
		require.NoError(t, err)
		sb, err := b.Suggest(nil)
		require.NoError(t, err)
		assert.True(t, frame.Equal(sa.Config, sb.Config))
	}
}

func TestMockPending(t *testing.T) {
	o := newMock(t, []string{"score"}, []float64{1})

	s, err := o.Suggest(nil)
	require.NoError(t, err)
	require.NoError(t, o.RegisterPending(s))
	assert.Len(t, o.Pending(), 1)

	require.NoError(t, o.Register(s.Complete(frame.Single([]string{"score"}, map[string]any{"score": 1.0}))))
	assert.Empty(t, o.Pending())
}

func TestMockRejectsNonNumericScore(t *testing.T) {
	o := newMock(t, []string{"score"}, []float64{1})
	s, err := o.Suggest(nil)
	require.NoError(t, err)
	err = o.Register(s.Complete(frame.Single([]string{"score"}, map[string]any{"score": "fast"})))
	assert.ErrorIs(t, err, optimization.ErrInvalidValue)
}

func TestMockWeightMismatch(t *testing.T) {
	_, err := New(optimization.Environment{
		Space:   space.MustNew(space.NewContinuous("x", 0, 1)),
		Targets: []string{"a", "b"},
		Weights: []float64{1},
	}, Config{})
	assert.ErrorIs(t, err, optimization.ErrConfigMismatch)
}
