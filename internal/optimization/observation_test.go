package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/autotune/internal/frame"
)

func obs(x, score float64) *Observation {
	return &Observation{
		Config:      frame.Single([]string{"x"}, map[string]any{"x": x}),
		Performance: frame.Single([]string{"score"}, map[string]any{"score": score}),
	}
}

func TestObservationsTable(t *testing.T) {
	withContext := obs(0.3, 3)
	withContext.Context = frame.Single([]string{"host"}, map[string]any{"host": "db-1"})

	history := NewObservations(obs(0.1, 1), withContext)
	history.Append(obs(0.5, 5))
	require.Equal(t, 3, history.Len())

	table := history.Table()
	assert.Equal(t, 3, table.Configs.Len())
	assert.Equal(t, 3, table.Performance.Len())
	require.NotNil(t, table.Contexts)
	assert.Equal(t, []any{nil, "db-1", nil}, table.Contexts.Column("host"))
	assert.Nil(t, table.Metadata)
}

func TestObservationsBest(t *testing.T) {
	history := NewObservations(obs(0.1, 4), obs(0.2, 1), obs(0.3, 3), obs(0.4, 1))

	tests := []struct {
		name string
		n    int
		want []float64
	}{
		{name: "top one", n: 1, want: []float64{0.2}},
		{name: "ties keep insertion order", n: 3, want: []float64{0.2, 0.4, 0.3}},
		{name: "n larger than history", n: 10, want: []float64{0.2, 0.4, 0.3, 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, err := history.Best(tt.n, []string{"score"})
			require.NoError(t, err)
			require.Equal(t, len(tt.want), best.Len())
			for i, o := range best.Items() {
				assert.Equal(t, 1, o.Config.Len())
				x, err := o.Config.Float(0, "x")
				require.NoError(t, err)
				assert.Equal(t, tt.want[i], x)
			}
		})
	}
}

func TestObservationsBestLexicographic(t *testing.T) {
	mk := func(x, a, b float64) *Observation {
		return &Observation{
			Config:      frame.Single([]string{"x"}, map[string]any{"x": x}),
			Performance: frame.Single([]string{"a", "b"}, map[string]any{"a": a, "b": b}),
		}
	}
	history := NewObservations(mk(1, 2, 0), mk(2, 1, 9), mk(3, 1, 5))

	best, err := history.Best(2, []string{"a", "b"})
	require.NoError(t, err)
	items := best.Items()
	x0, _ := items[0].Config.Float(0, "x")
	x1, _ := items[1].Config.Float(0, "x")
	assert.Equal(t, 3.0, x0)
	assert.Equal(t, 2.0, x1)
}

func TestObservationsBestErrors(t *testing.T) {
	slow := &Observation{
		Config:      frame.Single([]string{"x"}, map[string]any{"x": 0.2}),
		Performance: frame.Single([]string{"score"}, map[string]any{"score": "slow"}),
	}
	tests := []struct {
		name     string
		history  *Observations
		targets  []string
		want     error
		contains []string
	}{
		{"empty", NewObservations(), []string{"score"}, ErrEmptyHistory, nil},
		{"non numeric score", NewObservations(obs(0.1, 1), slow), []string{"score"}, ErrInvalidValue,
			[]string{"Best", `row 1 target "score"`, "not numeric"}},
		{"missing target", NewObservations(obs(0.1, 1)), []string{"latency"}, ErrInvalidValue,
			[]string{`row 0 target "latency"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.history.Best(1, tt.targets)
			require.ErrorIs(t, err, tt.want)
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestObservationsBestMultiRow(t *testing.T) {
	batch := &Observation{
		Config: frame.FromRecords([]string{"x"},
			map[string]any{"x": 0.1}, map[string]any{"x": 0.2}),
		Performance: frame.FromRecords([]string{"score"},
			map[string]any{"score": 2.0}, map[string]any{"score": 0.5}),
		Metadata: frame.FromRecords([]string{"phase"},
			map[string]any{"phase": "initial"}, map[string]any{"phase": "model"}),
	}
	best, err := NewObservations(batch, obs(0.9, 1)).Best(1, []string{"score"})
	require.NoError(t, err)
	top := best.Items()[0]
	v, _ := top.Metadata.Value(0, "phase")
	assert.Equal(t, "model", v)
}

func TestSuggestionComplete(t *testing.T) {
	s := &Suggestion{
		Config:   frame.Single([]string{"x"}, map[string]any{"x": 0.5}),
		Metadata: frame.Single([]string{"phase"}, map[string]any{"phase": "initial"}),
	}
	perf := frame.Single([]string{"score"}, map[string]any{"score": 1.0})
	o := s.Complete(perf)
	assert.Same(t, s.Config, o.Config)
	assert.Same(t, s.Metadata, o.Metadata)
	assert.Same(t, perf, o.Performance)
	assert.Nil(t, o.Context)
}

func TestErrorFormatting(t *testing.T) {
	err := Errorf(ErrShapeMismatch, "3 columns").WithOperation("Register").WithComponent("optimizer")
	assert.Equal(t, "optimizer: Register: 3 columns: configuration shape mismatch", err.Error())
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, ErrShapeMismatch, Kind(WrapError(err, "outer")))

	e, ok := IsOptimizationError(WrapError(err, "outer"))
	require.True(t, ok)
	assert.Equal(t, "outer", e.Message)

	assert.Nil(t, WrapError(nil, "nothing"))
	assert.Nil(t, Kind(assert.AnError))
}
