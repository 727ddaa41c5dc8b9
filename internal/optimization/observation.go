package optimization

import (
	"sort"

	"github.com/copyleftdev/autotune/internal/frame"
)

// Observation is a scored configuration batch. It is a plain record: the
// optimizer validates it at the Register boundary.
type Observation struct {
	// Config holds one row per evaluated configuration.
	Config *frame.Frame
	// Performance holds one numeric column per optimization target.
	Performance *frame.Frame
	// Context is optional.
	Context *frame.Frame
	// Metadata is optional, strategy-private data carried from the suggestion.
	Metadata *frame.Frame
}

// Suggestion is a proposed configuration that has not been scored yet.
type Suggestion struct {
	Config   *frame.Frame
	Context  *frame.Frame
	Metadata *frame.Frame
}

// Complete pairs the suggestion with its measured performance.
func (s *Suggestion) Complete(performance *frame.Frame) *Observation {
	return &Observation{
		Config:      s.Config,
		Performance: performance,
		Context:     s.Context,
		Metadata:    s.Metadata,
	}
}

// Table is the flattened, row-aligned form of an observation history.
// Contexts and Metadata are nil when no observation carried them.
type Table struct {
	Configs     *frame.Frame
	Performance *frame.Frame
	Contexts    *frame.Frame
	Metadata    *frame.Frame
}

// Observations is an append-only, ordered observation history.
type Observations struct {
	items []*Observation
}

// NewObservations creates a history holding the given observations.
func NewObservations(obs ...*Observation) *Observations {
	return &Observations{items: append([]*Observation(nil), obs...)}
}

// Append adds an observation at the end of the history.
func (o *Observations) Append(obs *Observation) {
	o.items = append(o.items, obs)
}

// Len returns the number of observation records.
func (o *Observations) Len() int {
	if o == nil {
		return 0
	}
	return len(o.items)
}

// Items returns the observation records in insertion order.
func (o *Observations) Items() []*Observation {
	return append([]*Observation(nil), o.items...)
}

// Table concatenates the history into four aligned frames. Rows of
// observations without context or metadata are nil-filled when any other
// observation supplied them.
func (o *Observations) Table() Table {
	var (
		configs, scores, contexts, metadata []*frame.Frame
		hasContext, hasMetadata             bool
	)
	for _, obs := range o.items {
		n := obs.Config.Len()
		configs = append(configs, obs.Config)
		scores = append(scores, obs.Performance)
		contexts = append(contexts, orBlank(obs.Context, n, &hasContext))
		metadata = append(metadata, orBlank(obs.Metadata, n, &hasMetadata))
	}

	t := Table{
		Configs:     frame.Concat(configs...),
		Performance: frame.Concat(scores...),
	}
	if hasContext {
		t.Contexts = frame.Concat(contexts...)
	}
	if hasMetadata {
		t.Metadata = frame.Concat(metadata...)
	}
	return t
}

func orBlank(f *frame.Frame, rows int, seen *bool) *frame.Frame {
	if f == nil {
		return frame.Blank(rows)
	}
	*seen = true
	return f
}

// Best returns up to n single-row observations with the smallest values of
// targets, compared lexicographically in target order. Ties keep the
// earlier observation first.
func (o *Observations) Best(n int, targets []string) (*Observations, error) {
	if o.Len() == 0 {
		return nil, Errorf(ErrEmptyHistory, "best observations requested").WithOperation("Best")
	}
	t := o.Table()
	rows := t.Performance.Len()

	keys := make([][]float64, rows)
	for i := range keys {
		keys[i] = make([]float64, len(targets))
		for j, target := range targets {
			v, err := t.Performance.Float(i, target)
			if err != nil {
				return nil, Errorf(ErrInvalidValue, "score row %d target %q: %v", i, target, err).WithOperation("Best")
			}
			keys[i][j] = v
		}
	}

	order := make([]int, rows)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := keys[order[a]], keys[order[b]]
		for j := range ka {
			if ka[j] != kb[j] {
				return ka[j] < kb[j]
			}
		}
		return false
	})

	if n > rows {
		n = rows
	}
	if n < 0 {
		n = 0
	}
	best := &Observations{items: make([]*Observation, 0, n)}
	for _, i := range order[:n] {
		obs := &Observation{
			Config:      t.Configs.Take(i),
			Performance: t.Performance.Take(i),
		}
		if t.Contexts != nil {
			obs.Context = t.Contexts.Take(i)
		}
		if t.Metadata != nil {
			obs.Metadata = t.Metadata.Take(i)
		}
		best.items = append(best.items, obs)
	}
	return best, nil
}
