package space

import (
	"fmt"
	"math/rand"
	"reflect"
	"slices"

	"github.com/copyleftdev/autotune/internal/frame"
)

// Space is an ordered set of uniquely named parameters. The order defines
// the column order of every configuration batch built from the space.
type Space struct {
	params []Parameter
	index  map[string]int
}

// New validates the parameters and builds a space.
func New(params ...Parameter) (*Space, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: a space needs at least one parameter", ErrInvalidParameter)
	}
	s := &Space{index: make(map[string]int, len(params))}
	for _, p := range params {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidParameter, p.Name)
		}
		p.Choices = append([]string(nil), p.Choices...)
		s.index[p.Name] = len(s.params)
		s.params = append(s.params, p)
	}
	return s, nil
}

// MustNew is New that panics on error. Intended for tests and static spaces.
func MustNew(params ...Parameter) *Space {
	s, err := New(params...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of parameters.
func (s *Space) Len() int { return len(s.params) }

// Names returns the parameter names in order.
func (s *Space) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// Parameters returns a copy of the parameters in order.
func (s *Space) Parameters() []Parameter {
	return append([]Parameter(nil), s.params...)
}

// Parameter looks a parameter up by name.
func (s *Space) Parameter(name string) (Parameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return Parameter{}, false
	}
	return s.params[i], true
}

// Default returns the canonical default configuration as a one-row frame.
func (s *Space) Default() *frame.Frame {
	f := frame.New(s.Names()...)
	row := make([]any, len(s.params))
	for i, p := range s.params {
		row[i] = p.DefaultValue()
	}
	_ = f.Append(row...)
	return f
}

// Sample draws one configuration, each parameter independently and
// uniformly from its domain.
func (s *Space) Sample(rng *rand.Rand) *frame.Frame {
	f := frame.New(s.Names()...)
	row := make([]any, len(s.params))
	for i, p := range s.params {
		row[i] = p.Sample(rng)
	}
	_ = f.Append(row...)
	return f
}

// Contains checks that the batch has exactly the space's columns and every
// value lies in its parameter's domain.
func (s *Space) Contains(configs *frame.Frame) error {
	if !configs.SameColumns(s.Names()) {
		return fmt.Errorf("%w: columns %v do not match %v", ErrOutOfDomain, configs.Columns(), s.Names())
	}
	for i := 0; i < configs.Len(); i++ {
		for _, p := range s.params {
			v, _ := configs.Value(i, p.Name)
			if err := p.Check(v); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
	}
	return nil
}

// Coerce converts a loosely typed record into a one-row frame of native
// values in space order. Unknown keys are kept as trailing columns so that
// shape validation downstream can reject them.
func (s *Space) Coerce(record map[string]any) *frame.Frame {
	var extra []string
	for k := range record {
		if _, ok := s.index[k]; !ok {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	cols := append(s.Names(), extra...)
	present := cols[:0:0]
	for _, c := range cols {
		if _, ok := record[c]; ok {
			present = append(present, c)
		}
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		if p, ok := s.Parameter(k); ok {
			v = p.Coerce(v)
		}
		out[k] = v
	}
	return frame.Single(present, out)
}

// Equal reports whether two spaces declare the same parameters in the same
// order.
func (s *Space) Equal(other *Space) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || len(s.params) != len(other.params) {
		return false
	}
	return reflect.DeepEqual(s.params, other.params)
}

// String renders the space.
func (s *Space) String() string {
	return fmt.Sprintf("Space%v", s.Names())
}
