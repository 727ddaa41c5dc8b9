// Package onehot converts mixed categorical/numeric configuration batches to
// fixed-width numeric matrices and back.
package onehot

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/space"
)

// Codec encodes configurations of one parameter space. Categorical
// parameters expand to one column per choice; numeric parameters occupy a
// single column holding the raw value.
type Codec struct {
	space   *space.Space
	offsets []int
	width   int
}

// New creates a codec for s.
func New(s *space.Space) *Codec {
	c := &Codec{space: s, offsets: make([]int, s.Len())}
	for i, p := range s.Parameters() {
		c.offsets[i] = c.width
		c.width += Span(p)
	}
	return c
}

// Span is the number of encoded columns a parameter occupies.
func Span(p space.Parameter) int {
	switch p.Kind {
	case space.Categorical:
		return len(p.Choices)
	case space.Integer, space.Continuous:
		return 1
	default:
		panic("onehot: unknown parameter kind " + p.Kind.String())
	}
}

// Width returns the number of encoded columns.
func (c *Codec) Width() int { return c.width }

// Offset returns the first encoded column of the i-th parameter.
func (c *Codec) Offset(i int) int { return c.offsets[i] }

// Space returns the parameter space the codec encodes.
func (c *Codec) Space() *space.Space { return c.space }

// Encode converts a configuration batch into a rows x Width() matrix.
func (c *Codec) Encode(configs *frame.Frame) (*mat.Dense, error) {
	const op = "Encode"

	rows := configs.Len()
	if rows == 0 {
		return nil, optimization.Errorf(optimization.ErrShapeMismatch, "empty configuration batch").
			WithOperation(op).WithComponent("onehot")
	}

	out := mat.NewDense(rows, c.width, nil)
	for i := 0; i < rows; i++ {
		for k, p := range c.space.Parameters() {
			v, ok := configs.Value(i, p.Name)
			if !ok {
				return nil, optimization.Errorf(optimization.ErrShapeMismatch, "missing column %q", p.Name).
					WithOperation(op).WithComponent("onehot")
			}
			j := c.offsets[k]
			switch p.Kind {
			case space.Categorical:
				s, _ := v.(string)
				idx := p.ChoiceIndex(s)
				if idx < 0 {
					return nil, optimization.Errorf(optimization.ErrInvalidValue,
						"%s: %v is not one of %v", p.Name, v, p.Choices).
						WithOperation(op).WithComponent("onehot")
				}
				out.Set(i, j+idx, 1)
			case space.Integer, space.Continuous:
				x, ok := frame.AsFloat(v)
				if !ok {
					return nil, optimization.Errorf(optimization.ErrInvalidValue,
						"%s: %v (%T) is not numeric", p.Name, v, v).
						WithOperation(op).WithComponent("onehot")
				}
				out.Set(i, j, x)
			}
		}
	}
	return out, nil
}

// Decode converts an encoded matrix back into a configuration batch. In each
// categorical block the first column equal to 1 selects the choice; a block
// with no set column is an error. Integer columns are rounded.
func (c *Codec) Decode(m mat.Matrix) (*frame.Frame, error) {
	const op = "Decode"

	rows, cols := m.Dims()
	if cols != c.width {
		return nil, optimization.Errorf(optimization.ErrShapeMismatch, "matrix has %d columns, codec width is %d",
			cols, c.width).WithOperation(op).WithComponent("onehot")
	}

	out := frame.New(c.space.Names()...)
	params := c.space.Parameters()
	for i := 0; i < rows; i++ {
		row := make([]any, len(params))
		for k, p := range params {
			j := c.offsets[k]
			switch p.Kind {
			case space.Categorical:
				found := false
				for off, choice := range p.Choices {
					if m.At(i, j+off) == 1 {
						row[k] = choice
						found = true
						break
					}
				}
				if !found {
					return nil, optimization.Errorf(optimization.ErrInvalidValue,
						"row %d: no choice set for categorical %s", i, p.Name).
						WithOperation(op).WithComponent("onehot")
				}
			case space.Integer:
				row[k] = int64(math.Round(m.At(i, j)))
			case space.Continuous:
				row[k] = m.At(i, j)
			}
		}
		if err := out.Append(row...); err != nil {
			return nil, optimization.WrapError(err, op)
		}
	}
	return out, nil
}
