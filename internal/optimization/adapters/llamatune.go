package adapters

import (
	"fmt"
	"math/rand"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/space"
)

// LowDimPrefix names the target dimensions: llamatune_0, llamatune_1, ...
const LowDimPrefix = "llamatune_"

// LlamaTuneAdapter searches a low dimensional box [-1, 1]^d and projects it
// onto the original space with a HeSBO hashing embedding: every original
// parameter reads one low dimension, optionally negated.
type LlamaTuneAdapter struct {
	orig   *space.Space
	target *space.Space

	// dim[k] and sign[k] describe original parameter k.
	dim  []int
	sign []float64
	// members[j] lists the original parameters reading low dimension j.
	members [][]int
}

var _ optimization.SpaceAdapter = (*LlamaTuneAdapter)(nil)

// LlamaTune builds a projection of s onto numLowDims dimensions. The hash is
// a pure function of seed.
func LlamaTune(s *space.Space, numLowDims int, seed int64) (*LlamaTuneAdapter, error) {
	const op = "LlamaTune"

	if s == nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "parameter space is required").
			WithOperation(op).WithComponent("adapters")
	}
	if numLowDims < 1 || numLowDims > s.Len() {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch,
			"num_low_dims must be in [1, %d], got %d", s.Len(), numLowDims).
			WithOperation(op).WithComponent("adapters")
	}

	params := make([]space.Parameter, numLowDims)
	for j := range params {
		params[j] = space.NewContinuous(fmt.Sprintf("%s%d", LowDimPrefix, j), -1, 1).WithDefault(0.0)
	}
	target, err := space.New(params...)
	if err != nil {
		return nil, optimization.WrapError(err, "adapters: "+op)
	}

	rng := rand.New(rand.NewSource(seed))
	a := &LlamaTuneAdapter{
		orig:    s,
		target:  target,
		dim:     make([]int, s.Len()),
		sign:    make([]float64, s.Len()),
		members: make([][]int, numLowDims),
	}
	for k := range a.dim {
		a.dim[k] = rng.Intn(numLowDims)
		a.sign[k] = 1
		if rng.Intn(2) == 0 {
			a.sign[k] = -1
		}
		a.members[a.dim[k]] = append(a.members[a.dim[k]], k)
	}
	return a, nil
}

func (a *LlamaTuneAdapter) OrigParameterSpace() *space.Space   { return a.orig }
func (a *LlamaTuneAdapter) TargetParameterSpace() *space.Space { return a.target }

func (a *LlamaTuneAdapter) String() string {
	return fmt.Sprintf("LlamaTune(num_low_dims=%d)", a.target.Len())
}

// Projection returns the low dimension and sign of each original parameter.
func (a *LlamaTuneAdapter) Projection() (dims []int, signs []float64) {
	return append([]int(nil), a.dim...), append([]float64(nil), a.sign...)
}

// Transform maps low dimensional points onto the original space.
func (a *LlamaTuneAdapter) Transform(configs *frame.Frame) (*frame.Frame, error) {
	lowNames := a.target.Names()
	params := a.orig.Parameters()
	out := frame.New(a.orig.Names()...)
	z := make([]float64, len(lowNames))
	row := make([]any, len(params))

	for i := 0; i < configs.Len(); i++ {
		for j, name := range lowNames {
			v, err := configs.Float(i, name)
			if err != nil {
				return nil, optimization.Errorf(optimization.ErrShapeMismatch, "row %d: %v", i, err).
					WithOperation("Transform").WithComponent("adapters")
			}
			z[j] = space.Clamp(v, -1, 1)
		}
		for k, p := range params {
			u := a.sign[k] * z[a.dim[k]]
			row[k] = p.FromUnit((u + 1) / 2)
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InverseTransform maps original configurations into the low dimensional
// box. Each low dimension is the mean of the signed, normalized parameters
// hashed onto it, so the result is a least squares preimage rather than an
// exact one.
func (a *LlamaTuneAdapter) InverseTransform(configs *frame.Frame) (*frame.Frame, error) {
	params := a.orig.Parameters()
	out := frame.New(a.target.Names()...)
	u := make([]float64, len(params))
	row := make([]any, len(a.members))

	for i := 0; i < configs.Len(); i++ {
		for k, p := range params {
			v, ok := configs.Value(i, p.Name)
			if !ok {
				return nil, optimization.Errorf(optimization.ErrShapeMismatch, "row %d: missing column %q", i, p.Name).
					WithOperation("InverseTransform").WithComponent("adapters")
			}
			x, err := p.ToUnit(v)
			if err != nil {
				return nil, optimization.Errorf(optimization.ErrInvalidValue, "row %d: %v", i, err).
					WithOperation("InverseTransform").WithComponent("adapters")
			}
			u[k] = a.sign[k] * (2*x - 1)
		}
		for j, ks := range a.members {
			sum := 0.0
			for _, k := range ks {
				sum += u[k]
			}
			z := 0.0
			if len(ks) > 0 {
				z = sum / float64(len(ks))
			}
			row[j] = space.Clamp(z, -1, 1)
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}
