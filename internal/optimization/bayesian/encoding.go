package bayesian

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization/onehot"
	"github.com/copyleftdev/autotune/internal/space"
)

// encoder maps configurations to GP feature rows: the one-hot encoding with
// numeric columns rescaled to [0, 1].
type encoder struct {
	codec   *onehot.Codec
	params  []space.Parameter
	numeric []int
}

func newEncoder(s *space.Space) *encoder {
	e := &encoder{codec: onehot.New(s), params: s.Parameters()}
	for k, p := range e.params {
		if p.Kind != space.Categorical {
			e.numeric = append(e.numeric, e.codec.Offset(k))
		}
	}
	return e
}

func (e *encoder) width() int { return e.codec.Width() }

func (e *encoder) encode(configs *frame.Frame) ([][]float64, error) {
	m, err := e.codec.Encode(configs)
	if err != nil {
		return nil, err
	}
	rows, _ := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		row := append([]float64(nil), m.RawRowView(i)...)
		for k, p := range e.params {
			if p.Kind == space.Categorical {
				continue
			}
			j := e.codec.Offset(k)
			row[j] = toUnit(p, row[j])
		}
		out[i] = row
	}
	return out, nil
}

func (e *encoder) decode(rows ...[]float64) (*frame.Frame, error) {
	raw := mat.NewDense(len(rows), e.width(), nil)
	for i, row := range rows {
		for k, p := range e.params {
			j := e.codec.Offset(k)
			switch p.Kind {
			case space.Categorical:
				best := 0
				for c := range p.Choices {
					if row[j+c] > row[j+best] {
						best = c
					}
				}
				raw.Set(i, j+best, 1)
			case space.Integer, space.Continuous:
				u := space.Clamp(row[j], 0, 1)
				raw.Set(i, j, p.Lower+u*(p.Upper-p.Lower))
			}
		}
	}
	return e.codec.Decode(raw)
}

// sample draws a uniform random feature row.
func (e *encoder) sample(rng *rand.Rand) []float64 {
	row := make([]float64, e.width())
	for k, p := range e.params {
		e.set(row, k, p.Sample(rng))
	}
	return row
}

// latinHypercube draws n feature rows stratified along every parameter.
func (e *encoder) latinHypercube(n int, rng *rand.Rand) [][]float64 {
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, e.width())
	}
	strata := make([]float64, n)
	for k, p := range e.params {
		for j := range strata {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(a, b int) {
			strata[a], strata[b] = strata[b], strata[a]
		})
		for j := range samples {
			e.set(samples[j], k, p.FromUnit(strata[j]))
		}
	}
	return samples
}

func (e *encoder) set(row []float64, k int, v any) {
	p := e.params[k]
	j := e.codec.Offset(k)
	if p.Kind == space.Categorical {
		s, _ := v.(string)
		for c := range p.Choices {
			row[j+c] = 0
		}
		row[j+p.ChoiceIndex(s)] = 1
		return
	}
	x, _ := frame.AsFloat(v)
	row[j] = toUnit(p, x)
}

func toUnit(p space.Parameter, x float64) float64 {
	if p.Upper == p.Lower {
		return 0.5
	}
	return (x - p.Lower) / (p.Upper - p.Lower)
}
