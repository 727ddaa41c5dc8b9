// Package space defines the declarative parameter spaces that optimizers
// search over.
package space

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/copyleftdev/autotune/internal/frame"
)

// ErrInvalidParameter is returned for malformed parameter declarations.
var ErrInvalidParameter = errors.New("invalid parameter")

// ErrOutOfDomain is returned when a value does not belong to its parameter's domain.
var ErrOutOfDomain = errors.New("value out of parameter domain")

// Kind tags the variant of a Parameter.
type Kind int

const (
	// Continuous parameters take float64 values in [Lower, Upper].
	Continuous Kind = iota
	// Integer parameters take int64 values in [Lower, Upper].
	Integer
	// Categorical parameters take one of Choices.
	Categorical
)

// String returns the YAML name of the kind.
func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Integer:
		return "integer"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses the YAML name of a kind. "float" and "int" are accepted
// as aliases.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "continuous", "float":
		return Continuous, nil
	case "integer", "int":
		return Integer, nil
	case "categorical":
		return Categorical, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidParameter, s)
	}
}

// Parameter is a single tunable.
type Parameter struct {
	Name    string
	Kind    Kind
	Lower   float64
	Upper   float64
	Choices []string
	// Default overrides the canonical default when non-nil.
	Default any
}

// NewContinuous declares a float parameter with inclusive bounds.
func NewContinuous(name string, lower, upper float64) Parameter {
	return Parameter{Name: name, Kind: Continuous, Lower: lower, Upper: upper}
}

// NewInteger declares an integer parameter with inclusive bounds.
func NewInteger(name string, lower, upper int64) Parameter {
	return Parameter{Name: name, Kind: Integer, Lower: float64(lower), Upper: float64(upper)}
}

// NewCategorical declares a categorical parameter.
func NewCategorical(name string, choices ...string) Parameter {
	return Parameter{Name: name, Kind: Categorical, Choices: append([]string(nil), choices...)}
}

// WithDefault returns a copy of p with an explicit default.
func (p Parameter) WithDefault(v any) Parameter {
	p.Default = v
	return p
}

// Validate checks the declaration.
func (p Parameter) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidParameter)
	}
	switch p.Kind {
	case Continuous, Integer:
		if math.IsNaN(p.Lower) || math.IsNaN(p.Upper) || p.Lower > p.Upper {
			return fmt.Errorf("%w: %s: bounds [%v, %v]", ErrInvalidParameter, p.Name, p.Lower, p.Upper)
		}
		if p.Kind == Integer && (p.Lower != math.Trunc(p.Lower) || p.Upper != math.Trunc(p.Upper)) {
			return fmt.Errorf("%w: %s: integer bounds must be whole numbers", ErrInvalidParameter, p.Name)
		}
	case Categorical:
		if len(p.Choices) == 0 {
			return fmt.Errorf("%w: %s: no choices", ErrInvalidParameter, p.Name)
		}
		seen := make(map[string]bool, len(p.Choices))
		for _, c := range p.Choices {
			if seen[c] {
				return fmt.Errorf("%w: %s: duplicate choice %q", ErrInvalidParameter, p.Name, c)
			}
			seen[c] = true
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %v", ErrInvalidParameter, p.Name, p.Kind)
	}
	if p.Default != nil {
		if err := p.Check(p.Default); err != nil {
			return fmt.Errorf("%w: %s: default: %v", ErrInvalidParameter, p.Name, err)
		}
	}
	return nil
}

// Check returns ErrOutOfDomain when v is not a legal value of p.
func (p Parameter) Check(v any) error {
	switch p.Kind {
	case Categorical:
		s, ok := v.(string)
		if !ok || p.ChoiceIndex(s) < 0 {
			return fmt.Errorf("%w: %s: %v not in %v", ErrOutOfDomain, p.Name, v, p.Choices)
		}
	case Integer:
		x, ok := frame.AsFloat(v)
		if !ok || x != math.Trunc(x) || x < p.Lower || x > p.Upper {
			return fmt.Errorf("%w: %s: %v not an integer in [%v, %v]", ErrOutOfDomain, p.Name, v, p.Lower, p.Upper)
		}
	case Continuous:
		x, ok := frame.AsFloat(v)
		if !ok || x < p.Lower || x > p.Upper {
			return fmt.Errorf("%w: %s: %v not in [%v, %v]", ErrOutOfDomain, p.Name, v, p.Lower, p.Upper)
		}
	}
	return nil
}

// ChoiceIndex returns the position of choice, or -1.
func (p Parameter) ChoiceIndex(choice string) int {
	return slices.Index(p.Choices, choice)
}

// DefaultValue returns the explicit default or the canonical one: the
// midpoint for numeric parameters (rounded for integers) and the first
// choice for categoricals.
func (p Parameter) DefaultValue() any {
	if p.Default != nil {
		return p.Coerce(p.Default)
	}
	switch p.Kind {
	case Categorical:
		return p.Choices[0]
	case Integer:
		return int64(math.Round((p.Lower + p.Upper) / 2))
	default:
		return (p.Lower + p.Upper) / 2
	}
}

// Sample draws a value uniformly from the domain.
func (p Parameter) Sample(rng *rand.Rand) any {
	switch p.Kind {
	case Categorical:
		return p.Choices[rng.Intn(len(p.Choices))]
	case Integer:
		lo, hi := int64(p.Lower), int64(p.Upper)
		return lo + rng.Int63n(hi-lo+1)
	default:
		return p.Lower + rng.Float64()*(p.Upper-p.Lower)
	}
}

// FromUnit maps u in [0, 1] onto the domain. Integers are rounded and
// categoricals bucketized.
func (p Parameter) FromUnit(u float64) any {
	u = Clamp(u, 0, 1)
	switch p.Kind {
	case Categorical:
		i := int(u * float64(len(p.Choices)))
		return p.Choices[Clamp(i, 0, len(p.Choices)-1)]
	case Integer:
		x := math.Round(p.Lower + u*(p.Upper-p.Lower))
		return int64(Clamp(x, p.Lower, p.Upper))
	default:
		return p.Lower + u*(p.Upper-p.Lower)
	}
}

// ToUnit maps a domain value into [0, 1]; the inverse of FromUnit up to
// rounding. Categorical choices map to the centre of their bucket.
func (p Parameter) ToUnit(v any) (float64, error) {
	if err := p.Check(v); err != nil {
		return 0, err
	}
	switch p.Kind {
	case Categorical:
		i := p.ChoiceIndex(v.(string))
		return (float64(i) + 0.5) / float64(len(p.Choices)), nil
	default:
		x, _ := frame.AsFloat(v)
		if p.Upper == p.Lower {
			return 0.5, nil
		}
		return (x - p.Lower) / (p.Upper - p.Lower), nil
	}
}

// Coerce converts loosely typed input (JSON/YAML numbers) into the native
// type of the parameter. Values that cannot be converted are returned as is.
func (p Parameter) Coerce(v any) any {
	switch p.Kind {
	case Integer:
		if x, ok := frame.AsFloat(v); ok && x == math.Trunc(x) {
			return int64(x)
		}
	case Continuous:
		if x, ok := frame.AsFloat(v); ok {
			return x
		}
	case Categorical:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
	}
	return v
}

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
