package space

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec is the file representation of a parameter.
type Spec struct {
	Name    string   `yaml:"name" json:"name"`
	Type    string   `yaml:"type" json:"type"`
	Lower   *float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper   *float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
	Choices []string `yaml:"choices,omitempty" json:"choices,omitempty"`
	Default any      `yaml:"default,omitempty" json:"default,omitempty"`
}

// Parameter converts s into a Parameter.
func (s Spec) Parameter() (Parameter, error) {
	kind, err := ParseKind(s.Type)
	if err != nil {
		return Parameter{}, fmt.Errorf("%s: %w", s.Name, err)
	}
	p := Parameter{Name: s.Name, Kind: kind, Choices: s.Choices}
	if kind != Categorical {
		if s.Lower == nil || s.Upper == nil {
			return Parameter{}, fmt.Errorf("%w: %s: lower and upper are required", ErrInvalidParameter, s.Name)
		}
		p.Lower, p.Upper = *s.Lower, *s.Upper
	}
	if s.Default != nil {
		p.Default = p.Coerce(s.Default)
	}
	return p, nil
}

// FromSpecs builds a space from parameter specs.
func FromSpecs(specs []Spec) (*Space, error) {
	params := make([]Parameter, 0, len(specs))
	for _, s := range specs {
		p, err := s.Parameter()
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return New(params...)
}

// Specs converts the space back into its file representation.
func (s *Space) Specs() []Spec {
	out := make([]Spec, len(s.params))
	for i, p := range s.params {
		spec := Spec{Name: p.Name, Type: p.Kind.String(), Default: p.Default}
		if p.Kind == Categorical {
			spec.Choices = append([]string(nil), p.Choices...)
		} else {
			lo, hi := p.Lower, p.Upper
			spec.Lower, spec.Upper = &lo, &hi
		}
		out[i] = spec
	}
	return out
}

type document struct {
	Parameters []Spec `yaml:"parameters"`
}

// LoadYAML reads a document of the form
//
//	parameters:
//	  - {name: x, type: continuous, lower: 0, upper: 1}
//	  - {name: z, type: categorical, choices: [a, b, c]}
func LoadYAML(r io.Reader) (*Space, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode parameter space: %w", err)
	}
	return FromSpecs(doc.Parameters)
}

// LoadFile reads a parameter space YAML file.
func LoadFile(path string) (*Space, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}
