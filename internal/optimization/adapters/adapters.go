// Package adapters provides space adapters that sit between the caller's
// parameter space and the space a strategy searches.
package adapters

import (
	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/space"
)

// IdentityAdapter exposes the original space unchanged.
type IdentityAdapter struct {
	space *space.Space
}

var _ optimization.SpaceAdapter = (*IdentityAdapter)(nil)

// Identity returns an adapter whose target space is s itself.
func Identity(s *space.Space) (*IdentityAdapter, error) {
	if s == nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "parameter space is required").
			WithOperation("Identity").WithComponent("adapters")
	}
	return &IdentityAdapter{space: s}, nil
}

func (a *IdentityAdapter) OrigParameterSpace() *space.Space   { return a.space }
func (a *IdentityAdapter) TargetParameterSpace() *space.Space { return a.space }
func (a *IdentityAdapter) String() string                     { return "Identity" }

func (a *IdentityAdapter) Transform(configs *frame.Frame) (*frame.Frame, error) {
	return configs.Clone(), nil
}

func (a *IdentityAdapter) InverseTransform(configs *frame.Frame) (*frame.Frame, error) {
	return configs.Clone(), nil
}
