// Package acquisition scores candidate points from a surrogate's predictive
// mean and standard deviation. Larger scores are more promising; all
// functions assume the objective is minimized unless stated otherwise.
package acquisition

import "fmt"

// Acquisition function names accepted by New.
const (
	NameEI  = "ei"
	NameUCB = "ucb"
)

// Function is an acquisition function.
type Function interface {
	// Compute scores a point with predictive mean mu and standard deviation sigma.
	Compute(mu, sigma float64) float64
	// UpdateBest sets the incumbent value.
	UpdateBest(best float64)
	// Name identifies the function.
	Name() string
}

// New creates an acquisition function by name. param is xi for EI and
// kappa for UCB; zero selects the default.
func New(name string, param float64) (Function, error) {
	switch name {
	case NameEI, "":
		if param == 0 {
			param = DefaultXi
		}
		return NewExpectedImprovement(0, param), nil
	case NameUCB:
		if param == 0 {
			param = DefaultKappa
		}
		return NewUpperConfidenceBound(param), nil
	default:
		return nil, fmt.Errorf("unknown acquisition function %q", name)
	}
}

// Defaults for New.
const (
	DefaultXi    = 0.01
	DefaultKappa = 2.0
)

// UpperConfidenceBound scores the optimistic bound of the negated
// objective: kappa*sigma - mu.
type UpperConfidenceBound struct {
	kappa float64
}

// NewUpperConfidenceBound creates a UCB function with exploration weight kappa.
func NewUpperConfidenceBound(kappa float64) *UpperConfidenceBound {
	return &UpperConfidenceBound{kappa: kappa}
}

// Compute returns kappa*sigma - mu.
func (u *UpperConfidenceBound) Compute(mu, sigma float64) float64 {
	return u.kappa*sigma - mu
}

// UpdateBest is a no-op; UCB does not depend on the incumbent.
func (u *UpperConfidenceBound) UpdateBest(float64) {}

// Kappa returns the exploration weight.
func (u *UpperConfidenceBound) Kappa() float64 { return u.kappa }

// Name returns "ucb".
func (u *UpperConfidenceBound) Name() string { return NameUCB }
