package acquisition

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
	// Whether we're minimizing (true) or maximizing (false)
	minimize bool
}

// NewExpectedImprovement creates a new ExpectedImprovement acquisition function
// By default, it assumes we're minimizing (lower values are better)
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
		minimize:     true,
	}
}

func (ei *ExpectedImprovement) improvement(mu float64) float64 {
	if ei.minimize {
		return ei.bestObserved - mu - ei.xi
	}
	return mu - ei.bestObserved - ei.xi
}

// Compute computes the Expected Improvement at point x
// mu: mean prediction at x
// sigma: standard deviation of prediction at x
// Returns the expected improvement value (always non-negative)
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.improvement(mu)
	if improvement <= 0 && sigma <= 1e-10 {
		return 0.0
	}

	// Certain prediction: EI degenerates to the plain improvement.
	if sigma <= 1e-10 {
		return improvement
	}

	// EI = improvement * Φ(z) + sigma * φ(z)
	z := improvement / sigma
	return improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}

// Gradient computes the gradient of the Expected Improvement
// dmu: derivative of mu with respect to the parameter
// dsigma: derivative of sigma with respect to the parameter
func (ei *ExpectedImprovement) Gradient(mu, dmu float64, sigma, dsigma float64) float64 {
	if sigma <= 1e-10 {
		if ei.improvement(mu) <= 0 {
			return 0.0
		}
		if ei.minimize {
			return -dmu
		}
		return dmu
	}

	z := ei.improvement(mu) / sigma
	pdf := distuv.UnitNormal.Prob(z)
	cdf := distuv.UnitNormal.CDF(z)

	// dEI/dmu = ∓Φ(z), dEI/dsigma = φ(z)
	if ei.minimize {
		return -cdf*dmu + pdf*dsigma
	}
	return cdf*dmu + pdf*dsigma
}

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) SetXi(xi float64) {
	ei.xi = xi
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}

// Name returns "ei".
func (ei *ExpectedImprovement) Name() string { return NameEI }
