// Package random implements uniform random search over a parameter space.
package random

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/space"
)

// Config contains configuration for random search.
type Config struct {
	// Seed for the sampler. Zero seeds from the clock.
	Seed int64
}

// Optimizer samples every suggestion independently and keeps no model.
type Optimizer struct {
	space  *space.Space
	rng    *rand.Rand
	seed   int64
	logger *zap.Logger
	warn   func(error)
}

// New creates a random search strategy over env.Space.
func New(env optimization.Environment, cfg Config) (*Optimizer, error) {
	if env.Space == nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "parameter space is required").
			WithOperation("New").WithComponent("random")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := env.Warn
	if warn == nil {
		warn = func(error) {}
	}
	return &Optimizer{
		space:  env.Space,
		rng:    rand.New(rand.NewSource(seed)),
		seed:   seed,
		logger: logger.Named("random"),
		warn:   warn,
	}, nil
}

// Factory returns a strategy factory for the base optimizer.
func Factory(cfg Config) optimization.StrategyFactory {
	return func(env optimization.Environment) (optimization.Strategy, error) {
		return New(env, cfg)
	}
}

// Suggest draws one uniform sample. A trial context is passed through
// unchanged and reported as unsupported.
func (o *Optimizer) Suggest(trialContext *frame.Frame) (*optimization.Suggestion, error) {
	if trialContext != nil {
		o.warn(optimization.Errorf(optimization.ErrContextUnsupported, "%v", trialContext.Columns()).
			WithOperation("Suggest").WithComponent("random"))
	}
	return &optimization.Suggestion{
		Config:  o.space.Sample(o.rng),
		Context: trialContext,
	}, nil
}

// Register accepts the observation without learning from it.
func (o *Optimizer) Register(obs *optimization.Observation) error {
	if obs.Context != nil {
		o.warn(optimization.Errorf(optimization.ErrContextUnsupported, "context %v", obs.Context.Columns()).
			WithOperation("Register").WithComponent("random"))
	}
	if obs.Metadata != nil && obs.Metadata.Width() > 0 {
		o.warn(optimization.Errorf(optimization.ErrContextUnsupported, "metadata %v", obs.Metadata.Columns()).
			WithOperation("Register").WithComponent("random"))
	}
	o.logger.Debug("Ignoring observation", zap.Int("rows", obs.Config.Len()))
	return nil
}

// RegisterPending is not supported by random search.
func (o *Optimizer) RegisterPending(*optimization.Suggestion) error {
	return optimization.Errorf(optimization.ErrNotSupported, "random search keeps no pending state").
		WithOperation("RegisterPending").WithComponent("random")
}

// Seed returns the seed the sampler was created with.
func (o *Optimizer) Seed() int64 { return o.seed }

func (o *Optimizer) String() string {
	return fmt.Sprintf("RandomOptimizer(seed=%d)", o.seed)
}
