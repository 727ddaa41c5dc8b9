// Package mock provides a deterministic strategy for exercising optimizer
// plumbing: it samples each parameter by kind from a seeded source, accepts
// pending suggestions and remembers the best weighted score it has seen.
package mock

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
)

// DefaultSeed is used when Config.Seed is zero so runs stay reproducible.
const DefaultSeed = 42

// Config contains configuration for the mock strategy.
type Config struct {
	Seed int64
}

// Optimizer is the mock strategy.
type Optimizer struct {
	env    optimization.Environment
	rng    *rand.Rand
	logger *zap.Logger

	iteration  int
	pending    []*optimization.Suggestion
	bestScore  *float64
	bestConfig *frame.Frame
}

// New creates a mock strategy over env.Space.
func New(env optimization.Environment, cfg Config) (*Optimizer, error) {
	if env.Space == nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "parameter space is required").
			WithOperation("New").WithComponent("mock")
	}
	if len(env.Weights) != len(env.Targets) {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "%d weights for %d targets",
			len(env.Weights), len(env.Targets)).WithOperation("New").WithComponent("mock")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		env:    env,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.Named("mock"),
	}, nil
}

// Factory returns a strategy factory for the base optimizer.
func Factory(cfg Config) optimization.StrategyFactory {
	return func(env optimization.Environment) (optimization.Strategy, error) {
		return New(env, cfg)
	}
}

// Suggest draws one value per parameter, uniformly by parameter kind.
func (o *Optimizer) Suggest(trialContext *frame.Frame) (*optimization.Suggestion, error) {
	config := o.env.Space.Sample(o.rng)
	o.logger.Info("Suggest", zap.Int("iteration", o.iteration), zap.Any("config", config.Record(0)))
	return &optimization.Suggestion{Config: config, Context: trialContext}, nil
}

// Register scalarizes each row with the target weights and keeps the best.
func (o *Optimizer) Register(obs *optimization.Observation) error {
	for i := 0; i < obs.Config.Len(); i++ {
		score := 0.0
		for j, target := range o.env.Targets {
			v, err := obs.Performance.Float(i, target)
			if err != nil {
				return optimization.Errorf(optimization.ErrInvalidValue, "%v", err).
					WithOperation("Register").WithComponent("mock")
			}
			score += o.env.Weights[j] * v
		}
		o.logger.Info("Register",
			zap.Int("iteration", o.iteration),
			zap.Any("config", obs.Config.Record(i)),
			zap.Float64("score", score),
		)
		if o.bestScore == nil || score < *o.bestScore {
			o.bestScore = &score
			o.bestConfig = obs.Config.Take(i)
		}
		o.dropPending(obs.Config, i)
		o.iteration++
	}
	return nil
}

// RegisterPending records an in-flight suggestion.
func (o *Optimizer) RegisterPending(pending *optimization.Suggestion) error {
	o.pending = append(o.pending, pending)
	return nil
}

func (o *Optimizer) dropPending(configs *frame.Frame, row int) {
	for k, p := range o.pending {
		if p.Config.Len() > 0 && frame.RowEqual(p.Config, 0, configs, row) {
			o.pending = append(o.pending[:k], o.pending[k+1:]...)
			return
		}
	}
}

// Pending returns the in-flight suggestions the strategy knows about.
func (o *Optimizer) Pending() []*optimization.Suggestion {
	return append([]*optimization.Suggestion(nil), o.pending...)
}

// Best returns the best weighted score and its configuration. ok is false
// before the first registration.
func (o *Optimizer) Best() (score float64, config *frame.Frame, ok bool) {
	if o.bestScore == nil {
		return 0, nil, false
	}
	return *o.bestScore, o.bestConfig.Clone(), true
}

// Iteration returns the number of registered rows.
func (o *Optimizer) Iteration() int { return o.iteration }

func (o *Optimizer) String() string {
	return fmt.Sprintf("MockOptimizer(iteration=%d)", o.iteration)
}
