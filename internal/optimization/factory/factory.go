// Package factory builds optimizers from declarative parameters.
package factory

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/adapters"
	"github.com/copyleftdev/autotune/internal/optimization/bayesian"
	"github.com/copyleftdev/autotune/internal/optimization/mock"
	"github.com/copyleftdev/autotune/internal/optimization/random"
	"github.com/copyleftdev/autotune/internal/space"
)

// OptimizerType selects the strategy.
type OptimizerType string

const (
	Random   OptimizerType = "random"
	Bayesian OptimizerType = "bayesian"
	Mock     OptimizerType = "mock"

	DefaultOptimizerType = Bayesian
)

// OptimizerTypes lists the accepted optimizer types.
var OptimizerTypes = []OptimizerType{Random, Bayesian, Mock}

// ParseOptimizerType accepts a case-insensitive name; "" is the default.
func ParseOptimizerType(s string) (OptimizerType, error) {
	if s == "" {
		return DefaultOptimizerType, nil
	}
	t := OptimizerType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range OptimizerTypes {
		if t == known {
			return t, nil
		}
	}
	return "", optimization.Errorf(optimization.ErrConfigMismatch, "unknown optimizer type %q", s).
		WithOperation("ParseOptimizerType").WithComponent("factory")
}

// AdapterType selects the optional space adapter.
type AdapterType string

const (
	NoAdapter AdapterType = "none"
	Identity  AdapterType = "identity"
	LlamaTune AdapterType = "llamatune"

	DefaultAdapterType = NoAdapter
)

// AdapterTypes lists the accepted adapter types.
var AdapterTypes = []AdapterType{NoAdapter, Identity, LlamaTune}

// ParseAdapterType accepts a case-insensitive name; "" means no adapter.
func ParseAdapterType(s string) (AdapterType, error) {
	if s == "" {
		return DefaultAdapterType, nil
	}
	t := AdapterType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AdapterTypes {
		if t == known {
			return t, nil
		}
	}
	return "", optimization.Errorf(optimization.ErrConfigMismatch, "unknown space adapter type %q", s).
		WithOperation("ParseAdapterType").WithComponent("factory")
}

// DefaultNumLowDims caps the LlamaTune target dimensionality when
// LlamaTuneParams.NumLowDims is zero.
const DefaultNumLowDims = 16

// LlamaTuneParams configures the projection adapter.
type LlamaTuneParams struct {
	NumLowDims int   `yaml:"num_low_dims"`
	Seed       int64 `yaml:"seed"`
}

// Params describes an optimizer to build.
type Params struct {
	Space   *space.Space
	Targets []string
	Weights []float64

	OptimizerType OptimizerType
	AdapterType   AdapterType

	Random    random.Config
	Bayesian  bayesian.Config
	Mock      mock.Config
	LlamaTune LlamaTuneParams

	Logger    *zap.Logger
	OnWarning func(error)
}

// Create builds the adapter, if any, and then the optimizer around the
// selected strategy.
func Create(p Params) (*optimization.Optimizer, error) {
	optimizerType := p.OptimizerType
	if optimizerType == "" {
		optimizerType = DefaultOptimizerType
	}
	adapterType := p.AdapterType
	if adapterType == "" {
		adapterType = DefaultAdapterType
	}

	newStrategy, err := strategyFactory(optimizerType, p)
	if err != nil {
		return nil, err
	}
	adapter, err := newAdapter(adapterType, p)
	if err != nil {
		return nil, err
	}

	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Creating optimizer",
		zap.String("optimizer_type", string(optimizerType)),
		zap.String("adapter_type", string(adapterType)),
		zap.Strings("targets", p.Targets),
	)

	return optimization.New(optimization.Config{
		ParameterSpace: p.Space,
		Targets:        p.Targets,
		Weights:        p.Weights,
		SpaceAdapter:   adapter,
		Logger:         logger,
		OnWarning:      p.OnWarning,
	}, newStrategy)
}

func strategyFactory(t OptimizerType, p Params) (optimization.StrategyFactory, error) {
	switch t {
	case Random:
		return random.Factory(p.Random), nil
	case Bayesian:
		return bayesian.Factory(p.Bayesian), nil
	case Mock:
		return mock.Factory(p.Mock), nil
	default:
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "unknown optimizer type %q", t).
			WithOperation("Create").WithComponent("factory")
	}
}

func newAdapter(t AdapterType, p Params) (optimization.SpaceAdapter, error) {
	switch t {
	case NoAdapter:
		return nil, nil
	case Identity:
		return adapters.Identity(p.Space)
	case LlamaTune:
		if p.Space == nil {
			return nil, optimization.Errorf(optimization.ErrConfigMismatch, "parameter space is required").
				WithOperation("Create").WithComponent("factory")
		}
		dims := p.LlamaTune.NumLowDims
		if dims == 0 {
			dims = min(DefaultNumLowDims, p.Space.Len())
		}
		return adapters.LlamaTune(p.Space, dims, p.LlamaTune.Seed)
	default:
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "unknown space adapter type %q", t).
			WithOperation("Create").WithComponent("factory")
	}
}

func (t OptimizerType) String() string { return string(t) }
func (t AdapterType) String() string   { return string(t) }

// Describe renders the accepted values for help text.
func Describe() string {
	return fmt.Sprintf("optimizers: %v, adapters: %v", OptimizerTypes, AdapterTypes)
}
