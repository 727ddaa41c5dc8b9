package config

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/bayesian"
	"github.com/copyleftdev/autotune/internal/optimization/factory"
	"github.com/copyleftdev/autotune/internal/optimization/mock"
	"github.com/copyleftdev/autotune/internal/optimization/random"
	"github.com/copyleftdev/autotune/internal/space"
)

// OptimizerSpec selects and tunes the strategy.
type OptimizerSpec struct {
	Type string `yaml:"type" json:"type"`
	Seed int64  `yaml:"seed" json:"seed"`

	// Bayesian strategy settings; zero values take the strategy defaults.
	InitialPoints    int       `yaml:"initial_points" json:"initial_points"`
	Candidates       int       `yaml:"candidates" json:"candidates"`
	Kernel           string    `yaml:"kernel" json:"kernel"`
	LengthScales     []float64 `yaml:"length_scales" json:"length_scales"`
	NoiseVar         float64   `yaml:"noise_var" json:"noise_var"`
	Acquisition      string    `yaml:"acquisition" json:"acquisition"`
	AcquisitionParam float64   `yaml:"acquisition_param" json:"acquisition_param"`
}

// AdapterSpec selects the optional space adapter.
type AdapterSpec struct {
	Type       string `yaml:"type" json:"type"`
	NumLowDims int    `yaml:"num_low_dims" json:"num_low_dims"`
	Seed       int64  `yaml:"seed" json:"seed"`
}

// Study is everything needed to build an optimizer. The service accepts
// the same shape when creating a session.
type Study struct {
	Parameters []space.Spec  `yaml:"parameters" json:"parameters"`
	Targets    []string      `yaml:"targets" json:"targets"`
	Weights    []float64     `yaml:"weights,omitempty" json:"weights,omitempty"`
	Optimizer  OptimizerSpec `yaml:"optimizer" json:"optimizer"`
	Adapter    AdapterSpec   `yaml:"adapter" json:"adapter"`
}

// Defaults fill in what a study leaves unset.
type Defaults struct {
	OptimizerType string
	Seed          int64
}

// Params converts the study into factory parameters.
func (s Study) Params(d Defaults, logger *zap.Logger, onWarning func(error)) (factory.Params, error) {
	const op = "Study.Params"

	if len(s.Parameters) == 0 {
		return factory.Params{}, optimization.Errorf(optimization.ErrConfigMismatch, "no parameters declared").
			WithOperation(op).WithComponent("config")
	}
	sp, err := space.FromSpecs(s.Parameters)
	if err != nil {
		return factory.Params{}, optimization.Errorf(optimization.ErrConfigMismatch, "%v", err).
			WithOperation(op).WithComponent("config")
	}

	typeName := s.Optimizer.Type
	if typeName == "" {
		typeName = d.OptimizerType
	}
	optimizerType, err := factory.ParseOptimizerType(typeName)
	if err != nil {
		return factory.Params{}, err
	}
	adapterType, err := factory.ParseAdapterType(s.Adapter.Type)
	if err != nil {
		return factory.Params{}, err
	}

	seed := s.Optimizer.Seed
	if seed == 0 {
		seed = d.Seed
	}
	targets := s.Targets
	if len(targets) == 0 {
		targets = []string{"score"}
	}

	return factory.Params{
		Space:         sp,
		Targets:       targets,
		Weights:       s.Weights,
		OptimizerType: optimizerType,
		AdapterType:   adapterType,
		Random:        random.Config{Seed: seed},
		Mock:          mock.Config{Seed: seed},
		Bayesian: bayesian.Config{
			NInitialPoints:   s.Optimizer.InitialPoints,
			NCandidates:      s.Optimizer.Candidates,
			Kernel:           s.Optimizer.Kernel,
			LengthScales:     s.Optimizer.LengthScales,
			NoiseVar:         s.Optimizer.NoiseVar,
			Acquisition:      s.Optimizer.Acquisition,
			AcquisitionParam: s.Optimizer.AcquisitionParam,
			RandomSeed:       seed,
		},
		LlamaTune: factory.LlamaTuneParams{
			NumLowDims: s.Adapter.NumLowDims,
			Seed:       s.Adapter.Seed,
		},
		Logger:    logger,
		OnWarning: onWarning,
	}, nil
}

// Experiment is a study plus the trial loop that drives it.
type Experiment struct {
	Study `yaml:",inline"`

	Name string `yaml:"name"`
	// Objective names a builtin test function.
	Objective    string `yaml:"objective"`
	Iterations   int    `yaml:"iterations"`
	Parallelism  int    `yaml:"parallelism"`
	TrialTimeout string `yaml:"trial_timeout"`
}

// Timeout parses TrialTimeout; empty means no limit.
func (e *Experiment) Timeout() (time.Duration, error) {
	if e.TrialTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.TrialTimeout)
	if err != nil || d < 0 {
		return 0, optimization.Errorf(optimization.ErrConfigMismatch, "invalid trial_timeout %q", e.TrialTimeout).
			WithComponent("config")
	}
	return d, nil
}

// ParseExperiment decodes an experiment and applies defaults. Unknown keys
// are rejected.
func ParseExperiment(r io.Reader) (*Experiment, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var e Experiment
	if err := dec.Decode(&e); err != nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "decode experiment: %v", err).
			WithComponent("config")
	}
	if len(e.Targets) == 0 {
		e.Targets = []string{"score"}
	}
	if e.Iterations == 0 {
		e.Iterations = 20
	}
	if e.Parallelism == 0 {
		e.Parallelism = 1
	}
	if e.Iterations < 0 || e.Parallelism < 0 {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch,
			"iterations and parallelism must be positive, got %d and %d", e.Iterations, e.Parallelism).
			WithComponent("config")
	}
	if _, err := e.Timeout(); err != nil {
		return nil, err
	}
	return &e, nil
}

// LoadExperiment reads an experiment YAML file.
func LoadExperiment(path string) (*Experiment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseExperiment(f)
}
