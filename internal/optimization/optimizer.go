package optimization

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/space"
)

// Strategy is the proposal/update logic plugged behind an Optimizer.
// All frames a strategy sees or returns are expressed in the strategy-visible
// parameter space; the Optimizer has already validated shapes.
type Strategy interface {
	// Suggest proposes exactly one configuration.
	Suggest(trialContext *frame.Frame) (*Suggestion, error)

	// Register updates the strategy with a scored observation.
	Register(obs *Observation) error

	// RegisterPending records a suggestion whose trial is in flight.
	RegisterPending(pending *Suggestion) error
}

// Cleaner is implemented by strategies holding external resources.
type Cleaner interface {
	Cleanup() error
}

// Surrogate is implemented by strategies with a predictive model.
type Surrogate interface {
	// SurrogatePredict returns one predicted mean per row of configs.
	SurrogatePredict(configs *frame.Frame) ([]float64, error)
}

// SpaceAdapter maps between the caller-visible space (OrigParameterSpace)
// and the strategy-visible space (TargetParameterSpace).
type SpaceAdapter interface {
	OrigParameterSpace() *space.Space
	TargetParameterSpace() *space.Space
	// Transform maps a batch from the target space to the original space.
	Transform(configs *frame.Frame) (*frame.Frame, error)
	// InverseTransform maps a batch from the original space to the target space.
	InverseTransform(configs *frame.Frame) (*frame.Frame, error)
}

// Environment is what a strategy is built against.
type Environment struct {
	// Space is the strategy-visible parameter space.
	Space   *space.Space
	Targets []string
	Weights []float64
	Logger  *zap.Logger
	// Warn surfaces soft failures such as ErrContextUnsupported.
	Warn func(err error)
}

// StrategyFactory builds a strategy for an environment.
type StrategyFactory func(env Environment) (Strategy, error)

// Config contains configuration for an Optimizer.
type Config struct {
	// ParameterSpace is the caller-visible space.
	ParameterSpace *space.Space

	// Targets are the performance columns to minimize, in priority order.
	Targets []string

	// Weights scalarize multiple targets; nil means all ones.
	Weights []float64

	// SpaceAdapter is optional.
	SpaceAdapter SpaceAdapter

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// OnWarning receives soft failures in addition to the log.
	OnWarning func(err error)
}

// Optimizer wraps a Strategy with input validation, history bookkeeping and
// space adapter composition. It is not safe for concurrent use; callers
// running trials in parallel must serialize calls.
type Optimizer struct {
	space         *space.Space
	strategySpace *space.Space
	targets       []string
	weights       []float64
	adapter       SpaceAdapter
	strategy      Strategy

	observations *Observations
	hasContext   *bool
	pending      []*Suggestion

	logger    *zap.Logger
	onWarning func(error)
	closed    bool
}

// New creates an optimizer and builds its strategy.
func New(cfg Config, newStrategy StrategyFactory) (*Optimizer, error) {
	const op = "New"

	if cfg.ParameterSpace == nil {
		return nil, Errorf(ErrConfigMismatch, "parameter space is required").WithOperation(op)
	}
	if len(cfg.Targets) == 0 {
		return nil, Errorf(ErrConfigMismatch, "at least one optimization target is required").WithOperation(op)
	}
	seen := make(map[string]bool, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if seen[t] {
			return nil, Errorf(ErrConfigMismatch, "duplicate optimization target %q", t).WithOperation(op)
		}
		seen[t] = true
	}

	weights := cfg.Weights
	if weights == nil {
		weights = make([]float64, len(cfg.Targets))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(cfg.Targets) {
		return nil, Errorf(ErrConfigMismatch, "%d objective weights for %d optimization targets",
			len(weights), len(cfg.Targets)).WithOperation(op)
	}

	strategySpace := cfg.ParameterSpace
	if cfg.SpaceAdapter != nil {
		if !cfg.SpaceAdapter.OrigParameterSpace().Equal(cfg.ParameterSpace) {
			return nil, Errorf(ErrConfigMismatch,
				"given parameter space differs from the one given to space adapter").WithOperation(op)
		}
		strategySpace = cfg.SpaceAdapter.TargetParameterSpace()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Optimizer{
		space:         cfg.ParameterSpace,
		strategySpace: strategySpace,
		targets:       slices.Clone(cfg.Targets),
		weights:       slices.Clone(weights),
		adapter:       cfg.SpaceAdapter,
		observations:  NewObservations(),
		logger:        logger.Named("optimizer"),
		onWarning:     cfg.OnWarning,
	}

	strategy, err := newStrategy(Environment{
		Space:   strategySpace,
		Targets: slices.Clone(o.targets),
		Weights: slices.Clone(o.weights),
		Logger:  o.logger,
		Warn:    o.warn,
	})
	if err != nil {
		return nil, WrapError(err, "build strategy")
	}
	o.strategy = strategy

	o.logger.Debug("Created optimizer",
		zap.Stringer("optimizer", o),
		zap.Strings("targets", o.targets),
		zap.Int("parameters", o.space.Len()),
		zap.Int("strategy_parameters", o.strategySpace.Len()),
	)
	return o, nil
}

// ParameterSpace returns the caller-visible space.
func (o *Optimizer) ParameterSpace() *space.Space { return o.space }

// StrategyParameterSpace returns the space the strategy searches.
func (o *Optimizer) StrategyParameterSpace() *space.Space { return o.strategySpace }

// Targets returns the optimization targets.
func (o *Optimizer) Targets() []string { return slices.Clone(o.targets) }

// Weights returns the objective weights.
func (o *Optimizer) Weights() []float64 { return slices.Clone(o.weights) }

// SpaceAdapter returns the adapter, or nil.
func (o *Optimizer) SpaceAdapter() SpaceAdapter { return o.adapter }

// Strategy returns the underlying strategy.
func (o *Optimizer) Strategy() Strategy { return o.strategy }

// String identifies the strategy and adapter.
func (o *Optimizer) String() string {
	adapter := "none"
	if o.adapter != nil {
		adapter = describe(o.adapter)
	}
	return fmt.Sprintf("%s(space_adapter=%s)", describe(o.strategy), adapter)
}

func describe(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", v)
}

// Suggest asks the strategy for a configuration and maps it into the
// caller-visible space.
func (o *Optimizer) Suggest(trialContext *frame.Frame) (*Suggestion, error) {
	const op = "Suggest"

	s, err := o.strategy.Suggest(trialContext)
	if err != nil {
		return nil, WrapError(err, op)
	}
	rows := 0
	if s != nil {
		rows = s.Config.Len()
	}
	if rows != 1 {
		return nil, Errorf(ErrShapeMismatch, "suggest must return a single configuration, got %d", rows).
			WithOperation(op)
	}
	if !s.Config.ColumnsSubsetOf(o.strategySpace.Names()) {
		return nil, Errorf(ErrShapeMismatch,
			"optimizer suggested columns %v outside the strategy parameter space %v",
			s.Config.Columns(), o.strategySpace.Names()).WithOperation(op)
	}

	config := s.Config
	if o.adapter != nil {
		config, err = o.adapter.Transform(config)
		if err != nil {
			return nil, WrapError(err, "space adapter transform")
		}
		if !config.ColumnsSubsetOf(o.space.Names()) {
			return nil, Errorf(ErrShapeMismatch,
				"space adapter produced columns %v outside the parameter space %v",
				config.Columns(), o.space.Names()).WithOperation(op)
		}
	}

	o.logger.Debug("Suggested configuration", zap.Any("config", config.Record(0)))
	return &Suggestion{Config: config, Context: s.Context, Metadata: s.Metadata}, nil
}

// SuggestDefaults returns the parameter space's default configuration in
// caller space without consulting or mutating the strategy. With an adapter,
// the default is mapped into the strategy space and back so that it is a
// point the strategy can represent.
func (o *Optimizer) SuggestDefaults(trialContext *frame.Frame) (*Suggestion, error) {
	config := o.space.Default()
	if o.adapter != nil {
		inner, err := o.adapter.InverseTransform(config)
		if err != nil {
			return nil, WrapError(err, "space adapter inverse transform")
		}
		config, err = o.adapter.Transform(inner)
		if err != nil {
			return nil, WrapError(err, "space adapter transform")
		}
	}
	return &Suggestion{Config: config, Context: trialContext}, nil
}

// Register validates an observation, hands it to the strategy (in strategy
// space) and records it in the history. A failed call leaves the optimizer
// unchanged.
func (o *Optimizer) Register(obs *Observation) error {
	const op = "Register"

	if obs == nil || obs.Config == nil || obs.Performance == nil {
		return Errorf(ErrRowCountMismatch, "observation needs a config and a performance frame").WithOperation(op)
	}
	if !obs.Performance.SameColumns(o.targets) {
		return Errorf(ErrTargetMismatch, "performance columns %v, optimization targets %v",
			obs.Performance.Columns(), o.targets).WithOperation(op)
	}
	hasContext := obs.Context != nil
	if o.hasContext != nil && *o.hasContext != hasContext {
		return Errorf(ErrContextConsistency, "context given=%t, previously given=%t",
			hasContext, *o.hasContext).WithOperation(op)
	}
	n := obs.Config.Len()
	if obs.Performance.Len() != n {
		return Errorf(ErrRowCountMismatch, "%d configurations and %d scores", n, obs.Performance.Len()).
			WithOperation(op)
	}
	if hasContext && obs.Context.Len() != n {
		return Errorf(ErrRowCountMismatch, "%d configurations and %d contexts", n, obs.Context.Len()).
			WithOperation(op)
	}
	if obs.Metadata != nil && obs.Metadata.Len() != n {
		return Errorf(ErrRowCountMismatch, "%d configurations and %d metadata rows", n, obs.Metadata.Len()).
			WithOperation(op)
	}
	if err := o.checkShape(obs.Config, o.space, op); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for _, t := range o.targets {
			if _, err := obs.Performance.Float(i, t); err != nil {
				return Errorf(ErrInvalidValue, "score row %d: %v", i, err).WithOperation(op)
			}
		}
	}

	inner := obs
	if o.adapter != nil {
		config, err := o.adapter.InverseTransform(obs.Config)
		if err != nil {
			return WrapError(err, "space adapter inverse transform")
		}
		if config.Width() != o.strategySpace.Len() {
			return Errorf(ErrShapeMismatch, "%d columns after inverse transform, strategy space has %d",
				config.Width(), o.strategySpace.Len()).WithOperation(op)
		}
		inner = &Observation{
			Config:      config,
			Performance: obs.Performance,
			Context:     obs.Context,
			Metadata:    obs.Metadata,
		}
	}

	if err := o.strategy.Register(inner); err != nil {
		return WrapError(err, op)
	}

	o.observations.Append(obs)
	o.hasContext = &hasContext
	o.reconcilePending(obs.Config)

	o.logger.Debug("Registered observation",
		zap.Int("rows", n),
		zap.Int("history", o.observations.Len()),
		zap.Int("pending", len(o.pending)),
	)
	return nil
}

// RegisterPending tells the strategy that a suggestion is being evaluated.
// Accepted suggestions stay in Pending until a registered observation
// carries the same configuration.
func (o *Optimizer) RegisterPending(pending *Suggestion) error {
	const op = "RegisterPending"

	if pending == nil || pending.Config == nil {
		return Errorf(ErrShapeMismatch, "pending suggestion has no configuration").WithOperation(op)
	}
	if err := o.checkShape(pending.Config, o.space, op); err != nil {
		return err
	}

	inner := pending
	if o.adapter != nil {
		config, err := o.adapter.InverseTransform(pending.Config)
		if err != nil {
			return WrapError(err, "space adapter inverse transform")
		}
		if config.Width() != o.strategySpace.Len() {
			return Errorf(ErrShapeMismatch, "%d columns after inverse transform, strategy space has %d",
				config.Width(), o.strategySpace.Len()).WithOperation(op)
		}
		inner = &Suggestion{Config: config, Context: pending.Context, Metadata: pending.Metadata}
	}

	if err := o.strategy.RegisterPending(inner); err != nil {
		return WrapError(err, op)
	}
	o.pending = append(o.pending, pending)
	return nil
}

// Pending returns the in-flight suggestions accepted by RegisterPending.
func (o *Optimizer) Pending() []*Suggestion {
	return slices.Clone(o.pending)
}

func (o *Optimizer) reconcilePending(configs *frame.Frame) {
	o.pending = slices.DeleteFunc(o.pending, func(s *Suggestion) bool {
		for i := 0; i < configs.Len(); i++ {
			for j := 0; j < s.Config.Len(); j++ {
				if frame.RowEqual(configs, i, s.Config, j) {
					return true
				}
			}
		}
		return false
	})
}

// GetObservations returns the full history.
func (o *Optimizer) GetObservations() (*Observations, error) {
	if o.observations.Len() == 0 {
		return nil, Errorf(ErrEmptyHistory, "observations requested").WithOperation("GetObservations")
	}
	return NewObservations(o.observations.items...), nil
}

// GetBestObservations returns the n best observations in ascending order of
// the optimization targets.
func (o *Optimizer) GetBestObservations(n int) (*Observations, error) {
	return o.observations.Best(n, o.targets)
}

// SurrogatePredict asks the strategy's model for predicted means.
// Adapters that change dimensionality cannot be inverted reliably, so
// prediction through them is not supported.
func (o *Optimizer) SurrogatePredict(configs *frame.Frame, trialContext *frame.Frame) ([]float64, error) {
	const op = "SurrogatePredict"

	surrogate, ok := o.strategy.(Surrogate)
	if !ok {
		return nil, Errorf(ErrNotSupported, "%s has no surrogate model", describe(o.strategy)).WithOperation(op)
	}
	if trialContext != nil {
		o.warn(Errorf(ErrContextUnsupported, "%v", trialContext.Columns()).WithOperation(op))
	}
	if err := o.checkShape(configs, o.space, op); err != nil {
		return nil, err
	}
	if o.adapter != nil {
		if o.strategySpace.Len() != o.space.Len() {
			return nil, Errorf(ErrNotSupported, "space adapter %s changes dimensionality", describe(o.adapter)).
				WithOperation(op)
		}
		var err error
		configs, err = o.adapter.InverseTransform(configs)
		if err != nil {
			return nil, WrapError(err, "space adapter inverse transform")
		}
	}
	return surrogate.SurrogatePredict(configs)
}

// Cleanup releases strategy resources. Calling it more than once is a no-op.
func (o *Optimizer) Cleanup() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if c, ok := o.strategy.(Cleaner); ok {
		return c.Cleanup()
	}
	return nil
}

func (o *Optimizer) checkShape(configs *frame.Frame, s *space.Space, op string) error {
	if configs.Width() != s.Len() {
		return Errorf(ErrShapeMismatch, "configuration has %d columns, parameter space has %d",
			configs.Width(), s.Len()).WithOperation(op)
	}
	if !configs.SameColumns(s.Names()) {
		return Errorf(ErrShapeMismatch, "configuration columns %v, parameter space %v",
			configs.Columns(), s.Names()).WithOperation(op)
	}
	return nil
}

func (o *Optimizer) warn(err error) {
	o.logger.Warn("Optimizer warning", zap.Error(err))
	if o.onWarning != nil {
		o.onWarning(err)
	}
}
