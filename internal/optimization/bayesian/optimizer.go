package bayesian

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/acquisition"
	"github.com/copyleftdev/autotune/internal/optimization/kernels"
	"github.com/copyleftdev/autotune/internal/space"
)

// Metadata columns attached to every suggestion.
const (
	MetadataPhase        = "phase"
	MetadataAcquisition  = "acquisition"
	MetadataModelVersion = "model_version"

	PhaseInitial = "initial"
	PhaseModel   = "model"
)

// MetadataColumns lists the metadata columns in order.
var MetadataColumns = []string{MetadataPhase, MetadataAcquisition, MetadataModelVersion}

// DefaultLengthScales is the grid searched by marginal likelihood on every
// fit. Features live in [0, 1].
var DefaultLengthScales = []float64{0.05, 0.1, 0.2, 0.5, 1, 2}

// Config contains configuration for the Bayesian strategy.
type Config struct {
	// NInitialPoints is the size of the Latin hypercube design evaluated
	// before the model is used.
	NInitialPoints int
	// NCandidates is the number of random candidates scored per suggestion.
	NCandidates int
	// Kernel is "matern52" (default) or "rbf".
	Kernel string
	// LengthScales is the length scale grid; nil means DefaultLengthScales.
	LengthScales []float64
	// NoiseVar is the observation noise variance of standardized targets.
	NoiseVar float64
	// Acquisition is "ei" (default) or "ucb".
	Acquisition string
	// AcquisitionParam is xi for EI and kappa for UCB; zero means default.
	AcquisitionParam float64
	// DisableRefinement skips Nelder-Mead polishing of numeric coordinates.
	DisableRefinement bool
	// RandomSeed seeds candidate sampling. Zero seeds from the clock.
	RandomSeed int64
}

func (c Config) withDefaults() Config {
	if c.NInitialPoints < 1 {
		c.NInitialPoints = 10
	}
	if c.NCandidates < 1 {
		c.NCandidates = 512
	}
	if c.Kernel == "" {
		c.Kernel = kernels.NameMatern52
	}
	if len(c.LengthScales) == 0 {
		c.LengthScales = DefaultLengthScales
	}
	if c.NoiseVar <= 0 {
		c.NoiseVar = 1e-6
	}
	if c.Acquisition == "" {
		c.Acquisition = acquisition.NameEI
	}
	return c
}

// BayesianOptimizer implements Bayesian Optimization
type BayesianOptimizer struct {
	cfg     Config
	env     optimization.Environment
	enc     *encoder
	kernel  kernels.Kernel
	gp      *GP
	acq     acquisition.Function
	rng     *rand.Rand
	logger  *zap.Logger
	warn    func(error)
	weights []float64

	// Observed feature rows and their scalarized targets.
	X [][]float64
	y []float64
	// In-flight feature rows, imputed at the incumbent on fit.
	pending [][]float64

	design       [][]float64
	suggested    int
	modelVersion int64
	// dataVersion counts changes to X, y and pending; fittedVersion is its
	// value at the last fit.
	dataVersion   int64
	fittedVersion int64
	yMean, yStd  float64
}

// NewBayesianOptimizer creates a new Bayesian strategy over env.Space.
func NewBayesianOptimizer(env optimization.Environment, cfg Config) (*BayesianOptimizer, error) {
	const op = "NewBayesianOptimizer"

	if env.Space == nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "parameter space is required").
			WithOperation(op).WithComponent("bayesian")
	}
	weights := env.Weights
	if weights == nil {
		weights = make([]float64, len(env.Targets))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(env.Targets) {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "%d weights for %d targets",
			len(weights), len(env.Targets)).WithOperation(op).WithComponent("bayesian")
	}

	cfg = cfg.withDefaults()
	for _, ls := range cfg.LengthScales {
		if !(ls > 0) {
			return nil, optimization.Errorf(optimization.ErrConfigMismatch, "length scale %v must be positive", ls).
				WithOperation(op).WithComponent("bayesian")
		}
	}
	kernel, err := kernels.New(cfg.Kernel, cfg.LengthScales[0], 1.0)
	if err != nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "%v", err).
			WithOperation(op).WithComponent("bayesian")
	}
	acq, err := acquisition.New(cfg.Acquisition, cfg.AcquisitionParam)
	if err != nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "%v", err).
			WithOperation(op).WithComponent("bayesian")
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("bayesian")
	warn := env.Warn
	if warn == nil {
		warn = func(error) {}
	}

	return &BayesianOptimizer{
		cfg:     cfg,
		env:     env,
		enc:     newEncoder(env.Space),
		kernel:  kernel,
		gp:      NewGP(kernel, cfg.NoiseVar, logger),
		acq:     acq,
		rng:     rand.New(rand.NewSource(seed)),
		logger:  logger,
		warn:    warn,
		weights: weights,
		yStd:    1,
	}, nil
}

// Factory returns a strategy factory for the base optimizer.
func Factory(cfg Config) optimization.StrategyFactory {
	return func(env optimization.Environment) (optimization.Strategy, error) {
		return NewBayesianOptimizer(env, cfg)
	}
}

// Config returns the effective configuration.
func (bo *BayesianOptimizer) Config() Config { return bo.cfg }

// ModelVersion returns the number of model fits so far.
func (bo *BayesianOptimizer) ModelVersion() int64 { return bo.modelVersion }

// NumObservations returns the number of registered configurations.
func (bo *BayesianOptimizer) NumObservations() int { return len(bo.y) }

// NumPending returns the number of in-flight configurations.
func (bo *BayesianOptimizer) NumPending() int { return len(bo.pending) }

func (bo *BayesianOptimizer) String() string {
	return fmt.Sprintf("BayesianOptimizer(kernel=%s, acquisition=%s)", bo.kernel.Name(), bo.acq.Name())
}

// Suggest proposes the next configuration. The first NInitialPoints
// registrations come from a Latin hypercube design; after that the GP is
// refitted and the acquisition function maximized.
func (bo *BayesianOptimizer) Suggest(trialContext *frame.Frame) (*optimization.Suggestion, error) {
	const op = "Suggest"

	if trialContext != nil {
		bo.warn(optimization.Errorf(optimization.ErrContextUnsupported, "%v", trialContext.Columns()).
			WithOperation(op).WithComponent("bayesian"))
	}

	var (
		row   []float64
		score float64
		phase = PhaseInitial
	)
	if len(bo.y) < bo.cfg.NInitialPoints {
		row = bo.nextInitial()
	} else {
		if err := bo.fit(); err != nil {
			return nil, optimization.WrapError(err, "bayesian: "+op)
		}
		var err error
		row, score, err = bo.maximizeAcquisition()
		if err != nil {
			return nil, optimization.WrapError(err, "bayesian: "+op)
		}
		phase = PhaseModel
	}

	config, err := bo.enc.decode(row)
	if err != nil {
		return nil, optimization.WrapError(err, "bayesian: "+op)
	}
	bo.suggested++

	bo.logger.Debug("Suggested configuration",
		zap.String("phase", phase),
		zap.Float64("acquisition", score),
		zap.Int64("model_version", bo.modelVersion),
	)
	return &optimization.Suggestion{
		Config:  config,
		Context: trialContext,
		Metadata: frame.Single(MetadataColumns, map[string]any{
			MetadataPhase:        phase,
			MetadataAcquisition:  score,
			MetadataModelVersion: bo.modelVersion,
		}),
	}, nil
}

func (bo *BayesianOptimizer) nextInitial() []float64 {
	if bo.design == nil {
		bo.design = bo.enc.latinHypercube(bo.cfg.NInitialPoints, bo.rng)
	}
	if bo.suggested < len(bo.design) {
		return bo.design[bo.suggested]
	}
	return bo.enc.sample(bo.rng)
}

// Register adds scored configurations to the training set. Metadata is the
// strategy's own and is not interpreted.
func (bo *BayesianOptimizer) Register(obs *optimization.Observation) error {
	const op = "Register"

	if obs.Context != nil {
		bo.warn(optimization.Errorf(optimization.ErrContextUnsupported, "%v", obs.Context.Columns()).
			WithOperation(op).WithComponent("bayesian"))
	}
	rows, err := bo.enc.encode(obs.Config)
	if err != nil {
		return optimization.WrapError(err, "bayesian: "+op)
	}
	ys := make([]float64, len(rows))
	for i := range rows {
		for j, target := range bo.env.Targets {
			v, err := obs.Performance.Float(i, target)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return optimization.Errorf(optimization.ErrInvalidValue, "row %d target %s: %v", i, target, v).
					WithOperation(op).WithComponent("bayesian")
			}
			ys[i] += bo.weights[j] * v
		}
	}

	for i, row := range rows {
		bo.X = append(bo.X, row)
		bo.y = append(bo.y, ys[i])
		bo.dropPending(row)
	}
	bo.dataVersion++
	bo.logger.Debug("Registered observations",
		zap.Int("rows", len(rows)),
		zap.Int("history", len(bo.y)),
		zap.Int("pending", len(bo.pending)),
	)
	return nil
}

// RegisterPending records in-flight configurations so the next model
// suggestion steers away from them.
func (bo *BayesianOptimizer) RegisterPending(pending *optimization.Suggestion) error {
	if pending.Context != nil {
		bo.warn(optimization.Errorf(optimization.ErrContextUnsupported, "%v", pending.Context.Columns()).
			WithOperation("RegisterPending").WithComponent("bayesian"))
	}
	rows, err := bo.enc.encode(pending.Config)
	if err != nil {
		return optimization.WrapError(err, "bayesian: RegisterPending")
	}
	bo.pending = append(bo.pending, rows...)
	bo.dataVersion++
	return nil
}

func (bo *BayesianOptimizer) dropPending(row []float64) {
	for k, p := range bo.pending {
		if sameRow(p, row) {
			bo.pending = append(bo.pending[:k], bo.pending[k+1:]...)
			return
		}
	}
}

func sameRow(a, b []float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

// SurrogatePredict returns the model's predicted scalarized target for
// each configuration.
func (bo *BayesianOptimizer) SurrogatePredict(configs *frame.Frame) ([]float64, error) {
	const op = "SurrogatePredict"

	if len(bo.y) == 0 {
		return nil, optimization.Errorf(optimization.ErrEmptyHistory, "no observations to fit").
			WithOperation(op).WithComponent("bayesian")
	}
	if !bo.gp.Fitted() || bo.fittedVersion != bo.dataVersion {
		if err := bo.fit(); err != nil {
			return nil, optimization.WrapError(err, "bayesian: "+op)
		}
	}
	rows, err := bo.enc.encode(configs)
	if err != nil {
		return nil, optimization.WrapError(err, "bayesian: "+op)
	}
	mean, _, err := bo.gp.Predict(toDense(rows))
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = mean.AtVec(i)*bo.yStd + bo.yMean
	}
	return out, nil
}

// Cleanup drops the training data and the model.
func (bo *BayesianOptimizer) Cleanup() error {
	bo.X, bo.y, bo.pending = nil, nil, nil
	bo.gp = NewGP(bo.kernel, bo.cfg.NoiseVar, bo.logger)
	bo.dataVersion, bo.fittedVersion = 0, 0
	return nil
}

// fit standardizes the targets, imputes pending points at the incumbent and
// refits the GP, picking the length scale with the highest marginal
// likelihood.
func (bo *BayesianOptimizer) fit() error {
	n := len(bo.y)
	incumbent := math.Inf(1)
	for _, v := range bo.y {
		incumbent = math.Min(incumbent, v)
	}

	rows := make([][]float64, 0, n+len(bo.pending))
	rows = append(rows, bo.X...)
	rows = append(rows, bo.pending...)
	ys := make([]float64, 0, len(rows))
	ys = append(ys, bo.y...)
	for range bo.pending {
		ys = append(ys, incumbent)
	}

	bo.yMean, bo.yStd = meanStd(ys)
	yv := mat.NewVecDense(len(ys), nil)
	for i, v := range ys {
		yv.SetVec(i, (v-bo.yMean)/bo.yStd)
	}
	X := toDense(rows)

	bestLML := math.Inf(-1)
	bestScale := 0.0
	var lastErr error
	for _, ls := range bo.cfg.LengthScales {
		if err := bo.kernel.SetHyperparameters([]float64{ls, 1.0}); err != nil {
			return err
		}
		if err := bo.gp.Fit(X, yv); err != nil {
			lastErr = err
			continue
		}
		lml, err := bo.gp.LogMarginalLikelihood()
		if err != nil || math.IsNaN(lml) {
			continue
		}
		if lml > bestLML {
			bestLML, bestScale = lml, ls
		}
	}
	if bestScale == 0 {
		if lastErr == nil {
			lastErr = optimization.Errorf(optimization.ErrInvalidValue, "no length scale produced a finite likelihood")
		}
		return lastErr
	}
	if bestScale != bo.cfg.LengthScales[len(bo.cfg.LengthScales)-1] {
		if err := bo.kernel.SetHyperparameters([]float64{bestScale, 1.0}); err != nil {
			return err
		}
		if err := bo.gp.Fit(X, yv); err != nil {
			return err
		}
	}

	bo.acq.UpdateBest((incumbent - bo.yMean) / bo.yStd)
	bo.modelVersion++
	bo.fittedVersion = bo.dataVersion

	bo.logger.Debug("Fitted surrogate",
		zap.Int("observations", n),
		zap.Int("pending", len(bo.pending)),
		zap.Float64("length_scale", bestScale),
		zap.Float64("log_marginal_likelihood", bestLML),
		zap.Int64("model_version", bo.modelVersion),
	)
	return nil
}

// maximizeAcquisition scores random candidates plus perturbations of the
// incumbent and polishes the winner's numeric coordinates with Nelder-Mead.
func (bo *BayesianOptimizer) maximizeAcquisition() ([]float64, float64, error) {
	nLocal := bo.cfg.NCandidates / 4
	candidates := make([][]float64, 0, bo.cfg.NCandidates+nLocal)
	for i := 0; i < bo.cfg.NCandidates; i++ {
		candidates = append(candidates, bo.enc.sample(bo.rng))
	}
	if best := bo.incumbentRow(); best != nil {
		for i := 0; i < nLocal; i++ {
			c := append([]float64(nil), best...)
			for _, j := range bo.enc.numeric {
				c[j] = space.Clamp(c[j]+0.1*bo.rng.NormFloat64(), 0, 1)
			}
			candidates = append(candidates, c)
		}
	}

	scores, err := bo.score(toDense(candidates))
	if err != nil {
		return nil, 0, err
	}
	bestIdx := 0
	for i, s := range scores {
		if s > scores[bestIdx] {
			bestIdx = i
		}
	}
	bestRow, bestScore := candidates[bestIdx], scores[bestIdx]

	if !bo.cfg.DisableRefinement && len(bo.enc.numeric) > 0 {
		if row, s, ok := bo.refine(bestRow); ok && s > bestScore {
			bestRow, bestScore = row, s
		}
	}
	return bestRow, bestScore, nil
}

func (bo *BayesianOptimizer) score(X *mat.Dense) ([]float64, error) {
	mean, variance, err := bo.gp.Predict(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, mean.Len())
	for i := range out {
		out[i] = bo.acq.Compute(mean.AtVec(i), math.Sqrt(variance.AtVec(i)))
	}
	return out, nil
}

func (bo *BayesianOptimizer) refine(start []float64) ([]float64, float64, bool) {
	numeric := bo.enc.numeric
	row := append([]float64(nil), start...)
	x0 := make([]float64, len(numeric))
	for i, j := range numeric {
		x0[i] = row[j]
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			for i, j := range numeric {
				row[j] = space.Clamp(x[i], 0, 1)
			}
			s, err := bo.score(mat.NewDense(1, len(row), row))
			if err != nil {
				return math.Inf(1)
			}
			return -s[0]
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 200,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 100,
		},
	}
	method := &optimize.NelderMead{SimplexSize: 0.05}

	result, err := optimize.Minimize(problem, x0, settings, method)
	if result == nil || math.IsInf(result.F, 0) {
		if err != nil {
			bo.logger.Debug("Acquisition refinement failed", zap.Error(err))
		}
		return nil, 0, false
	}
	out := append([]float64(nil), start...)
	for i, j := range numeric {
		out[j] = space.Clamp(result.X[i], 0, 1)
	}
	return out, -result.F, true
}

func (bo *BayesianOptimizer) incumbentRow() []float64 {
	if len(bo.y) == 0 {
		return nil
	}
	best := 0
	for i, v := range bo.y {
		if v < bo.y[best] {
			best = i
		}
	}
	return bo.X[best]
}

func meanStd(ys []float64) (float64, float64) {
	mean, std := stat.MeanStdDev(ys, nil)
	if len(ys) < 2 || math.IsNaN(std) || std < 1e-12 {
		std = 1
	}
	return mean, std
}

func toDense(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, r := range rows {
		m.SetRow(i, r)
	}
	return m
}
