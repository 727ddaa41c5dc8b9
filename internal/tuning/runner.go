// Package tuning drives an optimizer through a trial loop, evaluating
// batches of suggestions in parallel.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/metrics"
	"github.com/copyleftdev/autotune/internal/optimization"
)

// Config contains configuration for a Runner.
type Config struct {
	// Iterations is the number of trials to run.
	Iterations int
	// Parallelism bounds the trials evaluated at once.
	Parallelism int
	// TrialTimeout bounds each objective call. Zero means no limit.
	TrialTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// OnTrial, if set, is called from the coordinating goroutine after each
	// completed trial.
	OnTrial func(Trial)
}

// Trial is the outcome of one evaluation.
type Trial struct {
	Number   int
	Config   map[string]any
	Scores   map[string]float64
	Err      error
	Duration time.Duration
}

// Result summarizes a run.
type Result struct {
	Trials  int
	Failed  int
	Best    *optimization.Observation
	Elapsed time.Duration
}

// Runner owns an optimizer for the duration of Run. The optimizer is only
// called from the goroutine running Run.
type Runner struct {
	opt       *optimization.Optimizer
	objective Objective
	cfg       Config
	logger    *zap.Logger
}

// NewRunner validates cfg and creates a runner.
func NewRunner(opt *optimization.Optimizer, objective Objective, cfg Config) (*Runner, error) {
	if opt == nil || objective == nil {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "optimizer and objective are required").
			WithOperation("NewRunner").WithComponent("tuning")
	}
	if cfg.Iterations < 1 {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "iterations must be positive, got %d",
			cfg.Iterations).WithOperation("NewRunner").WithComponent("tuning")
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opt: opt, objective: objective, cfg: cfg, logger: logger.Named("tuning")}, nil
}

// Run executes the trial loop until Iterations trials have finished or ctx
// is done. Each round suggests up to Parallelism configurations, marks them
// pending when the strategy supports it, evaluates them concurrently and
// registers the successful ones in suggestion order.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}
	pendingSupported := true

	r.logger.Info("Starting trial loop", zap.String("plan", r.describe()), zap.Stringer("optimizer", r.opt))

	for res.Trials < r.cfg.Iterations {
		if err := ctx.Err(); err != nil {
			return r.finish(res, start), err
		}

		batch := min(r.cfg.Parallelism, r.cfg.Iterations-res.Trials)
		suggestions := make([]*optimization.Suggestion, 0, batch)
		for i := 0; i < batch; i++ {
			s, err := r.opt.Suggest(nil)
			if err != nil {
				return r.finish(res, start), err
			}
			suggestions = append(suggestions, s)
			if batch > 1 && pendingSupported {
				if err := r.opt.RegisterPending(s); err != nil {
					if !errors.Is(err, optimization.ErrNotSupported) {
						return r.finish(res, start), err
					}
					pendingSupported = false
					r.logger.Debug("Strategy does not track pending trials", zap.Error(err))
				}
			}
		}

		trials := make([]Trial, len(suggestions))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Parallelism)
		for i, s := range suggestions {
			i := i
			trials[i] = Trial{Number: res.Trials + i + 1, Config: s.Config.Record(0)}
			g.Go(func() error {
				r.evaluate(gctx, &trials[i])
				// A failed objective fails the trial, not the run.
				return nil
			})
		}
		_ = g.Wait()

		for i, t := range trials {
			res.Trials++
			if t.Err == nil {
				t.Err = r.register(suggestions[i], t.Scores)
			}
			if t.Err != nil {
				if ctx.Err() != nil {
					return r.finish(res, start), ctx.Err()
				}
				res.Failed++
				r.logger.Warn("Trial failed", zap.Int("trial", t.Number), zap.Error(t.Err))
			} else {
				r.logger.Debug("Trial completed",
					zap.Int("trial", t.Number),
					zap.Any("config", t.Config),
					zap.Any("scores", t.Scores),
					zap.Duration("duration", t.Duration),
				)
			}
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordTrial(t.Err == nil, t.Duration)
			}
			if r.cfg.OnTrial != nil {
				r.cfg.OnTrial(t)
			}
		}
	}
	return r.finish(res, start), nil
}

func (r *Runner) evaluate(ctx context.Context, t *Trial) {
	if r.cfg.TrialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TrialTimeout)
		defer cancel()
	}
	start := time.Now()
	t.Scores, t.Err = r.objective(ctx, t.Config)
	t.Duration = time.Since(start)
}

func (r *Runner) describe() string {
	return fmt.Sprintf("%d iterations, parallelism %d", r.cfg.Iterations, r.cfg.Parallelism)
}

func (r *Runner) register(s *optimization.Suggestion, scores map[string]float64) error {
	targets := r.opt.Targets()
	record := make(map[string]any, len(targets))
	for _, t := range targets {
		v, ok := scores[t]
		if !ok {
			return optimization.Errorf(optimization.ErrTargetMismatch, "objective did not report target %q", t).
				WithOperation("Run").WithComponent("tuning")
		}
		record[t] = v
	}
	return r.opt.Register(s.Complete(frame.Single(targets, record)))
}

func (r *Runner) finish(res *Result, start time.Time) *Result {
	res.Elapsed = time.Since(start)
	if best, err := r.opt.GetBestObservations(1); err == nil && best.Len() > 0 {
		res.Best = best.Items()[0]
		if r.cfg.Metrics != nil {
			if v, err := res.Best.Performance.Float(0, r.opt.Targets()[0]); err == nil {
				r.cfg.Metrics.SetBestScore(v)
			}
		}
	}
	r.logger.Info("Trial loop finished",
		zap.Int("trials", res.Trials),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}
