package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/autotune/internal/config"
	"github.com/copyleftdev/autotune/internal/metrics"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/factory"
	"github.com/copyleftdev/autotune/internal/tuning"
)

type runFlags struct {
	seed        int64
	iterations  int
	parallelism int
	optimizer   string
	adapter     string
	jsonOutput  bool
	progress    bool
}

func newRunCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <experiment.yaml>",
		Short: "Run a tuning experiment",
		Long: `Loads an experiment, runs its trial loop against the named builtin
objective and prints the best configuration found.

` + factory.Describe(),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := config.LoadExperiment(args[0])
			if err != nil {
				return err
			}
			f.apply(cmd, e)
			return runExperiment(cmd, g, e, f)
		},
	}
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Random seed, overrides the experiment")
	cmd.Flags().IntVar(&f.iterations, "iterations", 0, "Number of trials, overrides the experiment")
	cmd.Flags().IntVar(&f.parallelism, "parallelism", 0, "Trials evaluated at once, overrides the experiment")
	cmd.Flags().StringVar(&f.optimizer, "optimizer", "", "Optimizer type, overrides the experiment")
	cmd.Flags().StringVar(&f.adapter, "adapter", "", "Space adapter type, overrides the experiment")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "Print every completed trial")
	return cmd
}

// apply copies explicitly set flags over the experiment.
func (f *runFlags) apply(cmd *cobra.Command, e *config.Experiment) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		e.Optimizer.Seed = f.seed
	}
	if flags.Changed("iterations") {
		e.Iterations = f.iterations
	}
	if flags.Changed("parallelism") {
		e.Parallelism = f.parallelism
	}
	if flags.Changed("optimizer") {
		e.Optimizer.Type = f.optimizer
	}
	if flags.Changed("adapter") {
		e.Adapter.Type = f.adapter
	}
}

// report is the printed outcome of a run.
type report struct {
	Experiment string             `json:"experiment,omitempty"`
	Objective  string             `json:"objective"`
	Optimizer  string             `json:"optimizer"`
	Trials     int                `json:"trials"`
	Failed     int                `json:"failed"`
	Elapsed    string             `json:"elapsed"`
	BestConfig map[string]any     `json:"best_config,omitempty"`
	BestScores map[string]float64 `json:"best_scores,omitempty"`
}

func runExperiment(cmd *cobra.Command, g *globals, e *config.Experiment, f *runFlags) error {
	if err := checkObjective(e); err != nil {
		return err
	}
	objective, err := tuning.Builtin(e.Objective, e.Targets[0])
	if err != nil {
		return err
	}
	timeout, err := e.Timeout()
	if err != nil {
		return err
	}

	opt, err := g.buildOptimizer(e)
	if err != nil {
		return err
	}
	defer func() { _ = opt.Cleanup() }()

	parallelism := e.Parallelism
	if workers := g.cfg.Optimization.WorkerCount; parallelism > workers {
		g.logger.Info("Parallelism capped by worker count", map[string]interface{}{
			"parallelism":  parallelism,
			"worker_count": workers,
		})
		parallelism = workers
	}

	out := cmd.OutOrStdout()
	runCfg := tuning.Config{
		Iterations:   e.Iterations,
		Parallelism:  parallelism,
		TrialTimeout: timeout,
		Logger:       g.zapLogger(),
		Metrics:      metrics.New(nil),
	}
	if f.progress {
		runCfg.OnTrial = func(t tuning.Trial) { printTrial(out, t) }
	}
	runner, err := tuning.NewRunner(opt, objective, runCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res, runErr := runner.Run(ctx)
	rep := newReport(e, opt, res)
	if f.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		printReport(out, rep)
	}
	// An interrupt ends the run early with the partial result printed.
	interrupted := ctx.Err() != nil && cmd.Context().Err() == nil
	if runErr != nil && !interrupted {
		return runErr
	}
	return nil
}

// checkObjective rejects experiments a builtin objective cannot score.
func checkObjective(e *config.Experiment) error {
	if e.Objective == "" {
		return optimization.Errorf(optimization.ErrConfigMismatch, "experiment names no objective, want one of %v",
			tuning.Builtins())
	}
	if len(e.Targets) != 1 {
		return optimization.Errorf(optimization.ErrTargetMismatch,
			"builtin objectives report a single target, experiment has %v", e.Targets)
	}
	return nil
}

func newReport(e *config.Experiment, opt *optimization.Optimizer, res *tuning.Result) report {
	rep := report{
		Experiment: e.Name,
		Objective:  e.Objective,
		Optimizer:  opt.String(),
	}
	if res == nil {
		return rep
	}
	rep.Trials, rep.Failed = res.Trials, res.Failed
	rep.Elapsed = res.Elapsed.Round(time.Millisecond).String()
	if res.Best != nil {
		rep.BestConfig = res.Best.Config.Record(0)
		rep.BestScores = make(map[string]float64)
		for _, t := range opt.Targets() {
			if v, err := res.Best.Performance.Float(0, t); err == nil {
				rep.BestScores[t] = v
			}
		}
	}
	return rep
}

func printReport(w io.Writer, rep report) {
	if rep.Experiment != "" {
		fmt.Fprintf(w, "experiment: %s\n", rep.Experiment)
	}
	fmt.Fprintf(w, "objective:  %s\n", rep.Objective)
	fmt.Fprintf(w, "optimizer:  %s\n", rep.Optimizer)
	fmt.Fprintf(w, "trials:     %d (%d failed) in %s\n", rep.Trials, rep.Failed, rep.Elapsed)
	if rep.BestConfig == nil {
		fmt.Fprintln(w, "no successful trials")
		return
	}
	for _, k := range sortedKeys(rep.BestScores) {
		fmt.Fprintf(w, "best %s: %.6g\n", k, rep.BestScores[k])
	}
	fmt.Fprintln(w, "best config:")
	for _, k := range sortedKeys(rep.BestConfig) {
		fmt.Fprintf(w, "  %s = %v\n", k, rep.BestConfig[k])
	}
}

func printTrial(w io.Writer, t tuning.Trial) {
	if t.Err != nil {
		fmt.Fprintf(w, "trial %d failed: %v\n", t.Number, t.Err)
		return
	}
	fmt.Fprintf(w, "trial %d:", t.Number)
	for _, k := range sortedKeys(t.Scores) {
		fmt.Fprintf(w, " %s=%.6g", k, t.Scores[k])
	}
	fmt.Fprintln(w)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
