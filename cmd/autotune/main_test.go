package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sphereYAML = `
name: sphere-search
objective: sphere
iterations: 10
parallelism: 2
parameters:
  - {name: x, type: continuous, lower: -3, upper: 3}
  - {name: y, type: integer, lower: -4, upper: 4}
  - {name: cache, type: categorical, choices: [on, off]}
optimizer:
  type: random
  seed: 1
`

func writeExperiment(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestObjectivesCommand(t *testing.T) {
	out, err := execute(t, "objectives")
	require.NoError(t, err)
	assert.Equal(t, "branin\nforrester\nsphere\n", out)
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", writeExperiment(t, sphereYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "ok: RandomOptimizer(seed=1)")
	assert.Contains(t, out, "parameters: 3, targets: [score], iterations: 10, parallelism: 2")
}

func TestRunCommandJSON(t *testing.T) {
	out, err := execute(t, "run", "--json", writeExperiment(t, sphereYAML))
	require.NoError(t, err)

	var rep report
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	assert.Equal(t, "sphere-search", rep.Experiment)
	assert.Equal(t, 10, rep.Trials)
	assert.Equal(t, 0, rep.Failed)
	require.Contains(t, rep.BestScores, "score")
	assert.GreaterOrEqual(t, rep.BestScores["score"], 0.0)
	assert.Len(t, rep.BestConfig, 3)

	x := rep.BestConfig["x"].(float64)
	y := rep.BestConfig["y"].(float64)
	assert.InDelta(t, x*x+y*y, rep.BestScores["score"], 1e-9)
}

func TestRunCommandOverrides(t *testing.T) {
	out, err := execute(t, "run",
		"--optimizer", "bayesian",
		"--iterations", "6",
		"--parallelism", "1",
		"--seed", "7",
		"--progress",
		writeExperiment(t, sphereYAML),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "optimizer:  BayesianOptimizer(kernel=matern52, acquisition=ei)")
	assert.Contains(t, out, "trial 6: score=")
	assert.NotContains(t, out, "trial 7")
	assert.Contains(t, out, "trials:     6 (0 failed)")
	assert.Contains(t, out, "best score: ")
	assert.Contains(t, out, "best config:")
}

func TestRunCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		args []string
		want string
	}{
		{
			name: "unknown objective",
			doc:  strings.Replace(sphereYAML, "objective: sphere", "objective: rosenbrock", 1),
			want: "unknown objective",
		},
		{
			name: "no objective",
			doc:  strings.Replace(sphereYAML, "objective: sphere\n", "", 1),
			want: "names no objective",
		},
		{
			name: "several targets",
			doc:  sphereYAML + "targets: [latency, cost]\n",
			want: "single target",
		},
		{
			name: "unknown optimizer flag",
			doc:  sphereYAML,
			args: []string{"--optimizer", "annealing"},
			want: "annealing",
		},
		{
			name: "unknown key",
			doc:  sphereYAML + "budget: 3\n",
			want: "budget",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run"}, tt.args...)
			args = append(args, writeExperiment(t, tt.doc))
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "run")
	assert.Error(t, err)
}
