package tuning

import (
	"context"
	"math"
	"sort"

	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/optimization"
)

// Objective evaluates one configuration and returns a value per target.
type Objective func(ctx context.Context, config map[string]any) (map[string]float64, error)

// scalar adapts a function of the configuration into an Objective
// reporting a single target.
func scalar(target string, f func(config map[string]any) (float64, error)) Objective {
	return func(ctx context.Context, config map[string]any) (map[string]float64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := f(config)
		if err != nil {
			return nil, err
		}
		return map[string]float64{target: v}, nil
	}
}

func number(config map[string]any, name string) (float64, error) {
	v, ok := config[name]
	if !ok {
		return 0, optimization.Errorf(optimization.ErrShapeMismatch, "objective needs parameter %q", name).
			WithComponent("tuning")
	}
	x, ok := frame.AsFloat(v)
	if !ok {
		return 0, optimization.Errorf(optimization.ErrInvalidValue, "parameter %q is %T, want a number", name, v).
			WithComponent("tuning")
	}
	return x, nil
}

// Sphere is the sum of squares of every numeric parameter. Categorical
// parameters are ignored. Minimum 0 at the origin.
func Sphere(config map[string]any) (float64, error) {
	sum := 0.0
	for _, v := range config {
		if x, ok := frame.AsFloat(v); ok {
			sum += x * x
		}
	}
	return sum, nil
}

// Forrester is the one dimensional test function
// (6x - 2)^2 sin(12x - 4) on x in [0, 1], minimum about -6.0207 at x = 0.7572.
func Forrester(config map[string]any) (float64, error) {
	x, err := number(config, "x")
	if err != nil {
		return 0, err
	}
	return (6*x - 2) * (6*x - 2) * math.Sin(12*x-4), nil
}

// Branin is the two dimensional test function on x1 in [-5, 10], x2 in
// [0, 15] with three global minima of about 0.397887.
func Branin(config map[string]any) (float64, error) {
	x1, err := number(config, "x1")
	if err != nil {
		return 0, err
	}
	x2, err := number(config, "x2")
	if err != nil {
		return 0, err
	}
	const (
		a = 1.0
		r = 6.0
		s = 10.0
	)
	b := 5.1 / (4 * math.Pi * math.Pi)
	c := 5 / math.Pi
	t := 1 / (8 * math.Pi)
	return a*math.Pow(x2-b*x1*x1+c*x1-r, 2) + s*(1-t)*math.Cos(x1) + s, nil
}

var builtins = map[string]func(map[string]any) (float64, error){
	"sphere":    Sphere,
	"forrester": Forrester,
	"branin":    Branin,
}

// Builtins lists the names accepted by Builtin.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the named test function reporting its value as target.
func Builtin(name, target string) (Objective, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, optimization.Errorf(optimization.ErrConfigMismatch, "unknown objective %q, want one of %v",
			name, Builtins()).WithComponent("tuning")
	}
	return scalar(target, f), nil
}
