// Package config loads the service configuration from the environment and
// experiment definitions from YAML files.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/autotune/internal/logging"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/factory"
)

// Config is the process configuration. Optimization.WorkerCount caps how
// many trials a local run evaluates at once.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	}
	Logging      logging.Config
	Optimization struct {
		DefaultType string `env:"OPT_DEFAULT_TYPE" envDefault:"bayesian"`
		RandomSeed  int64  `env:"OPT_RANDOM_SEED" envDefault:"0"`
		MaxSessions int    `env:"OPT_MAX_SESSIONS" envDefault:"100"`
		WorkerCount int    `env:"OPT_WORKER_COUNT" envDefault:"4"`
	}
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads the configuration from the given variables instead of the
// process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}

	// Default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return optimization.Errorf(optimization.ErrConfigMismatch, "HTTP_PORT %d out of range", c.HTTP.Port).
			WithComponent("config")
	}
	if c.Optimization.MaxSessions < 1 {
		return optimization.Errorf(optimization.ErrConfigMismatch, "OPT_MAX_SESSIONS must be positive, got %d",
			c.Optimization.MaxSessions).WithComponent("config")
	}
	if c.Optimization.WorkerCount < 1 {
		return optimization.Errorf(optimization.ErrConfigMismatch, "OPT_WORKER_COUNT must be positive, got %d",
			c.Optimization.WorkerCount).WithComponent("config")
	}
	if _, err := factory.ParseOptimizerType(c.Optimization.DefaultType); err != nil {
		return err
	}
	return nil
}
