package logging

import (
	"io"
	"os"
	"strings"
)

// Config selects the level, format and destination of a Logger. It is
// embedded in the service configuration and read from LOG_* variables.
type Config struct {
	// Level is the minimum level (debug, info, warn, error, fatal). Empty
	// means info.
	Level string `env:"LOG_LEVEL" yaml:"level"`
	// Format is json or text.
	Format string `env:"LOG_FORMAT" envDefault:"json" yaml:"format"`
	// Output is stderr, stdout, discard or a file path opened for append.
	Output string `env:"LOG_OUTPUT" envDefault:"stderr" yaml:"output"`
}

// NewLogger creates a logger from cfg. A nil cfg logs info and above as JSON
// to stderr.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewWithFormat(ParseLevel(cfg.Level), output, Format(strings.ToLower(cfg.Format))), nil
}

// ParseLevel converts a level name to LogLevel, ignoring case. Unknown
// names map to InfoLevel.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard":
		return io.Discard, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
