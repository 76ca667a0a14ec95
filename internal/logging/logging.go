package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Caller bool   `mapstructure:"caller"`
}

// New builds the root logger for the prediction service. Output goes to
// stderr so the run loop can be piped into a collector while fetch, predict
// and show keep stdout for their tables.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(writerFor(cfg.Format)).Level(parseLevel(cfg.Level))
	builder := logger.With().Timestamp().Str("service", "flrpredict")
	if cfg.Caller {
		builder = builder.Caller()
	}
	return builder.Logger()
}

// parseLevel falls back to info instead of erroring: a typo in the log
// level must not keep the sampling loop from starting.
func parseLevel(raw string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// writerFor emits JSON by default; "console" switches to a human-readable
// stream for interactive CLI use.
func writerFor(format string) io.Writer {
	if strings.EqualFold(format, "console") {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return os.Stderr
}
