// Package logging builds the zap loggers used throughout the engine.
// Every component receives a child logger tagged with its own name so log
// lines can be filtered by component in production.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the root logger.
type Options struct {
	Level      string // debug, info, warn, error
	Production bool   // JSON output with sampling, vs. human-readable dev output
}

// New builds a root *zap.Logger from Options.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return nil, err
		}
	}

	var cfg zap.Config
	if opts.Production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}

// Component returns a child logger tagged with the given component name,
// following the "component" field convention used across the engine.
func Component(logger *zap.Logger, name string) *zap.Logger {
	return logger.With(zap.String("component", name))
}
