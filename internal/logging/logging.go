// Package logging builds the process's single structured logger. The
// teacher logs ad hoc to stderr with fmt.Fprintf tagged "[gasoline]"; here
// we use go.uber.org/zap (grounded on jordigilh-kubernaut's
// zap.NewProductionConfig() setup) and pass the resulting
// *zap.SugaredLogger down by constructor injection everywhere — no package
// global.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Development enables human-readable console output instead of JSON,
	// for local runs against a stdio-connected client.
	Development bool
}

// New builds a *zap.SugaredLogger per Options.
func New(opts Options) (*zap.SugaredLogger, error) {
	var level zapcore.Level
	if err := level.Set(opts.Level); err != nil {
		level = zapcore.InfoLevel
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	// stdout is reserved for MCP stdio framing; every log line goes to
	// stderr, matching the teacher's stream separation.
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger.Sugar(), nil
}
