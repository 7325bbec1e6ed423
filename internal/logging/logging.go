// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stevehiehn/taskdsl/internal/config"
)

// New returns a zap logger writing cfg.Format records at cfg.Level or above.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var enc zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		enc = zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		encoding = "console"
	} else {
		enc = zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	paths := cfg.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stderr"}
	}
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      paths,
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
