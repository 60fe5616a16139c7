// Package logging builds the zap loggers used by the fleet binaries.
// Components receive named children of one root logger so every line
// carries its origin.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to stdout at the given level.
func New(level string) (*zap.SugaredLogger, error) {
	return build(level, []string{"stdout"})
}

// NewFile returns a logger appending to the given file. The traffic agent
// uses this to keep its per-stream log files.
func NewFile(level, path string) (*zap.SugaredLogger, error) {
	return build(level, []string{path})
}

// NewTee returns a logger writing to stdout and the given file. The
// conductor uses this to keep a copy of the run log in the run directory.
func NewTee(level, path string) (*zap.SugaredLogger, error) {
	return build(level, []string{"stdout", path})
}

func build(level string, sinks []string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "console",
		EncoderConfig:    encoderConfig(),
		OutputPaths:      sinks,
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	return enc
}

// Discard returns a logger that drops everything. Handy default so
// components never have to nil-check their logger.
func Discard() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
