// Package logging builds the process-wide *zap.Logger and exposes it as a
// logr.Logger, the interface the rest of the controller depends on so no
// package links zap directly except this one and cmd/runboatd.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects encoding and level for the process logger. Zero value is
// production-safe (json, info).
type Config struct {
	// Encoding is "json" or "console".
	Encoding string
	// Level is one of "debug", "info", "warn", "error".
	Level string
}

// New builds a logr.Logger backed by zap according to cfg.
func New(cfg Config) (logr.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := levelFor(cfg.Level)
	if err != nil {
		return logr.Logger{}, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zcfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("building zap logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

func levelFor(name string) (zapcore.Level, error) {
	switch name {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(name)); err != nil {
			return 0, fmt.Errorf("invalid log level %q: %w", name, err)
		}
		return lvl, nil
	}
}

// Discard is a no-op logger for tests that don't care about log output.
func Discard() logr.Logger {
	return logr.Discard()
}
