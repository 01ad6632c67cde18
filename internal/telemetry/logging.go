// Package telemetry builds the zap logger and the prometheus metrics used
// across a search run.
package telemetry

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"` // "json" or "console"
	Output string `json:"output" yaml:"output" toml:"output"` // "stdout", "stderr" or a file path
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "console", Output: "stderr"}
}

// NewLogger builds a production zap logger from cfg. Empty fields take the
// defaults.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	defaults := DefaultLogConfig()
	if cfg.Level == "" {
		cfg.Level = defaults.Level
	}
	if cfg.Format == "" {
		cfg.Format = defaults.Format
	}
	if cfg.Output == "" {
		cfg.Output = defaults.Output
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Format != "json" && cfg.Format != "console" {
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = cfg.Format
	zc.OutputPaths = []string{cfg.Output}
	zc.ErrorOutputPaths = []string{cfg.Output}
	zc.DisableStacktrace = true
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zc.Build()
}

func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unsupported log level %q", level)
	}
}
