// Package logging builds the zap-backed slog loggers of the gateway binaries.
//
// Every logger writes to stderr: on the stdio transport stdout carries the protocol.
package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New creates an *slog.Logger for the given level name. "debug" and "trace" select a
// development config with debug-level output; "info", "warn" and "error" select the
// production config at that level, as does an empty level (info).
// Returns the logger and a sync function the caller should defer.
func New(level string) (*slog.Logger, func(), error) {
	zapLog, err := NewZapLogger(level)
	if err != nil {
		return nil, nil, err
	}
	sync := func() { _ = zapLog.Sync() }
	return SlogFromZap(zapLog), sync, nil
}

// NewZapLogger creates a *zap.Logger writing JSON to stderr at the given level.
func NewZapLogger(level string) (*zap.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "debug" || level == "trace" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.OutputPaths = []string{"stderr"}
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// SlogFromZap creates an *slog.Logger that writes directly to the Zap core.
func SlogFromZap(z *zap.Logger) *slog.Logger {
	return slog.New(zapslog.NewHandler(z.Core(), zapslog.WithCaller(true)))
}
