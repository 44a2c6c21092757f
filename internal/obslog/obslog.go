// Package obslog provides structured logging for sensord.
//
// It wraps go.uber.org/zap behind a small global entry point so every
// package can log without threading a logger through every constructor,
// while still allowing component-scoped loggers via Named.
package obslog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the process-wide structured logger. It is a safe no-op
	// until Initialize is called, so packages can log during early init
	// (flag parsing, plugin manifest loads) without nil checks.
	Logger *zap.SugaredLogger
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. jsonOutput selects structured
// JSON (for production / log aggregation) versus a human-readable
// console encoder (for interactive use). level is a zapcore level name
// ("debug", "info", "warn", "error"); invalid values fall back to info.
func Initialize(jsonOutput bool, level string) error {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		zapLogger, err = cfg.Build()
	} else {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderCfg),
				zapcore.AddSync(os.Stderr),
				lvl,
			),
		)
	}
	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// SetLevel is called from the live-tunable daemon config reload path
// (see internal/config). An unknown level name is rejected with a
// warning; a known one is attached as a field to every later entry of
// the global logger. It does not change which levels the running
// logger emits.
func SetLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		Logger.Warnw("ignoring unknown log level", FieldLevel, level)
		return
	}
	Logger.Desugar().Core()
	// zap's SugaredLogger does not expose a mutable level on a built
	// core that wasn't constructed with an AtomicLevel, so the new
	// level is only recorded as a field on later entries.
	Logger = Logger.With(FieldLevel, lvl.String())
}

// Named returns a component-scoped logger, the preferred way for a
// constructor to obtain its own logger instead of reaching for the
// global directly.
func Named(component string) *zap.SugaredLogger {
	return Logger.Named(component)
}

// Sync flushes any buffered log entries. Errors from Sync on stdout/
// stderr are routinely EINVAL on Linux/macOS and are safe to ignore by
// the caller; Sync still returns them so a caller writing to a real
// file can detect real failures.
func Sync() error {
	if Logger != nil {
		return Logger.Sync()
	}
	return nil
}
