// Package logging provides mosaic's process-wide logger. It follows the
// same env-gated, package-level-singleton shape the rest of the corpus
// uses for ambient diagnostics, but backs it with zap instead of raw
// fmt.Fprintf so structured fields survive into JSON output.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.Mutex
	base    *zap.Logger
	sugared *zap.SugaredLogger
	debug   = os.Getenv("MOSAIC_DEBUG") != ""
)

func init() {
	build()
}

// build (re)constructs the package logger from the current debug flag and
// MOSAIC_LOG_JSON environment variable. Called automatically at package
// init and whenever SetDebug changes the mode.
func build() {
	mu.Lock()
	defer mu.Unlock()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	var cfg zap.Config
	if os.Getenv("MOSAIC_LOG_JSON") != "" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panic; logging must
		// never be the reason an operation fails.
		l = zap.NewNop()
	}
	base = l
	sugared = l.Sugar()
}

// Enabled reports whether debug-level logging is active.
func Enabled() bool {
	return debug
}

// SetDebug toggles debug-level logging, rebuilding the underlying logger.
func SetDebug(on bool) {
	debug = on
	build()
}

// L returns the process-wide structured logger.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// S returns the process-wide sugared logger, for printf-style call sites.
func S() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return sugared
}

// Debugf logs at debug level with printf-style formatting. It is a no-op
// unless MOSAIC_DEBUG is set or SetDebug(true) was called.
func Debugf(format string, args ...interface{}) {
	S().Debugf(format, args...)
}

// Infof logs at info level with printf-style formatting.
func Infof(format string, args ...interface{}) {
	S().Infof(format, args...)
}

// Warnf logs at warn level with printf-style formatting.
func Warnf(format string, args ...interface{}) {
	S().Warnf(format, args...)
}

// Errorf logs at error level with printf-style formatting.
func Errorf(format string, args ...interface{}) {
	S().Errorf(format, args...)
}

// Sync flushes any buffered log entries. Callers should defer this from
// main after the logger is constructed.
func Sync() {
	_ = L().Sync()
}
