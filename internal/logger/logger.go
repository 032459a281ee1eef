// Package logger provides the process-wide structured logger for the
// governor. It wraps zap with a small sugared surface so call sites stay
// terse.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.SugaredLogger
	once sync.Once
)

// Initialize sets up the global logger. Debug enables development encoding
// and debug-level output. Safe to call more than once; only the first call
// wins.
func Initialize(debug bool) {
	once.Do(func() {
		var cfg zap.Config
		if debug {
			cfg = zap.NewDevelopmentConfig()
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			// Fall back to a bare logger rather than running silent
			l = zap.NewExample()
		}
		log = l.Sugar()
	})
}

func get() *zap.SugaredLogger {
	if log == nil {
		Initialize(false)
	}
	return log
}

// With returns a logger with the given structured key/value pairs attached
func With(args ...any) *zap.SugaredLogger {
	return get().With(args...)
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...any) { get().Debugf(format, args...) }

// Infof logs a formatted info message
func Infof(format string, args ...any) { get().Infof(format, args...) }

// Warnf logs a formatted warning message
func Warnf(format string, args ...any) { get().Warnf(format, args...) }

// Errorf logs a formatted error message
func Errorf(format string, args ...any) { get().Errorf(format, args...) }

// Fatalf logs a formatted message then exits
func Fatalf(format string, args ...any) {
	get().Errorf(format, args...)
	_ = get().Sync()
	os.Exit(1)
}

// Infow logs an info message with structured key/value pairs
func Infow(msg string, keysAndValues ...any) { get().Infow(msg, keysAndValues...) }

// Warnw logs a warning with structured key/value pairs
func Warnw(msg string, keysAndValues ...any) { get().Warnw(msg, keysAndValues...) }

// Errorw logs an error with structured key/value pairs
func Errorw(msg string, keysAndValues ...any) { get().Errorw(msg, keysAndValues...) }

// Sync flushes buffered log output
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
