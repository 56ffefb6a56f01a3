package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

func init() { // components may log before Init runs
	globalLogger = zap.NewNop()
}

// New builds a production zap logger at the supplied level. Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.DisableStacktrace = zapLevel > zapcore.DebugLevel

	return cfg.Build()
}

// Init configures the global logger using the provided level string.
func Init(level string) error {
	logger, err := New(level)
	if err != nil {
		return err
	}
	Replace(logger)
	return nil
}

// Replace swaps the global logger and returns a func restoring the previous one.
func Replace(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}

	mu.Lock()
	defer mu.Unlock()

	previous := globalLogger
	globalLogger = logger
	return func() {
		mu.Lock()
		defer mu.Unlock()
		globalLogger = previous
	}
}

// Logger returns the configured global logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return globalLogger
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger annotated with the module name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// OrModule returns log when non-nil, otherwise a module logger.
func OrModule(log *zap.Logger, module string) *zap.Logger {
	if log != nil {
		return log
	}
	return WithModule(module)
}

// Info logs an informational message using the global logger.
func Info(msg string, fields ...zap.Field) {
	Logger().Info(msg, fields...)
}

// Error logs an error message using the global logger.
func Error(msg string, fields ...zap.Field) {
	Logger().Error(msg, fields...)
}

// Warn logs a warning message using the global logger.
func Warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
}

// Debug logs a debug message using the global logger.
func Debug(msg string, fields ...zap.Field) {
	Logger().Debug(msg, fields...)
}
