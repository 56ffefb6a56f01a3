package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitConfiguresGlobalLogger(t *testing.T) {
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})

	require.NoError(t, Init("debug"))

	logger := Logger()
	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestInitFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})

	require.NoError(t, Init("chatty"))
	require.False(t, Logger().Core().Enabled(zap.DebugLevel))
	require.True(t, Logger().Core().Enabled(zap.InfoLevel))
}

func TestLoggingHelpersEmitEntries(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	restore := Replace(zap.New(core))
	t.Cleanup(restore)

	Info("info message", zap.String("k", "v"))
	Error("error message")
	Warn("warn message")
	Debug("debug message")

	require.Equal(t, 4, recorded.Len())

	messages := recorded.All()
	want := []string{"info message", "error message", "warn message", "debug message"}
	for i, entry := range messages {
		require.Equal(t, want[i], entry.Message)
	}
	require.Equal(t, "v", messages[0].ContextMap()["k"])
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	restore := Replace(zap.New(core))
	t.Cleanup(restore)

	WithModule("channel").Info("module test")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "channel", entries[0].ContextMap()["module"])
}

func TestReplaceRestoresPrevious(t *testing.T) {
	original := Logger()
	restore := Replace(zap.NewExample())
	require.NotSame(t, original, Logger())
	restore()
	require.Same(t, original, Logger())
}

func TestOrModulePrefersSupplied(t *testing.T) {
	supplied := zap.NewExample()
	require.Same(t, supplied, OrModule(supplied, "feed"))
	require.NotNil(t, OrModule(nil, "feed"))
}
