package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"":        zapcore.InfoLevel,
		"WARN":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for level, want := range cases {
		logger, err := NewLogger(level, "prod")
		require.NoError(t, err)
		require.True(t, logger.Core().Enabled(want), "level %q", level)
		if want > zapcore.DebugLevel {
			require.False(t, logger.Core().Enabled(want-1), "level %q", level)
		}
	}
}
