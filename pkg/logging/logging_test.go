package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogsThroughEveryLevel(t *testing.T) {
	logger, flush, err := New(Config{Level: "debug", Pretty: true})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.WithFields(map[string]any{"entity_type": "user"}).Info("with fields")
	logger.WithError(fmt.Errorf("boom")).Error("with error")

	flush()
}

func TestNopDropsEverything(t *testing.T) {
	logger := Nop()
	logger.WithError(fmt.Errorf("boom")).Error("dropped")
	logger.WithFields(map[string]any{"k": "v"}).Debug("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zapcore.Level
	}{
		{name: "debug", level: "debug", expected: zapcore.DebugLevel},
		{name: "warn", level: "warn", expected: zapcore.WarnLevel},
		{name: "warning alias", level: "WARNING", expected: zapcore.WarnLevel},
		{name: "error", level: "error", expected: zapcore.ErrorLevel},
		{name: "default is info", level: "", expected: zapcore.InfoLevel},
		{name: "unknown is info", level: "verbose", expected: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}
