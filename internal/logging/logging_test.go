package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"error":   zapcore.ErrorLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.DebugLevel,
		"verbose": zapcore.DebugLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, levelFromString(in), "level %q", in)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	t.Parallel()

	logger := New("warn")
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
