package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Additional-Code/ordergate/internal/config"
)

func TestBuildLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zapcore.Level
	}{
		{name: "debug", level: "DEBUG", want: zapcore.DebugLevel},
		{name: "warn", level: "warn", want: zapcore.WarnLevel},
		{name: "invalid falls back to info", level: "chatty", want: zapcore.InfoLevel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, err := Build(config.Observability{LogLevel: tc.level, ServiceName: "ordergate"})
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tc.want))
			assert.False(t, l.Core().Enabled(tc.want-1))
		})
	}
}

func TestBuildConsole(t *testing.T) {
	l, err := Build(config.Observability{LogLevel: "info", LogEncoding: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
