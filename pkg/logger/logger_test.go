package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New("warn", false)
	require.NoError(t, err)

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("loud", false)
	assert.Error(t, err)
}

func TestGetBeforeInit(t *testing.T) {
	if globalLogger != nil {
		t.Skip("global logger already initialized")
	}
	assert.NotNil(t, Get())
	assert.NoError(t, Sync())
}

func TestInitOnce(t *testing.T) {
	require.NoError(t, Init("debug", true))
	first := Get()

	require.NoError(t, Init("error", false))
	assert.Same(t, first, Get())
	assert.True(t, Get().Core().Enabled(zapcore.DebugLevel))
}
