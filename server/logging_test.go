package server

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestAccessLog(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = noColor }()

	var buf bytes.Buffer
	a := newAccessLog(&buf)

	a.logRequest("GET", "/hello", 200, time.Millisecond)
	assert.Contains(t, buf.String(), color.GreenString("GET /hello 200 1ms"))

	buf.Reset()
	a.logRequest("GET", "/missing", 404, time.Millisecond)
	assert.Contains(t, buf.String(), color.RedString("GET /missing 404 1ms"))

	buf.Reset()
	a.logRequest("GET", "/moved", 301, time.Millisecond)
	assert.Contains(t, buf.String(), "GET /moved 301 1ms")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = zapcore.WarnLevel
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	cfg.Log.Development = true
	cfg.Log.Level = zapcore.DebugLevel
	logger, err = NewLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
