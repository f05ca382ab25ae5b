package server

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := NewConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 8192, cfg.MaxHeaderSize)
	assert.EqualValues(t, 10*1024*1024, cfg.MaxBodySize)
	assert.True(t, cfg.EnableKeepAlive)
}

func TestConfigYAML(t *testing.T) {
	const yaml = `
address: 127.0.0.1:9090
readTimeout: 5s
idleTimeout: 1m
maxHeaderSize: 4096
maxBodySize: 1024
enableLogging: true
log:
  level: debug
  development: true
`
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))

	cfg, err := NewConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Address)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 4096, cfg.MaxHeaderSize)
	assert.EqualValues(t, 1024, cfg.MaxBodySize)
	assert.True(t, cfg.EnableLogging)
	assert.Equal(t, zapcore.DebugLevel, cfg.Log.Level)
	assert.True(t, cfg.Log.Development)

	lim := cfg.Limits()
	assert.Equal(t, 4096, lim.MaxHeaderBytes)
	assert.EqualValues(t, 1024, lim.MaxBodyBytes)
	assert.Equal(t, cfg.MaxTrailerSize, lim.MaxTrailerBytes)
}

func TestConfigEnvironment(t *testing.T) {
	t.Setenv("RAWHTTP_MAXHEADERSIZE", "2048")
	t.Setenv("RAWHTTP_WRITETIMEOUT", "250ms")
	t.Setenv("RAWHTTP_LOG_LEVEL", "warn")

	v := viper.New()
	v.SetEnvPrefix("RAWHTTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	cfg, err := NewConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.MaxHeaderSize)
	assert.Equal(t, 250*time.Millisecond, cfg.WriteTimeout)
	assert.Equal(t, zapcore.WarnLevel, cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Address)
}

func TestConfigValidate(t *testing.T) {
	v := viper.New()
	v.Set("maxHeaderSize", 10)
	v.Set("chunkSize", 16)
	v.Set("readTimeout", "-1s")

	_, err := NewConfig(v)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
	assert.Contains(t, err.Error(), "maxHeaderSize")
	assert.Contains(t, err.Error(), "chunkSize")
	assert.Contains(t, err.Error(), "readTimeout")

	v = viper.New()
	v.Set("readTimeout", "soon")
	_, err = NewConfig(v)
	assert.Error(t, err)
}
