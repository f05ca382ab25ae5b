package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/codetesla51/raw-http/http1"
	"github.com/codetesla51/raw-http/internal/bufpool"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// Config holds every server setting. Zero timeouts disable the
// corresponding deadline.
type Config struct {
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxHeaderSize  int
	MaxTrailerSize int
	MaxBodySize    int64
	MaxDrainSize   int64

	ChunkSize    int
	PoolCapacity int

	EnableKeepAlive bool
	EnableLogging   bool
	StaticDir       string

	Log LogConfig
}

// LogConfig configures the operational logger.
type LogConfig struct {
	Level       zapcore.Level
	Development bool
}

func DefaultConfig() *Config {
	return &Config{
		Address:         ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderSize:   8192,
		MaxTrailerSize:  4096,
		MaxBodySize:     10 * 1024 * 1024, // 10MB
		MaxDrainSize:    256 * 1024,
		ChunkSize:       bufpool.DefaultChunkSize,
		PoolCapacity:    bufpool.DefaultCapacity,
		EnableKeepAlive: true,
		EnableLogging:   false,
		StaticDir:       "pages",
		Log: LogConfig{
			Level: zapcore.InfoLevel,
		},
	}
}

// SetDefaults registers every key with its default value, so that
// environment variables are picked up for keys no config file mentions.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("address", d.Address)
	v.SetDefault("readTimeout", d.ReadTimeout.String())
	v.SetDefault("writeTimeout", d.WriteTimeout.String())
	v.SetDefault("idleTimeout", d.IdleTimeout.String())
	v.SetDefault("maxHeaderSize", d.MaxHeaderSize)
	v.SetDefault("maxTrailerSize", d.MaxTrailerSize)
	v.SetDefault("maxBodySize", d.MaxBodySize)
	v.SetDefault("maxDrainSize", d.MaxDrainSize)
	v.SetDefault("chunkSize", d.ChunkSize)
	v.SetDefault("poolCapacity", d.PoolCapacity)
	v.SetDefault("enableKeepAlive", d.EnableKeepAlive)
	v.SetDefault("enableLogging", d.EnableLogging)
	v.SetDefault("staticDir", d.StaticDir)
	v.SetDefault("log.level", d.Log.Level.String())
	v.SetDefault("log.development", d.Log.Development)
}

// NewConfig decodes the configuration held by v over the defaults and
// validates the result.
func NewConfig(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("decoding server configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() (err error) {
	if c.ReadTimeout < 0 {
		err = multierr.Append(err, errors.New("readTimeout must not be negative"))
	}
	if c.WriteTimeout < 0 {
		err = multierr.Append(err, errors.New("writeTimeout must not be negative"))
	}
	if c.IdleTimeout < 0 {
		err = multierr.Append(err, errors.New("idleTimeout must not be negative"))
	}
	if c.MaxHeaderSize < 256 {
		err = multierr.Append(err, fmt.Errorf("maxHeaderSize %d is below the minimum of 256", c.MaxHeaderSize))
	}
	if c.MaxTrailerSize < 0 {
		err = multierr.Append(err, errors.New("maxTrailerSize must not be negative"))
	}
	if c.MaxBodySize < 0 {
		err = multierr.Append(err, errors.New("maxBodySize must not be negative"))
	}
	if c.MaxDrainSize < 0 {
		err = multierr.Append(err, errors.New("maxDrainSize must not be negative"))
	}
	if c.ChunkSize < 512 {
		err = multierr.Append(err, fmt.Errorf("chunkSize %d is below the minimum of 512", c.ChunkSize))
	}
	if c.PoolCapacity < 0 {
		err = multierr.Append(err, errors.New("poolCapacity must not be negative"))
	}
	return err
}

// Limits returns the parser limits derived from the configuration.
func (c *Config) Limits() http1.Limits {
	return http1.Limits{
		MaxHeaderBytes:  c.MaxHeaderSize,
		MaxTrailerBytes: c.MaxTrailerSize,
		MaxBodyBytes:    c.MaxBodySize,
	}
}
