package server

import (
	"io"
	"log"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// NewLogger builds the operational logger described by cfg.Log.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Log.Level)
	return zc.Build()
}

// accessLog prints one colour-coded line per exchange.
type accessLog struct {
	l *log.Logger
}

func newAccessLog(w io.Writer) *accessLog {
	if w == nil {
		w = color.Output
	}
	return &accessLog{l: log.New(w, "", log.LstdFlags)}
}

// logRequest logs an HTTP request with color-coded status
func (a *accessLog) logRequest(method, path string, status int, elapsed time.Duration) {
	switch {
	case status >= 200 && status < 300:
		a.l.Print(color.GreenString("%s %s %d %s", method, path, status, elapsed))
	case status >= 400:
		a.l.Print(color.RedString("%s %s %d %s", method, path, status, elapsed))
	default:
		a.l.Printf("%s %s %d %s", method, path, status, elapsed)
	}
}
