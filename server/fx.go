package server

import (
	"context"
	"errors"

	"github.com/codetesla51/raw-http/internal/bufpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module wires a Server into an fx application. The application must
// supply a *viper.Viper; routes are registered on the provided *Router
// by invoke functions, which run before the server starts.
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewConfig,
			NewLogger,
			NewPool,
			NewRouter,
			provideServer,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(bindLifecycle),
	)
}

func provideServer(cfg *Config, logger *zap.Logger, pool *bufpool.Pool, r *Router) *Server {
	return New(cfg, Pipeline(r, Static(cfg.StaticDir)), logger, pool)
}

// bindLifecycle starts serving on application start and shuts the server
// down gracefully on stop.
func bindLifecycle(lc fx.Lifecycle, s *Server, r *Router, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.Seal()
			ln, err := s.Listen(ctx)
			if err != nil {
				return err
			}
			logger.Info("listening",
				zap.Stringer("address", ln.Addr()),
				zap.Int("routes", len(r.Routes())),
			)
			go func() {
				if err := s.Serve(ln); err != nil && !errors.Is(err, ErrServerClosed) {
					logger.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down", zap.Int64("exchanges", s.Exchanges()))
			return s.Shutdown(ctx)
		},
	})
}
