package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codecrate/config"
	"github.com/isdmx/codecrate/executor"
	"github.com/isdmx/codecrate/language"
	"github.com/isdmx/codecrate/logger"
	"github.com/isdmx/codecrate/mcpserver"
	"github.com/isdmx/codecrate/observer"
	"github.com/isdmx/codecrate/sandbox"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			language.NewFromConfig,

			// Isolation backend and image cache
			sandbox.NewEngine,
			sandbox.NewProvisionerFromConfig,
			sandbox.NewLimits,

			observer.NewMetrics,
			newExecutor,
			func(e *executor.Executor) mcpserver.CodeExecutor { return e },

			mcpserver.New,
		),

		fx.Invoke(
			registerTransport,
			registerMetricsListener,
			registerPrefetch,
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

func newExecutor(
	cfg *config.Config,
	log *zap.Logger,
	registry *language.Registry,
	engine sandbox.Engine,
	provisioner *sandbox.Provisioner,
	limits sandbox.Limits,
	metrics *observer.Metrics,
) *executor.Executor {
	return executor.New(log, registry, engine, provisioner, limits,
		executor.WithObserver(metrics),
		executor.WithHealthTimeout(cfg.GetHealthTimeout()),
	)
}

// registerTransport serves MCP on the configured transport for the lifetime
// of the application. The app stops when the transport ends.
func registerTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, server *mcpserver.MCPServer, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	serve := func() error {
		if cfg.Server.Transport == "http" {
			return server.ServeHTTP()
		}
		return server.ServeStdio(ctx)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := serve()
				if err != nil {
					log.Error("transport stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				if ctx.Err() == nil {
					log.Info("transport closed")
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return server.Shutdown(stopCtx)
		},
	})
}

// registerMetricsListener exposes /metrics on its own address when enabled.
func registerMetricsListener(lc fx.Lifecycle, cfg *config.Config, metrics *observer.Metrics, log *zap.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics listener stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// registerPrefetch warms the image cache in the background when enabled.
func registerPrefetch(lc fx.Lifecycle, cfg *config.Config, provisioner *sandbox.Provisioner, registry *language.Registry) {
	if !cfg.Sandbox.PrefetchImages {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go provisioner.Prefetch(ctx, registry.Images())
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
