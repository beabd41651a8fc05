package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/infrastructure/logging"
	"github.com/ahrav/go-arbiter/infrastructure/server"
	"github.com/ahrav/go-arbiter/internal/application"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.openStore(); err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			srv, err := a.newServer()
			if err != nil {
				return err
			}
			if a.loader != nil {
				unwatch, err := a.watchLogLevel(ctx)
				if err != nil {
					return err
				}
				defer unwatch()
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// newServer builds the HTTP server with tracing and, when enabled,
// request metrics and the Prometheus endpoint.
func (a *app) newServer() (*server.Server, error) {
	opts := []server.Option{
		server.WithLogger(a.logger.Named("http")),
		server.WithTracerProvider(a.tracer),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts,
			server.WithMetrics(a.metrics),
			server.WithMetricsHandler(a.metrics.Handler()),
		)
	}
	return server.New(server.Config{
		Addr:         a.cfg.Server.Addr,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		MetricsPath:  a.cfg.Metrics.Path,
	}, a.ingest, a.sessions, opts...)
}

// watchLogLevel applies log level changes from the config file while the
// server runs. Other settings need a restart.
func (a *app) watchLogLevel(ctx context.Context) (func(), error) {
	seed := a.cfg
	return a.loader.Watch(ctx, &seed, func(v any) {
		next, ok := v.(*application.Config)
		if !ok || a.flags.verbose {
			return
		}
		level, err := logging.ParseLevel(next.Log.Level)
		if err != nil {
			return
		}
		if level != a.level.Level() {
			a.level.SetLevel(level)
			a.logger.Info("log level changed", zap.Stringer("level", level))
		}
	})
}
