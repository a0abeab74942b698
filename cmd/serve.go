package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/api"
	"github.com/sells-group/hotspots/internal/hotspot"
	"github.com/sells-group/hotspots/internal/monitoring"
	"github.com/sells-group/hotspots/internal/resilience"
	"github.com/sells-group/hotspots/internal/source"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hotspot HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reader, err := openReader(ctx)
		if err != nil {
			return err
		}
		defer reader.Close() //nolint:errcheck

		metrics := monitoring.NewMetrics()
		src := guardReader(reader, func(_, to resilience.CircuitState) {
			metrics.SetCircuitState(to)
		})
		engine := newEngine(src, hotspot.WithObserver(metrics))

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(metrics, src),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(engine, src, metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the API with the configured server settings.
func buildRouter(engine api.HotspotService, analytics source.Analytics, metrics *monitoring.Metrics) http.Handler {
	opts := api.Options{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if metrics != nil {
		opts.Metrics = metrics.Handler()
	}
	return api.NewRouter(engine, analytics, opts)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
