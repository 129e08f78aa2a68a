package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/pincex_fno/internal/app"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the core with its scheduler until interrupted",
	Long: `Run the core: migrate the ledger, wire the configured integrations
(Kafka, Redis, etcd), start the portfolio and risk scheduler and expose
Prometheus metrics.

Example:
  fnocore serve -c config.yaml --metrics-addr :9464`,
	RunE: runServe,
}

var metricsAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9464", "listen address for /metrics (empty disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	defer zapLog.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := setupTracing()
		if err != nil {
			return err
		}
		defer shutdown()
	}

	core, err := app.Open(cfg, zapLog)
	if err != nil {
		zapLog.Error("Failed to start core", zap.Error(err))
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			zapLog.Error("Failed to close core", zap.Error(err))
		}
	}()

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zapLog.Error("Metrics server failed", zap.Error(err))
			}
		}()
		zapLog.Info("Metrics server listening", zap.String("addr", metricsAddr))
	}

	core.Start(ctx)
	<-ctx.Done()
	zapLog.Info("Shutting down F&O core")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zapLog.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
	return nil
}

// setupTracing installs a global tracer provider that prints spans to stdout.
func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			zapLog.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}, nil
}
