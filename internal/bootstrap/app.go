// Package bootstrap wires the infrastructure shared by both service binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jnst/order-payment-saga/internal/api"
	"github.com/jnst/order-payment-saga/internal/broker"
	"github.com/jnst/order-payment-saga/internal/config"
	"github.com/jnst/order-payment-saga/internal/db"
	"github.com/jnst/order-payment-saga/internal/messaging"
	"github.com/jnst/order-payment-saga/internal/metrics"
	"github.com/jnst/order-payment-saga/internal/tracing"
)

const readHeaderTimeout = 5 * time.Second

// Infra holds the connections and telemetry owned by one service process.
type Infra struct {
	Pool     *pgxpool.Pool
	Broker   messaging.Broker
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	tracer *sdktrace.TracerProvider
}

// Setup opens the database pool and the broker and initializes tracing and metrics.
// On failure everything opened so far is closed again.
func Setup(ctx context.Context, cfg *config.Config) (*Infra, error) {
	tp, err := tracing.InitTracerProvider(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	infra := &Infra{tracer: tp}

	infra.Pool, err = db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		infra.Close(ctx)

		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	infra.Broker, err = broker.New(cfg)
	if err != nil {
		infra.Close(ctx)

		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	infra.Registry = prometheus.NewRegistry()
	infra.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	infra.Metrics = metrics.New(infra.Registry, cfg.ServiceName)

	slog.Info("Infrastructure ready",
		slog.String("broker", cfg.BrokerKind),
		slog.Bool("tracing_export", cfg.JaegerEndpoint != ""))

	return infra, nil
}

// Checks returns the dependencies checked by /health.
func (i *Infra) Checks() map[string]api.Pinger {
	return map[string]api.Pinger{
		"database": i.Pool,
		"broker":   i.Broker,
	}
}

// Close releases everything in reverse order of Setup, flushing buffered spans within ctx.
func (i *Infra) Close(ctx context.Context) {
	if i.Broker != nil {
		if err := i.Broker.Close(); err != nil {
			slog.Error("Error closing broker", slog.Any("error", err))
		}
	}

	if i.Pool != nil {
		i.Pool.Close()
	}

	if i.tracer != nil {
		if err := i.tracer.Shutdown(ctx); err != nil {
			slog.Error("Error shutting down tracer provider", slog.Any("error", err))
		}
	}
}

// Serve runs an HTTP server on addr until ctx is done, then shuts it down within shutdownTimeout.
func Serve(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("HTTP server listening", slog.String("addr", addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", addr, err)
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down http server: %w", err)
	}

	slog.Info("HTTP server shut down")

	return nil
}
