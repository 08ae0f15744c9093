// Package api exposes the thin HTTP surface of both services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jnst/order-payment-saga/internal/model"
)

var (
	errInvalidJSON = fmt.Errorf("%w: invalid JSON body", model.ErrValidation)
	errInvalidID   = fmt.Errorf("%w: invalid order id", model.ErrValidation)
)

const (
	contentTypeJSON = "Content-Type"
	applicationJSON = "application/json"
	tracerName      = "github.com/jnst/order-payment-saga/internal/api"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Routes registers a group of handlers on a mux.
type Routes interface {
	RegisterRoutes(mux *http.ServeMux)
}

// NewHandler builds the service handler: the given routes, /health over checks and /metrics over gatherer.
func NewHandler(serviceName string, checks map[string]Pinger, gatherer prometheus.Gatherer, routes ...Routes) http.Handler {
	mux := http.NewServeMux()

	for _, r := range routes {
		r.RegisterRoutes(mux)
	}

	mux.HandleFunc("GET /health", healthCheck(checks))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return traced(serviceName, mux)
}

// traced starts a server span per request, continuing any trace carried in the headers.
func traced(serviceName string, next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(ctx, serviceName+" "+r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			))
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func healthCheck(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := map[string]string{"status": "ok"}

		for name, check := range checks {
			if err := check.Ping(r.Context()); err != nil {
				slog.Warn("Health check failed", slog.String("dependency", name), slog.Any("error", err))

				status = http.StatusServiceUnavailable
				result["status"] = "unavailable"
				result[name] = err.Error()

				continue
			}

			result[name] = "ok"
		}

		writeJSON(w, status, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", slog.Any("error", err))

		message = http.StatusText(status)
	}

	writeJSON(w, status, errorResponse{Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidJSON
	}

	return nil
}
