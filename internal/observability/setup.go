package observability

import (
	"context"
	"net/http"

	"github.com/honeynil/ReWearExchange/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup wires logs, metrics and traces. It returns the tracer shutdown func and
// the handler that serves the registered metrics.
func Setup(ctx context.Context, serviceName, otlpEndpoint, logLevel string) (func(context.Context) error, http.Handler) {
	observability.InitLogger(logLevel)
	observability.InitMetrics(prometheus.DefaultRegisterer)
	tracerShutdown := observability.InitTracing(ctx, serviceName, otlpEndpoint)
	return tracerShutdown, promhttp.Handler()
}
