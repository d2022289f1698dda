package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	UnitOfWorkOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unit_of_work_total",
			Help: "Units of work by outcome (committed, aborted, transient)",
		},
		[]string{"outcome"},
	)

	ExchangeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_transitions_total",
			Help: "Committed exchange status writes by kind and resulting status",
		},
		[]string{"kind", "status"},
	)

	LedgerPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_points_total",
			Help: "Points moved through the ledger by direction",
		},
		[]string{"direction"},
	)
)

func InitMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RepositoryCalls, RepositoryDuration, UnitOfWorkOutcomes, ExchangeTransitions, LedgerPoints)
}

// TrackRepositoryCall starts a span for a repository method. The returned func must be
// deferred with a pointer to the method's error so the outcome lands in the span and metrics.
func TrackRepositoryCall(ctx context.Context, tracerName, method string) (context.Context, trace.Span, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method)
	start := time.Now()
	return ctx, span, func(errp *error) {
		status := "success"
		if errp != nil && *errp != nil {
			status = "error"
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		RepositoryCalls.WithLabelValues(method, status).Inc()
		RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}
