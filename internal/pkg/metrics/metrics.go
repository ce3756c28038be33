// Package metrics holds the Prometheus collectors for ingestion and reporting.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for ingestion operations.
const (
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

var (
	IngestionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitepulse_ingestion_operations_total",
			Help: "Tracking operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitepulse_sessions_created_total",
			Help: "Sessions created by session init",
		},
	)

	SessionsReattached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitepulse_sessions_reattached_total",
			Help: "Session init calls that reused an open session",
		},
	)

	LeadScoreIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitepulse_lead_score_increments_total",
			Help: "Qualifying events that increased a lead score",
		},
		[]string{"event_type"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitepulse_query_duration_seconds",
			Help:    "Duration of analytics queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

// RecordIngestion counts one ingestion call.
func RecordIngestion(operation, outcome string) {
	IngestionOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveQuery records the time since start for the named analytics query.
func ObserveQuery(query string, start time.Time) {
	QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry in Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
