package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// generationOutcomes counts finished generation attempts by terminal state.
	generationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stylii_generation_outcomes_total",
		Help: "Finished design generations by outcome state and composite status",
	}, []string{"state", "composite"})

	generationRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stylii_generation_rejected_total",
		Help: "Generations rejected because another run was in flight",
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stylii_recommendation_cache_lookups_total",
		Help: "Recommendation cache lookups by style and result",
	}, []string{"style", "result"})

	collaboratorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stylii_collaborator_duration_seconds",
		Help:    "Latency of query generation and visualization calls",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
	}, []string{"collaborator", "result"})

	visualizationRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stylii_visualization_rate_limited_total",
		Help: "Visualization attempts refused by upstream or local rate limiting",
	})

	compositeCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stylii_composite_cache_total",
		Help: "Composite cache lookups in the visualization service",
	}, []string{"result"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stylii_active_sessions",
		Help: "Design sessions currently held in memory",
	})
)

func ObserveOutcome(state, composite string) {
	generationOutcomes.WithLabelValues(state, composite).Inc()
}

func ObserveRejected() {
	generationRejected.Inc()
}

func ObserveCacheLookup(style string, hit bool) {
	cacheLookups.WithLabelValues(style, hitLabel(hit)).Inc()
}

func ObserveCollaborator(collaborator, result string, took time.Duration) {
	collaboratorDuration.WithLabelValues(collaborator, result).Observe(took.Seconds())
}

func ObserveRateLimited() {
	visualizationRateLimited.Inc()
}

func ObserveCompositeCache(hit bool) {
	compositeCache.WithLabelValues(hitLabel(hit)).Inc()
}

func SessionOpened() {
	activeSessions.Inc()
}

func SessionClosed() {
	activeSessions.Dec()
}

// Handler exposes the default registry for fiber.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
