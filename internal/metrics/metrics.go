// Package metrics provides Prometheus instrumentation for the economy engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PrayersTotal counts prayer contributions, partitioned by generated kind
	// and whether the pool accepted them or dropped them at the cap.
	PrayersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_prayers_total",
		Help: "Total prayer contributions",
	}, []string{"kind", "accepted"})

	// PoolSize tracks the current prayer pool counters per bucket.
	PoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forge_prayer_pool_size",
		Help: "Current prayer pool size per bucket",
	}, []string{"bucket"})

	// EnhancementsTotal counts enhancement attempts by result and the pool
	// effect that was applied.
	EnhancementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_enhancements_total",
		Help: "Total enhancement attempts",
	}, []string{"result", "effect"})

	// WeaponsDestroyed counts weapons lost to failed enhancements.
	WeaponsDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_weapons_destroyed_total",
		Help: "Weapons destroyed by enhancement attempts",
	})

	// BattlesTotal counts resolved battles by challenger outcome.
	BattlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_battles_total",
		Help: "Total battles resolved",
	}, []string{"outcome"})

	// MatchesOpen tracks pending battle matches awaiting execution.
	MatchesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forge_matches_open",
		Help: "Battle matches created but not yet executed",
	})

	// SettlementsTotal counts season settlements completed.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_season_settlements_total",
		Help: "Season settlements completed",
	})

	// ActiveSeason exposes the number of the currently active season, or 0
	// when no season is active.
	ActiveSeason = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forge_active_season_number",
		Help: "Currently active season number (0 when none)",
	})

	// RewardRetries counts post-battle reward writes that needed a retry.
	RewardRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_reward_retries_total",
		Help: "Battle reward distributions retried after a failure",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
