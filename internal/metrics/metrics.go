package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadlines_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deadlines_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	deadlinesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadlines_created_total",
			Help: "Deadlines created by tenant",
		},
		[]string{"tenant_id"},
	)

	triggersScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadlines_triggers_scheduled_total",
			Help: "Reminder triggers persisted, by origin (default or custom)",
		},
		[]string{"origin"},
	)

	remindersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadlines_reminders_fired_total",
			Help: "Reminder triggers claimed and delivered, by outcome and channel",
		},
		[]string{"outcome", "channel"},
	)

	reminderLag = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deadlines_reminder_lag_seconds",
			Help:    "Delay between a trigger's fire time and its delivery attempt",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 3600},
		},
		[]string{"channel"},
	)

	digestsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadlines_digests_total",
			Help: "Digest evaluations that reached delivery or were skipped, by outcome",
		},
		[]string{"outcome"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deadlines_poll_duration_seconds",
			Help:    "Duration of one poll cycle",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"poller"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadlines_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"tenant_id"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deadlines_circuit_breaker_state",
			Help: "Circuit breaker state per channel (0 closed, 1 open, 2 half-open)",
		},
		[]string{"channel"},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deadlines_db_connections_in_use",
			Help: "Database connections in use",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordDeadlineCreated(tenantID string) {
	deadlinesCreated.WithLabelValues(tenantID).Inc()
}

// RecordTriggersScheduled counts n triggers of the given origin.
func RecordTriggersScheduled(custom bool, n int) {
	origin := "default"
	if custom {
		origin = "custom"
	}
	triggersScheduled.WithLabelValues(origin).Add(float64(n))
}

// RecordReminder records one claimed trigger. outcome is "delivered" or "failed".
func RecordReminder(outcome, channel string, lag time.Duration) {
	remindersFired.WithLabelValues(outcome, channel).Inc()
	if lag < 0 {
		lag = 0
	}
	reminderLag.WithLabelValues(channel).Observe(lag.Seconds())
}

// RecordDigest records a digest outcome: "delivered", "failed", "empty" or "duplicate".
func RecordDigest(outcome string) {
	digestsSent.WithLabelValues(outcome).Inc()
}

// ObservePoll records how long one poller cycle took.
func ObservePoll(poller string, d time.Duration) {
	pollDuration.WithLabelValues(poller).Observe(d.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(tenantID string) {
	rateLimitRejections.WithLabelValues(tenantID).Inc()
}

// SetBreakerState publishes a breaker state as its numeric value.
func SetBreakerState(channel string, state int) {
	breakerState.WithLabelValues(channel).Set(float64(state))
}

// SetDBConnections sets the in-use database connection count
func SetDBConnections(count int) {
	dbConnectionsInUse.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the chi route pattern so
// ids in the path do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
