package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Rank engine metrics.
var (
	promotionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rank_promotions_total",
		Help: "Rank changes committed, automatic and manual.",
	})

	rewardsPaidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rank_rewards_paid_total",
			Help: "One-time tier rewards credited, by tier.",
		},
		[]string{"tier"},
	)

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rank_sweep_duration_seconds",
		Help:    "Duration of full recalculation sweeps.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	sweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rank_sweep_failures_total",
		Help: "Per-candidate failures across all sweeps.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		promotionsTotal, rewardsPaidTotal, sweepDuration, sweepFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPromotion accounts a committed rank change and, when a reward was
// credited, the payout for the reached tier.
func RecordPromotion(tier int, bonusPaid bool) {
	promotionsTotal.Inc()
	if bonusPaid {
		rewardsPaidTotal.WithLabelValues(strconv.Itoa(tier)).Inc()
	}
}

// RecordSweep accounts a completed sweep run.
func RecordSweep(d time.Duration, failed int) {
	sweepDuration.Observe(d.Seconds())
	if failed > 0 {
		sweepFailures.Add(float64(failed))
	}
}

// Instrument wraps a handler with RPS/latency/in-flight accounting.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapped writer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
