// Package telemetry owns the process-wide Prometheus collectors and the
// OpenTelemetry tracer/meter providers.
package telemetry

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_checks_enqueued_total",
			Help: "Check requests accepted by the queue, labeled by cause.",
		},
		[]string{"cause"},
	)

	queueRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_check_queue_rejections_total",
			Help: "Check requests refused because the queue was full, labeled by cause.",
		},
		[]string{"cause"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "price_check_queue_depth",
			Help: "Check requests waiting for a worker.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "price_check_active_workers",
			Help: "Workers currently executing a check attempt.",
		},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_check_retries_total",
			Help: "Check attempts scheduled for retry, labeled by failure kind.",
		},
		[]string{"failure"},
	)

	abandonedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_checks_abandoned_total",
			Help: "Checks that failed permanently, labeled by failure kind.",
		},
		[]string{"failure"},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_fetches_total",
			Help: "Page fetches labeled by platform, fetch mode and status code.",
		},
		[]string{"platform", "mode", "code"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_fetch_duration_seconds",
			Help:    "Page fetch latency labeled by platform and fetch mode.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"platform", "mode"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_alert_notifications_total",
			Help: "Notification deliveries labeled by channel and result.",
		},
		[]string{"channel", "result"},
	)

	retrainTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_model_retrain_requests_total",
			Help: "Retrain triggers labeled by result.",
		},
		[]string{"result"},
	)

	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_scheduler_runs_total",
			Help: "Scheduled job slots labeled by job and outcome.",
		},
		[]string{"job", "outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-host rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// SanitizeSite extracts a lower-cased hostname from a URL for use as a label.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveEnqueue records an accepted check request.
func ObserveEnqueue(cause string) {
	checksEnqueuedTotal.WithLabelValues(cause).Inc()
	queueDepth.Inc()
}

// ObserveDequeue records a request leaving the queue.
func ObserveDequeue() {
	queueDepth.Dec()
}

// ObserveQueueRejection records a request refused by a full queue.
func ObserveQueueRejection(cause string) {
	queueRejectionsTotal.WithLabelValues(cause).Inc()
}

// IncActiveWorkers increments the busy worker gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the busy worker gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRetry records a retry scheduled after a failure of the given kind.
func ObserveRetry(failure string) {
	retriesTotal.WithLabelValues(failure).Inc()
}

// ObserveAbandoned records a check that will not be retried.
func ObserveAbandoned(failure string) {
	abandonedTotal.WithLabelValues(failure).Inc()
}

// ObserveFetch records one page fetch. A zero code means no response arrived.
func ObserveFetch(platform string, headless bool, code int, duration time.Duration) {
	mode := "http"
	if headless {
		mode = "headless"
	}
	fetchesTotal.WithLabelValues(platform, mode, strconv.Itoa(code)).Inc()
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(platform, mode).Observe(duration.Seconds())
	}
}

// ObserveNotification records a delivery attempt on a channel.
func ObserveNotification(channel string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// ObserveRetrain records a retrain trigger outcome.
func ObserveRetrain(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	retrainTotal.WithLabelValues(result).Inc()
}

// ObserveSchedulerRun records what happened to a scheduled slot: "ran",
// "skipped" (another replica held the lock) or "error".
func ObserveSchedulerRun(job, outcome string) {
	schedulerRunsTotal.WithLabelValues(job, outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
