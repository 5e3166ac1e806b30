package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricetracker"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of Hermes price feed requests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"kind", "result"},
	)

	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Poll cycles by result (ok, error, aborted, skipped).",
		},
		[]string{"result"},
	)

	cacheCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "commits_total",
			Help:      "Price observations committed to the cache, by outcome.",
		},
		[]string{"outcome"},
	)

	subscriberPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked and were contained.",
		},
	)

	persistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "persist_errors_total",
			Help:      "Durable blob writes that failed.",
		},
		[]string{"key"},
	)

	loadDiscards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "load_discards_total",
			Help:      "Durable entries discarded while loading at startup.",
		},
		[]string{"key"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "websocket_clients",
			Help:      "Connected price stream WebSocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		upstreamDuration,
		pollCycles,
		cacheCommits,
		subscriberPanics,
		persistErrors,
		loadDiscards,
		wsClients,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records a handled HTTP request.
func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordUpstream records one Hermes request; kind is "bulk" or "single".
func RecordUpstream(kind string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	upstreamDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

func RecordPoll(result string) {
	pollCycles.WithLabelValues(result).Inc()
}

// RecordCommit counts a cache commit; outcome is "committed" or "superseded".
func RecordCommit(outcome string) {
	cacheCommits.WithLabelValues(outcome).Inc()
}

func RecordSubscriberPanic() {
	subscriberPanics.Inc()
}

func RecordPersistError(key string) {
	persistErrors.WithLabelValues(key).Inc()
}

func RecordLoadDiscard(key string) {
	loadDiscards.WithLabelValues(key).Inc()
}

func WebSocketClientConnected() {
	wsClients.Inc()
}

func WebSocketClientDisconnected() {
	wsClients.Dec()
}
