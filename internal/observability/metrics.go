// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsReceived  *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	IngestLatency   prometheus.Histogram
	EventsArchived  prometheus.Counter
	LastEventTime   prometheus.Gauge
	ArchiveBuffered prometheus.Gauge

	// Aggregation metrics
	LiveSeries       prometheus.Gauge
	LiveBuckets      prometheus.Gauge
	BucketsCompacted prometheus.Counter

	// Stream metrics
	Subscribers    prometheus.Gauge
	StreamDropped  prometheus.Counter
	StreamMessages *prometheus.CounterVec

	// Upstream metrics
	UpstreamFailures *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	RPCCallLatency   *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dex_candles"
	}

	return &Metrics{
		// Ingestion metrics
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_received_total",
			Help:      "Total number of swap events received by source",
		}, []string{"source"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_dropped_total",
			Help:      "Total number of swap events dropped by reason",
		}, []string{"reason"}),
		IngestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ingest_latency_seconds",
			Help:      "Time to apply one event to every interval and publish it",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
		EventsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_archived_total",
			Help:      "Total number of swap events written to the archive",
		}),
		LastEventTime: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_event_timestamp_ms",
			Help:      "Timestamp of the newest ingested event",
		}),
		ArchiveBuffered: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "archive_buffered_events",
			Help:      "Events waiting for the next archive flush",
		}),

		// Aggregation metrics
		LiveSeries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "live_series",
			Help:      "Number of live (pair, interval) series",
		}),
		LiveBuckets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "live_buckets",
			Help:      "Number of candle buckets held in memory",
		}),
		BucketsCompacted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "buckets_compacted_total",
			Help:      "Total number of buckets dropped by retention",
		}),

		// Stream metrics
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Number of live feed subscriptions",
		}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "updates_dropped_total",
			Help:      "Updates not delivered because a subscriber queue was full",
		}),
		StreamMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Messages written to subscribers by transport and type",
		}, []string{"transport", "type"}),

		// Upstream metrics
		UpstreamFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "failures_total",
			Help:      "Historical or market fetches that failed and fell back to defaults",
		}, []string{"source"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_latency_seconds",
			Help:      "Historical and market fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bsc",
			Name:      "rpc_call_latency_seconds",
			Help:      "BSC JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Market cache lookups by result",
		}, []string{"result"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventReceived increments the received counter for source.
func RecordEventReceived(source string) {
	DefaultMetrics.EventsReceived.WithLabelValues(source).Inc()
}

// RecordEventDropped records an event dropped for reason.
func RecordEventDropped(reason string) {
	DefaultMetrics.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordIngest records the time to process one event and its timestamp.
func RecordIngest(seconds float64, eventTimeMs int64) {
	DefaultMetrics.IngestLatency.Observe(seconds)
	DefaultMetrics.LastEventTime.Set(float64(eventTimeMs))
}

// RecordArchived records events written to the archive.
func RecordArchived(n int) {
	DefaultMetrics.EventsArchived.Add(float64(n))
}

// SetArchiveBuffered updates the pending archive gauge.
func SetArchiveBuffered(n int) {
	DefaultMetrics.ArchiveBuffered.Set(float64(n))
}

// UpdateAggregatorSize updates the live series and bucket gauges.
func UpdateAggregatorSize(series, buckets int) {
	DefaultMetrics.LiveSeries.Set(float64(series))
	DefaultMetrics.LiveBuckets.Set(float64(buckets))
}

// RecordCompaction records buckets dropped by retention.
func RecordCompaction(dropped int) {
	DefaultMetrics.BucketsCompacted.Add(float64(dropped))
}

// SetSubscribers updates the subscriber gauge.
func SetSubscribers(n int) {
	DefaultMetrics.Subscribers.Set(float64(n))
}

// RecordStreamDropped records an update a subscriber missed.
func RecordStreamDropped() {
	DefaultMetrics.StreamDropped.Inc()
}

// RecordStreamMessage records a message written to a subscriber.
func RecordStreamMessage(transport, msgType string) {
	DefaultMetrics.StreamMessages.WithLabelValues(transport, msgType).Inc()
}

// RecordUpstream records an upstream fetch and whether it failed.
func RecordUpstream(source string, seconds float64, err error) {
	DefaultMetrics.UpstreamLatency.WithLabelValues(source).Observe(seconds)
	if err != nil {
		DefaultMetrics.UpstreamFailures.WithLabelValues(source).Inc()
	}
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.CacheLookups.WithLabelValues(result).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	DefaultMetrics.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
