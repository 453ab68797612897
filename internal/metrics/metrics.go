package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "clawsync"

// Collector provides a central place for all application metrics
type Collector struct {
	// Sync metrics
	SyncRuns             *prometheus.CounterVec
	SyncLinesProcessed   prometheus.Counter
	SyncEventsClassified *prometheus.CounterVec
	SyncDeliveries       *prometheus.CounterVec
	SyncDeliveryDuration prometheus.Histogram
	SyncCheckpointLine   prometheus.Gauge
	SyncLastRun          prometheus.Gauge
	SyncDeadLettered     prometheus.Counter
	SyncArchiveUploads   *prometheus.CounterVec

	// API metrics
	APIRequests        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APILogsInserted    *prometheus.CounterVec
	APIRateLimited     prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{registry: registry}
	c.initSyncMetrics()
	c.initAPIMetrics()
	return c
}

func (c *Collector) initSyncMetrics() {
	factory := promauto.With(c.registry)

	c.SyncRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by result",
		},
		[]string{"result"},
	)

	c.SyncLinesProcessed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "lines_processed_total",
			Help:      "Total number of non-blank log lines processed",
		},
	)

	c.SyncEventsClassified = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_classified_total",
			Help:      "Total number of log lines classified into an event",
		},
		[]string{"category"},
	)

	c.SyncDeliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "deliveries_total",
			Help:      "Total number of delivery attempts by result",
		},
		[]string{"result"},
	)

	c.SyncDeliveryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "delivery_duration_seconds",
			Help:      "Time taken by one delivery attempt",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	c.SyncCheckpointLine = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "checkpoint_line",
			Help:      "Watermark persisted by the last run",
		},
	)

	c.SyncLastRun = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		},
	)

	c.SyncDeadLettered = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "dead_lettered_total",
			Help:      "Total number of failed deliveries written to the dead letter file",
		},
	)

	c.SyncArchiveUploads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "archive_uploads_total",
			Help:      "Total number of run archive uploads by result",
		},
		[]string{"result"},
	)
}

func (c *Collector) initAPIMetrics() {
	factory := promauto.With(c.registry)

	c.APIRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"route", "method", "code"},
	)

	c.APIRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"route"},
	)

	c.APILogsInserted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "logs_inserted_total",
			Help:      "Total number of log records persisted",
		},
		[]string{"category"},
	)

	c.APIRateLimited = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limited requests",
		},
	)
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Global metrics collector
var (
	globalCollector *Collector
	once            sync.Once
)

// GetGlobalCollector returns the global metrics collector
func GetGlobalCollector() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}
