// Package metrics provides task pipeline metrics collection.
// It wraps Prometheus collectors for stage latency, poll ticks, outcomes and
// the number of tasks in flight.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the task pipeline.
type Recorder interface {
	RecordStage(stage string, duration time.Duration, err error)
	RecordPollTick(status string)
	RecordOutcome(outcome string)
	RecordInFlight(delta int)
	RecordStoreSize(n int)
}

// Collector provides pipeline metrics collection on a private registry.
type Collector struct {
	registry *prometheus.Registry

	stageTotal   *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	pollTicks    *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	inFlight     prometheus.Gauge
	storeSize    prometheus.Gauge
	uptime       prometheus.Gauge
	startTime    time.Time

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	mu sync.Mutex
}

// NewCollector creates a new pipeline metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "tasks"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.stageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "total",
			Help:      "Total number of lifecycle stage executions",
		},
		[]string{"stage", "result"},
	)

	c.stageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Time taken by a lifecycle stage",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 16), // 5ms to ~160s
		},
		[]string{"stage", "result"},
	)

	c.pollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "ticks_total",
			Help:      "Total number of status poll ticks by observed ledger status",
		},
		[]string{"status"},
	)

	c.outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Total number of finished pipelines by outcome",
		},
		[]string{"outcome"},
	)

	c.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight",
		Help:      "Number of pipelines currently running",
	})

	c.storeSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "records",
		Help:      "Number of task snapshots held in the store",
	})

	c.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the collector was created",
	})

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests being served",
	})

	c.registry.MustRegister(
		c.stageTotal,
		c.stageLatency,
		c.pollTicks,
		c.outcomes,
		c.inFlight,
		c.storeSize,
		c.uptime,
		c.httpRequests,
		c.httpLatency,
		c.httpInFlight,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordStage records one stage execution and its latency.
func (c *Collector) RecordStage(stage string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.stageTotal.WithLabelValues(stage, result).Inc()
	c.stageLatency.WithLabelValues(stage, result).Observe(duration.Seconds())
}

// RecordPollTick records one poll tick.
func (c *Collector) RecordPollTick(status string) {
	c.pollTicks.WithLabelValues(status).Inc()
}

// RecordOutcome records how a pipeline finished.
func (c *Collector) RecordOutcome(outcome string) {
	c.outcomes.WithLabelValues(outcome).Inc()
}

// RecordInFlight adjusts the running pipeline gauge.
func (c *Collector) RecordInFlight(delta int) {
	c.inFlight.Add(float64(delta))
}

// RecordStoreSize records the number of stored snapshots.
func (c *Collector) RecordStoreSize(n int) {
	c.storeSize.Set(float64(n))
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, path, status).Inc()
	c.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementHTTPInFlight increments the in-flight HTTP request gauge.
func (c *Collector) IncrementHTTPInFlight() {
	c.httpInFlight.Inc()
}

// DecrementHTTPInFlight decrements the in-flight HTTP request gauge.
func (c *Collector) DecrementHTTPInFlight() {
	c.httpInFlight.Dec()
}

// UpdateUptime updates the uptime metric.
func (c *Collector) UpdateUptime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uptime.Set(time.Since(c.startTime).Seconds())
}

// Reset resets gauges and restarts the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight.Set(0)
	c.storeSize.Set(0)
	c.startTime = time.Now()
}

// NoOpCollector is a metrics collector that discards all metrics.
type NoOpCollector struct{}

// NewNoOpCollector creates a no-op metrics collector.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (*NoOpCollector) RecordStage(stage string, d time.Duration, err error) {}
func (*NoOpCollector) RecordPollTick(status string)                         {}
func (*NoOpCollector) RecordOutcome(outcome string)                         {}
func (*NoOpCollector) RecordInFlight(delta int)                             {}
func (*NoOpCollector) RecordStoreSize(n int)                                {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = (*NoOpCollector)(nil)
)
