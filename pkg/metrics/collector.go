// Package metrics exposes prometheus collectors for runs and node attempts.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "flow"

// Collector groups the engine's metrics on its own registry. A nil Collector
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	runsStarted     prometheus.Counter
	runsFinished    *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsInFlight    prometheus.Gauge
	launchRejected  *prometheus.CounterVec
	nodeAttempts    *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	nodeRetries     *prometheus.CounterVec
	nodeFinished    *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs launched or resumed",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of runs reaching a terminal status",
		}, []string{"status", "fault"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration from start to terminal status",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"status"}),
		runsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "runs_in_flight",
			Help:      "Runs currently owned by this engine",
		}),
		launchRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "launches_rejected_total",
			Help:      "Launch requests rejected before a run was created",
		}, []string{"reason"}),
		nodeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_attempts_total",
			Help:      "Executor attempts by node type and outcome",
		}, []string{"node_type", "outcome"}),
		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "node_attempt_duration_seconds",
			Help:      "Executor attempt duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_retries_total",
			Help:      "Retries scheduled after retryable failures",
		}, []string{"node_type"}),
		nodeFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_instances_finished_total",
			Help:      "Node-instances reaching a terminal status",
		}, []string{"status", "reason"}),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RunStarted() {
	if c == nil {
		return
	}

	c.runsStarted.Inc()
	c.runsInFlight.Inc()
}

func (c *Collector) RunFinished(status string, fault bool, duration time.Duration) {
	if c == nil {
		return
	}

	c.runsInFlight.Dec()
	c.runsFinished.WithLabelValues(status, strconv.FormatBool(fault)).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RunDetached drops a run this engine stopped owning without finishing it.
func (c *Collector) RunDetached() {
	if c == nil {
		return
	}

	c.runsInFlight.Dec()
}

func (c *Collector) LaunchRejected(reason string) {
	if c == nil {
		return
	}

	c.launchRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Attempt(nodeType, outcome string, duration time.Duration) {
	if c == nil {
		return
	}

	c.nodeAttempts.WithLabelValues(nodeType, outcome).Inc()
	c.attemptDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

func (c *Collector) RetryScheduled(nodeType string) {
	if c == nil {
		return
	}

	c.nodeRetries.WithLabelValues(nodeType).Inc()
}

func (c *Collector) NodeFinished(status, reason string) {
	if c == nil {
		return
	}

	c.nodeFinished.WithLabelValues(status, reason).Inc()
}
