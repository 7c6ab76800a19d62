// Package metrics exposes pipeline counters in Prometheus format.
//
// Each Metrics value owns its registry so tests and multiple daemons in one
// process do not collide on the default registerer. Every method is safe on a
// nil receiver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courier"

// Metrics holds the collectors updated by the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	units       *prometheus.CounterVec
	attempts    prometheus.Counter
	bytes       prometheus.Counter
	duration    prometheus.Histogram
	limiterWait prometheus.Histogram
	forwards    *prometheus.CounterVec
	reportErrs  prometheus.Counter
	files       *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
}

// New registers the courier collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Transport units by terminal result.",
		}, []string{"result"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Transport send attempts, including retries.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Bytes accepted by the transport.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from first limiter wait to terminal outcome per unit.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		limiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting for a rate limiter token.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Secondary forwards by outcome.",
		}, []string{"outcome"}),
		reportErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_errors_total",
			Help:      "Events the reporter failed to deliver.",
		}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files finalized by status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting per workflow lane.",
		}, []string{"lane"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.units, m.attempts, m.bytes, m.duration, m.limiterWait,
		m.forwards, m.reportErrs, m.files, m.queueDepth,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// UnitFinished records the terminal outcome of one transport unit.
func (m *Metrics) UnitFinished(result string, size int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(result).Inc()
	if result == "success" {
		m.bytes.Add(float64(size))
	}
	m.duration.Observe(elapsed.Seconds())
}

// Attempt counts one transport send attempt.
func (m *Metrics) Attempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

// LimiterWaited records time blocked on the rate limiter.
func (m *Metrics) LimiterWaited(d time.Duration) {
	if m == nil {
		return
	}
	m.limiterWait.Observe(d.Seconds())
}

// Forwarded counts a secondary forward outcome ("ok", "failed", "skipped").
func (m *Metrics) Forwarded(outcome string) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(outcome).Inc()
}

// ReportFailed counts an undelivered event.
func (m *Metrics) ReportFailed() {
	if m == nil {
		return
	}
	m.reportErrs.Inc()
}

// FileFinished counts a finalized file by record status.
func (m *Metrics) FileFinished(status string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(status).Inc()
}

// SetQueueDepth publishes the current depth of a lane queue.
func (m *Metrics) SetQueueDepth(lane string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(lane).Set(float64(depth))
}
