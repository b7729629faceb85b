package vmcore

// metrics.go is a thin abstraction over Prometheus so that corevm can be run
// with or without metrics. When the caller passes a *prometheus.Registry to
// New(..., WithMetrics(reg)), labeled collectors are created and registered.
// Otherwise every metric call is a no-op and the hot path does not pay for
// it.
//
// Metric names:
//
//	callsite_interns_total   Ctr   arity
//	callsite_hits_total      Ctr   arity
//	callsite_buckets_bytes   Gge   arity
//	gc_cycles_total          Ctr
//	gc_enlisted_threads      Gge
//	gc_cycle_seconds         Hist
//
// © 2026 corevm authors. MIT License.

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

/* -------------------- callsite.MetricsSink -------------------- */

// Without a registry, New leaves callsite.Store on its own internal
// no-op default rather than constructing one of these here.
type promCallsiteMetrics struct {
	interns *prometheus.CounterVec
	hits    *prometheus.CounterVec
	buckets *prometheus.GaugeVec
}

func newPromCallsiteMetrics(reg *prometheus.Registry) *promCallsiteMetrics {
	label := []string{"arity"}
	m := &promCallsiteMetrics{
		interns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corevm",
			Name:      "callsite_interns_total",
			Help:      "Number of new callsite shapes interned.",
		}, label),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corevm",
			Name:      "callsite_hits_total",
			Help:      "Number of try_intern calls resolved to an existing shape.",
		}, label),
		buckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corevm",
			Name:      "callsite_buckets_bytes",
			Help:      "Approximate bytes held by each per-arity bucket.",
		}, label),
	}
	reg.MustRegister(m.interns, m.hits, m.buckets)
	return m
}

func (m *promCallsiteMetrics) IncIntern(arity int) {
	m.interns.WithLabelValues(strconv.Itoa(arity)).Inc()
}
func (m *promCallsiteMetrics) IncHit(arity int) {
	m.hits.WithLabelValues(strconv.Itoa(arity)).Inc()
}

// SetBucketBytes is called from the snapshot path, not the hot path.
func (m *promCallsiteMetrics) SetBucketBytes(arity int, n int64) {
	m.buckets.WithLabelValues(strconv.Itoa(arity)).Set(float64(n))
}

/* -------------------- gcsync.GCMetricsSink -------------------- */

// Without a registry, New leaves gcsync.VM on its own internal no-op
// default rather than constructing one of these here.
type promGCMetrics struct {
	cycles    prometheus.Counter
	enlisted  prometheus.Gauge
	cycleTime prometheus.Histogram

	cycleStarted time.Time
}

func newPromGCMetrics(reg *prometheus.Registry) *promGCMetrics {
	m := &promGCMetrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corevm",
			Name:      "gc_cycles_total",
			Help:      "Number of completed nursery collection cycles.",
		}),
		enlisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corevm",
			Name:      "gc_enlisted_threads",
			Help:      "Number of threads enlisted in the most recent cycle.",
		}),
		cycleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corevm",
			Name:      "gc_cycle_seconds",
			Help:      "Wall-clock duration of a nursery collection cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.cycles, m.enlisted, m.cycleTime)
	return m
}

func (m *promGCMetrics) IncCycle() {
	m.cycles.Inc()
	if !m.cycleStarted.IsZero() {
		m.cycleTime.Observe(time.Since(m.cycleStarted).Seconds())
	}
}

func (m *promGCMetrics) SetEnlisted(n uint64) {
	m.enlisted.Set(float64(n))
	m.cycleStarted = time.Now()
}

/* -------------------- factory -------------------- */

func newMetrics(reg *prometheus.Registry) (*promCallsiteMetrics, *promGCMetrics) {
	if reg == nil {
		return nil, nil
	}
	return newPromCallsiteMetrics(reg), newPromGCMetrics(reg)
}
