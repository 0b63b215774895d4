package capture

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// Metrics holds the capture engine's prometheus instruments. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	checkpoints *prometheus.CounterVec
	finalized   *prometheus.CounterVec
	inProgress  prometheus.Gauge
	stubs       *prometheus.CounterVec
	errors      *prometheus.CounterVec
	flushQueue  prometheus.Gauge
}

// NewMetrics creates the capture instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladybug",
			Subsystem: "capture",
			Name:      "checkpoints_total",
			Help:      "Checkpoints appended to in-progress reports, by type.",
		}, []string{"type"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladybug",
			Subsystem: "capture",
			Name:      "reports_total",
			Help:      "Reports leaving the registry, by outcome (closed, forced, abandoned).",
		}, []string{"outcome"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ladybug",
			Subsystem: "capture",
			Name:      "reports_in_progress",
			Help:      "Reports currently being captured.",
		}),
		stubs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladybug",
			Subsystem: "capture",
			Name:      "stubs_total",
			Help:      "Stub lookups during reruns, by result (matched, alternative, default).",
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladybug",
			Subsystem: "capture",
			Name:      "errors_total",
			Help:      "Swallowed capture errors, by code.",
		}, []string{"code"}),
		flushQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ladybug",
			Subsystem: "capture",
			Name:      "flush_queue_length",
			Help:      "Finalized reports waiting for the log storage.",
		}),
	}
	for _, c := range []prometheus.Collector{m.checkpoints, m.finalized, m.inProgress, m.stubs, m.errors, m.flushQueue} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register capture metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) checkpoint(t report.CheckpointType) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) reportStarted() {
	if m == nil {
		return
	}
	m.inProgress.Inc()
}

func (m *Metrics) reportDone(outcome string) {
	if m == nil {
		return
	}
	m.inProgress.Dec()
	m.finalized.WithLabelValues(outcome).Inc()
}

func (m *Metrics) stub(result string) {
	if m == nil {
		return
	}
	m.stubs.WithLabelValues(result).Inc()
}

func (m *Metrics) error(code ErrorCode) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(string(code)).Inc()
}

func (m *Metrics) queueLength(n int) {
	if m == nil {
		return
	}
	m.flushQueue.Set(float64(n))
}
