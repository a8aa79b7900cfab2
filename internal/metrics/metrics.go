// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline. All methods are safe on a nil receiver so instrumentation can be
// switched off by simply not constructing it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Pipeline struct {
	ticks          prometheus.Counter
	reports        prometheus.Counter
	rejections     prometheus.Counter
	modelErrors    *prometheus.CounterVec
	activeSessions prometheus.Gauge
	sessionSeconds prometheus.Histogram
}

// NewPipeline registers the pipeline collectors on reg, or on the default
// registerer when reg is nil.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Pipeline{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_ticks_total",
			Help: "Frames sampled and submitted to scene analysis.",
		}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_reports_total",
			Help: "Dispatch reports emitted to clients.",
		}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_rejections_total",
			Help: "Candidate incidents rejected by verification.",
		}),
		modelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_model_errors_total",
			Help: "Ticks skipped because a model call failed.",
		}, []string{"stage"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_sessions_active",
			Help: "Streaming sessions currently running.",
		}),
		sessionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_session_duration_seconds",
			Help:    "Wall time of finished streaming sessions.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(m.ticks, m.reports, m.rejections, m.modelErrors, m.activeSessions, m.sessionSeconds)
	return m
}

func (m *Pipeline) TickSampled() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Pipeline) ReportDispatched() {
	if m == nil {
		return
	}
	m.reports.Inc()
}

func (m *Pipeline) CandidateRejected() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

func (m *Pipeline) ModelErrorSkipped(stage string) {
	if m == nil {
		return
	}
	m.modelErrors.WithLabelValues(stage).Inc()
}

func (m *Pipeline) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Pipeline) SessionFinished(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionSeconds.Observe(elapsed.Seconds())
}
