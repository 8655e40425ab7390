package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DetectorMetrics holds the failure detector's metrics. Methods are no-ops
// on a nil *DetectorMetrics.
type DetectorMetrics struct {
	CyclesTotal         prometheus.Counter
	CycleDuration       prometheus.Histogram
	ProbesTotal         *prometheus.CounterVec
	UnresponsiveNodes   prometheus.Gauge
	ReportFailuresTotal prometheus.Counter
}

// NewDetectorMetrics creates the detector metrics and registers them with reg
func NewDetectorMetrics(reg prometheus.Registerer) *DetectorMetrics {
	factory := promauto.With(reg)

	return &DetectorMetrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "cycles_total",
			Help:      "Total number of detection cycles",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "cycle_duration_seconds",
			Help:      "Histogram of detection cycle durations",
			Buckets:   prometheus.DefBuckets,
		}),
		ProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "probes_total",
			Help:      "Total number of node probes by outcome",
		}, []string{"status"}),
		UnresponsiveNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "unresponsive_nodes",
			Help:      "Nodes found unresponsive in the last cycle",
		}),
		ReportFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "report_failures_total",
			Help:      "Failure reports that could not be written to the registry",
		}),
	}
}

// RecordCycle records a finished detection cycle
func (m *DetectorMetrics) RecordCycle(duration float64, unresponsive int) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(duration)
	m.UnresponsiveNodes.Set(float64(unresponsive))
}

// RecordProbe records the outcome of one probe
func (m *DetectorMetrics) RecordProbe(status string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(status).Inc()
}

// RecordReportFailure records a failed registry write
func (m *DetectorMetrics) RecordReportFailure() {
	if m == nil {
		return
	}
	m.ReportFailuresTotal.Inc()
}
