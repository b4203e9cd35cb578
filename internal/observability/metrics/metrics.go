package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CallMetrics exposes counters/histograms for the outbound call engine.
type CallMetrics struct {
	initiatedTotal  *prometheus.CounterVec
	turnTotal       *prometheus.CounterVec
	turnLatency     *prometheus.HistogramVec
	statusTotal     *prometheus.CounterVec
	reportTotal     *prometheus.CounterVec
	liveSessions    prometheus.Gauge
	snapshotErrors  prometheus.Counter
	lockWaitTimeout prometheus.Counter
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		initiatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mangwale",
			Subsystem: "voice",
			Name:      "calls_initiated_total",
			Help:      "Total call initiation requests by kind and result",
		}, []string{"kind", "result"}),
		turnTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mangwale",
			Subsystem: "voice",
			Name:      "callback_turns_total",
			Help:      "Total callback turns handled by kind and event",
		}, []string{"kind", "event"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mangwale",
			Subsystem: "voice",
			Name:      "callback_latency_seconds",
			Help:      "Latency of callback turn handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dialect"}),
		statusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mangwale",
			Subsystem: "voice",
			Name:      "status_callbacks_total",
			Help:      "Total carrier status callbacks by carrier status",
		}, []string{"status"}),
		reportTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mangwale",
			Subsystem: "voice",
			Name:      "outcome_reports_total",
			Help:      "Total outcome report deliveries by result",
		}, []string{"result"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mangwale",
			Subsystem: "voice",
			Name:      "live_sessions",
			Help:      "Call sessions currently held in memory",
		}),
		snapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mangwale",
			Subsystem: "voice",
			Name:      "snapshot_errors_total",
			Help:      "Failed Redis snapshot writes and deletes",
		}),
		lockWaitTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mangwale",
			Subsystem: "voice",
			Name:      "lock_wait_timeouts_total",
			Help:      "Callback turns that fell back because the per-call lock stayed busy",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.initiatedTotal, m.turnTotal, m.turnLatency, m.statusTotal,
		m.reportTotal, m.liveSessions, m.snapshotErrors, m.lockWaitTimeout)
	return m
}

func (m *CallMetrics) ObserveInitiation(kind, result string) {
	if m == nil {
		return
	}
	m.initiatedTotal.WithLabelValues(kind, result).Inc()
}

func (m *CallMetrics) ObserveTurn(kind, event string) {
	if m == nil {
		return
	}
	m.turnTotal.WithLabelValues(kind, event).Inc()
}

func (m *CallMetrics) ObserveTurnLatency(dialect string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(dialect).Observe(seconds)
}

func (m *CallMetrics) ObserveStatus(status string) {
	if m == nil {
		return
	}
	m.statusTotal.WithLabelValues(status).Inc()
}

func (m *CallMetrics) ObserveReport(result string) {
	if m == nil {
		return
	}
	m.reportTotal.WithLabelValues(result).Inc()
}

func (m *CallMetrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}

func (m *CallMetrics) ObserveSnapshotError() {
	if m == nil {
		return
	}
	m.snapshotErrors.Inc()
}

func (m *CallMetrics) ObserveLockWaitTimeout() {
	if m == nil {
		return
	}
	m.lockWaitTimeout.Inc()
}

// Totals is a gathered summary of engine counters for the ops endpoints.
type Totals struct {
	CallsInitiated   float64 `json:"calls_initiated"`
	CallbackTurns    float64 `json:"callback_turns"`
	ReportsDelivered float64 `json:"reports_delivered"`
	ReportsFailed    float64 `json:"reports_failed"`
}

// GatherTotals sums the engine counter families from a Prometheus gatherer.
// Unknown families are skipped so it stays usable with the default registry.
func GatherTotals(g prometheus.Gatherer) (Totals, error) {
	var out Totals
	if g == nil {
		return out, nil
	}
	families, err := g.Gather()
	if err != nil {
		return out, err
	}
	for _, fam := range families {
		name := fam.GetName()
		if !strings.HasPrefix(name, "mangwale_voice_") {
			continue
		}
		switch name {
		case "mangwale_voice_calls_initiated_total":
			out.CallsInitiated += sumCounters(fam.GetMetric(), nil)
		case "mangwale_voice_callback_turns_total":
			out.CallbackTurns += sumCounters(fam.GetMetric(), nil)
		case "mangwale_voice_outcome_reports_total":
			out.ReportsDelivered += sumCounters(fam.GetMetric(), func(m *dto.Metric) bool {
				return hasLabel(m, "result", "delivered")
			})
			out.ReportsFailed += sumCounters(fam.GetMetric(), func(m *dto.Metric) bool {
				return hasLabel(m, "result", "dead_letter") || hasLabel(m, "result", "dropped")
			})
		}
	}
	return out, nil
}

func sumCounters(metrics []*dto.Metric, keep func(*dto.Metric) bool) float64 {
	var total float64
	for _, metric := range metrics {
		if keep != nil && !keep(metric) {
			continue
		}
		if c := metric.GetCounter(); c != nil {
			total += c.GetValue()
		}
	}
	return total
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
