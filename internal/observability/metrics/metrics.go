package metrics

import "github.com/prometheus/client_golang/prometheus"

// InterviewMetrics exposes counters/histograms for the interview session lifecycle.
type InterviewMetrics struct {
	vendorCalls    *prometheus.CounterVec
	vendorLatency  *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	activeSessions prometheus.Gauge
	orphansEnded   *prometheus.CounterVec
}

func NewInterviewMetrics(reg prometheus.Registerer) *InterviewMetrics {
	m := &InterviewMetrics{
		vendorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mockinterview",
			Subsystem: "tavus",
			Name:      "calls_total",
			Help:      "Tavus conversation API calls by operation and outcome",
		}, []string{"op", "outcome"}),
		vendorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mockinterview",
			Subsystem: "tavus",
			Name:      "call_latency_seconds",
			Help:      "Latency of Tavus conversation API calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mockinterview",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Interview session state transitions",
		}, []string{"from", "to"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mockinterview",
			Subsystem: "session",
			Name:      "active",
			Help:      "Interview sessions currently holding a live conversation",
		}),
		orphansEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mockinterview",
			Subsystem: "ledger",
			Name:      "orphans_ended_total",
			Help:      "Conversations ended by the orphan sweeper",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.vendorCalls, m.vendorLatency, m.transitions, m.activeSessions, m.orphansEnded)
	return m
}

// ObserveCall records one vendor call. outcome is "ok" or the error kind.
func (m *InterviewMetrics) ObserveCall(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.vendorCalls.WithLabelValues(op, outcome).Inc()
	m.vendorLatency.WithLabelValues(op).Observe(seconds)
}

func (m *InterviewMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	switch to {
	case "active":
		m.activeSessions.Inc()
	case "ending":
		m.activeSessions.Dec()
	}
}

func (m *InterviewMetrics) ObserveOrphanEnded(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.orphansEnded.WithLabelValues(outcome).Inc()
}
