package metrics

import "github.com/prometheus/client_golang/prometheus"

// Calendar exposes counters/histograms for the scheduling engine. All methods
// are safe on a nil receiver so packages can run uninstrumented in tests.
type Calendar struct {
	loadsTotal        *prometheus.CounterVec
	movesTotal        *prometheus.CounterVec
	dropsTotal        *prometheus.CounterVec
	availabilityTotal *prometheus.CounterVec
	odooLatency       *prometheus.HistogramVec
}

func NewCalendar(reg prometheus.Registerer) *Calendar {
	m := &Calendar{
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agialcal",
			Subsystem: "store",
			Name:      "loads_total",
			Help:      "Event store loads by kind (day, week) and outcome",
		}, []string{"kind", "outcome"}),
		movesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agialcal",
			Subsystem: "store",
			Name:      "moves_total",
			Help:      "Optimistic event moves by server outcome",
		}, []string{"outcome"}),
		dropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agialcal",
			Subsystem: "dragdrop",
			Name:      "drops_total",
			Help:      "Drag gestures by final state",
		}, []string{"result"}),
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agialcal",
			Subsystem: "availability",
			Name:      "requests_total",
			Help:      "Availability lookups by outcome (fresh, cached, stale, failed)",
		}, []string{"outcome"}),
		odooLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agialcal",
			Subsystem: "odoo",
			Name:      "request_seconds",
			Help:      "Latency of calls to the Odoo calendar endpoints",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.loadsTotal, m.movesTotal, m.dropsTotal, m.availabilityTotal, m.odooLatency)
	return m
}

func (m *Calendar) ObserveLoad(kind, outcome string) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Calendar) ObserveMove(outcome string) {
	if m == nil {
		return
	}
	m.movesTotal.WithLabelValues(outcome).Inc()
}

func (m *Calendar) ObserveDrop(result string) {
	if m == nil {
		return
	}
	m.dropsTotal.WithLabelValues(result).Inc()
}

func (m *Calendar) ObserveAvailability(outcome string) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(outcome).Inc()
}

func (m *Calendar) ObserveOdooRequest(operation string, err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.odooLatency.WithLabelValues(operation, outcome).Observe(seconds)
}
