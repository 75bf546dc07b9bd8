package validator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes validation cycle counters on the local API.
type Metrics struct {
	Cycles  *prometheus.CounterVec
	Tampers prometheus.Counter
}

// NewMetrics creates and registers the validation metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxlic",
			Subsystem: "validator",
			Name:      "cycles_total",
			Help:      "Validation cycles by resulting license status.",
		}, []string{"status"}),
		Tampers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boxlic",
			Subsystem: "validator",
			Name:      "tamper_detections_total",
			Help:      "Local state tampering detections.",
		}),
	}
	reg.MustRegister(m.Cycles, m.Tampers)
	return m
}

func (m *Metrics) observeCycle(status string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(status).Inc()
}

func (m *Metrics) observeTamper() {
	if m == nil {
		return
	}
	m.Tampers.Inc()
}
