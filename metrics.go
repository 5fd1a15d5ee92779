package catman

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes election counters. A nil *Metrics records nothing.
type Metrics struct {
	Cycles              prometheus.Counter
	RaceRetries         prometheus.Counter
	PredecessorRemovals prometheus.Counter
	Terminations        *prometheus.CounterVec
	Leader              prometheus.Gauge
}

// NewMetrics registers election metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "catman",
			Subsystem: "election",
			Name:      "cycles_total",
			Help:      "Election cycles run, including race retries.",
		}),
		RaceRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "catman",
			Subsystem: "election",
			Name:      "race_retries_total",
			Help:      "Predecessors that vanished before their watch could be armed.",
		}),
		PredecessorRemovals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "catman",
			Subsystem: "election",
			Name:      "predecessor_removals_total",
			Help:      "Removal notifications for the watched predecessor.",
		}),
		Terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catman",
			Subsystem: "election",
			Name:      "terminations_total",
			Help:      "Sessions that left the election, by reason.",
		}, []string{"reason"}),
		Leader: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "catman",
			Subsystem: "election",
			Name:      "is_leader",
			Help:      "1 while this participant holds leadership.",
		}),
	}
}

func (m *Metrics) cycle() {
	if m != nil {
		m.Cycles.Inc()
	}
}

func (m *Metrics) raceRetry() {
	if m != nil {
		m.RaceRetries.Inc()
	}
}

func (m *Metrics) predecessorRemoved() {
	if m != nil {
		m.PredecessorRemovals.Inc()
	}
}

func (m *Metrics) setLeader(leader bool) {
	if m == nil {
		return
	}
	if leader {
		m.Leader.Set(1)
	} else {
		m.Leader.Set(0)
	}
}

func (m *Metrics) terminated(reason string) {
	if m != nil {
		m.Terminations.WithLabelValues(reason).Inc()
	}
}
