package estats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "beacon"
	subsystem = "engine"
)

type Stats struct {
	CounterCheckTotal    *prometheus.CounterVec
	CounterShieldedTotal *prometheus.CounterVec
	CounterAssignTotal   *prometheus.CounterVec
	CounterQosDropTotal  prometheus.Counter
	GaugeActionQueueSize prometheus.Gauge
}

func NewEngineStats() *Stats {
	CounterCheckTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "check_total",
		Help:      "Number of shield status checks.",
	}, []string{"result"})

	CounterShieldedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "shielded_total",
		Help:      "Number of alerts shielded.",
	}, []string{"kind"})

	CounterAssignTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "assign_total",
		Help:      "Number of alert assignments.",
	}, []string{"result"})

	CounterQosDropTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "qos_drop_total",
		Help:      "Number of actions dropped by qos.",
	})

	GaugeActionQueueSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "action_queue_size",
		Help:      "The size of action queue.",
	})

	prometheus.MustRegister(
		CounterCheckTotal,
		CounterShieldedTotal,
		CounterAssignTotal,
		CounterQosDropTotal,
		GaugeActionQueueSize,
	)

	return &Stats{
		CounterCheckTotal:    CounterCheckTotal,
		CounterShieldedTotal: CounterShieldedTotal,
		CounterAssignTotal:   CounterAssignTotal,
		CounterQosDropTotal:  CounterQosDropTotal,
		GaugeActionQueueSize: GaugeActionQueueSize,
	}
}
