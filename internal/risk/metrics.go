package risk

import "github.com/prometheus/client_golang/prometheus"

// Metrics 为熔断跟踪器的指标。
type Metrics struct {
	active   prometheus.Gauge
	triggers prometheus.Counter
}

// NewMetrics 创建指标；reg 为 nil 时不注册。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "policy",
			Name:      "hardstop_active",
			Help:      "1 while the hard stop is active.",
		}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "policy",
			Name:      "hardstop_triggers_total",
			Help:      "Transitions of the hard stop from inactive to active.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.active, m.triggers)
	}
	return m
}
