package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 业务计数器，nil 时不记录
type Metrics struct {
	Validations *prometheus.CounterVec
	Activations prometheus.Counter
	Logins      *prometheus.CounterVec
	Challenges  *prometheus.CounterVec
}

// NewMetrics 在 reg 上注册计数器，reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "armt",
			Name:      "license_validations_total",
			Help:      "License validation requests by outcome.",
		}, []string{"result"}),
		Activations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "armt",
			Name:      "license_activations_total",
			Help:      "Licenses bound to a device for the first time.",
		}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "armt",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		Challenges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "armt",
			Name:      "twofactor_challenges_total",
			Help:      "Two-factor challenge events.",
		}, []string{"event"}),
	}
}

func (m *Metrics) validation(result string) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(result).Inc()
}

func (m *Metrics) activation() {
	if m == nil {
		return
	}
	m.Activations.Inc()
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) challenge(event string) {
	if m == nil {
		return
	}
	m.Challenges.WithLabelValues(event).Inc()
}
