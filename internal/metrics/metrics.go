// Package metrics собирает счетчики сервиса для Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics допускает nil-получатель: без метрик методы ничего не делают
type Metrics struct {
	registry         *prometheus.Registry
	submitted        *prometheus.CounterVec
	decided          *prometheus.CounterVec
	decisionConflict *prometheus.CounterVec
	callbackFailed   prometheus.Counter
	bankLocked       *prometheus.CounterVec
	webSessions      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esbo",
			Name:      "requests_submitted_total",
			Help:      "Accepted customer requests by type.",
		}, []string{"type"}),
		decided: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esbo",
			Name:      "requests_decided_total",
			Help:      "Operator decisions applied, by type, status and origin channel.",
		}, []string{"type", "status", "origin"}),
		decisionConflict: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esbo",
			Name:      "decision_conflicts_total",
			Help:      "Decisions rejected because the request was already resolved.",
		}, []string{"origin"}),
		callbackFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "esbo",
			Name:      "balance_callback_failures_total",
			Help:      "Balance callbacks that could not be delivered.",
		}),
		bankLocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esbo",
			Name:      "bank_locks_total",
			Help:      "Bank and method lock transitions by reason.",
		}, []string{"reason"}),
		webSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "esbo",
			Name:      "web_sessions",
			Help:      "Connected dashboard websocket sessions.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Submitted(kind string) {
	if m != nil {
		m.submitted.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Decided(kind, status, origin string) {
	if m != nil {
		m.decided.WithLabelValues(kind, status, origin).Inc()
	}
}

func (m *Metrics) DecisionConflict(origin string) {
	if m != nil {
		m.decisionConflict.WithLabelValues(origin).Inc()
	}
}

func (m *Metrics) CallbackFailed() {
	if m != nil {
		m.callbackFailed.Inc()
	}
}

func (m *Metrics) BankLocked(reason string) {
	if m != nil {
		m.bankLocked.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.webSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.webSessions.Dec()
	}
}
