// Package metrics exposes prometheus counters for the authority, the gateway
// and protected services. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rolepass"

type Metrics struct {
	registry      *prometheus.Registry
	logins        *prometheus.CounterVec
	exchanges     *prometheus.CounterVec
	callbacks     *prometheus.CounterVec
	validations   *prometheus.CounterVec
	sweptEntries  *prometheus.CounterVec
	sweepFailures *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "login_attempts_total",
			Help:      "Login attempts by final state.",
		}, []string{"state"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "code_exchanges_total",
			Help:      "Token endpoint requests by outcome.",
		}, []string{"outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "callbacks_total",
			Help:      "Authorization callbacks by outcome.",
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "token_validations_total",
			Help:      "Bearer token validations by outcome.",
		}, []string{"outcome"}),
		sweptEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ephemeral",
			Name:      "swept_entries_total",
			Help:      "Expired entries removed by the sweeper.",
		}, []string{"store"}),
		sweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ephemeral",
			Name:      "sweep_failures_total",
			Help:      "Sweeps that returned an error.",
		}, []string{"store"}),
	}
	m.registry.MustRegister(
		m.logins,
		m.exchanges,
		m.callbacks,
		m.validations,
		m.sweptEntries,
		m.sweepFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) LoginAttempt(state string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(state).Inc()
}

func (m *Metrics) CodeExchange(outcome string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Validation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

// Sweep matches ephemeral.SweepObserver.
func (m *Metrics) Sweep(store string, removed int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepFailures.WithLabelValues(store).Inc()
		return
	}
	m.sweptEntries.WithLabelValues(store).Add(float64(removed))
}
