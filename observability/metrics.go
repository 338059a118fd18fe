package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. It satisfies the
// recorder interfaces of the signing, verifier and middleware packages.
type Metrics struct {
	registry      *prometheus.Registry
	verifications *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	signingKeys   prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolegate_token_verifications_total",
			Help: "Token verifications by result (valid or rejection reason).",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolegate_gate_decisions_total",
			Help: "Request gate decisions by outcome and reason.",
		}, []string{"outcome", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolegate_jwks_refresh_total",
			Help: "Signing key refresh attempts by result.",
		}, []string{"result"}),
		signingKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rolegate_signing_keys",
			Help: "Number of signing keys in the active key set.",
		}),
	}

	m.registry.MustRegister(
		m.verifications,
		m.decisions,
		m.refreshes,
		m.signingKeys,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordVerification counts one verifier outcome.
func (m *Metrics) RecordVerification(result string) {
	m.verifications.WithLabelValues(result).Inc()
}

// RecordGateDecision counts one gate decision. Allowed requests use an empty
// reason.
func (m *Metrics) RecordGateDecision(outcome, reason string) {
	m.decisions.WithLabelValues(outcome, reason).Inc()
}

// RecordKeyRefresh counts a refresh attempt; on success the key gauge is set.
func (m *Metrics) RecordKeyRefresh(success bool, keys int) {
	if !success {
		m.refreshes.WithLabelValues("failure").Inc()
		return
	}
	m.refreshes.WithLabelValues("success").Inc()
	m.signingKeys.Set(float64(keys))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
