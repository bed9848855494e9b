// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the credsvc application metrics. A nil *Metrics is valid
// and records nothing, so components can run without a registry.
type Metrics struct {
	RPCRequests        *prometheus.CounterVec
	CodesIssued        *prometheus.CounterVec
	HashDuration       prometheus.Histogram
	SupervisorRestarts *prometheus.CounterVec
	SupervisorState    *prometheus.GaugeVec
}

// NewMetrics creates and registers the credsvc metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credsvc_rpc_requests_total",
				Help: "Total number of RPC requests by method and result status",
			},
			[]string{"method", "status"},
		),
		CodesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credsvc_verification_codes_issued_total",
				Help: "Verification code issuance outcomes",
			},
			[]string{"result"},
		),
		HashDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credsvc_hash_duration_seconds",
				Help:    "Time spent deriving bcrypt hashes",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		SupervisorRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credsvc_supervisor_restarts_total",
				Help: "Worker restarts performed by the supervisor",
			},
			[]string{"service"},
		),
		SupervisorState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credsvc_supervisor_service_state",
				Help: "Current lifecycle state of each supervised service (0=starting 1=running 2=exited_clean 3=exited_error 4=restarting 5=failed)",
			},
			[]string{"service"},
		),
	}

	reg.MustRegister(
		m.RPCRequests,
		m.CodesIssued,
		m.HashDuration,
		m.SupervisorRestarts,
		m.SupervisorState,
	)
	return m
}

// ObserveRPC counts one finished RPC.
func (m *Metrics) ObserveRPC(method, status string) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method, status).Inc()
}

// CodeIssued counts one issuance outcome: "new", "existing" or a failure
// reason. "rollback_failed" marks an issue lock left behind after a failed
// send and is counted alongside the failure itself.
func (m *Metrics) CodeIssued(result string) {
	if m == nil {
		return
	}
	m.CodesIssued.WithLabelValues(result).Inc()
}

// ObserveHash records the duration of one hash derivation.
func (m *Metrics) ObserveHash(d time.Duration) {
	if m == nil {
		return
	}
	m.HashDuration.Observe(d.Seconds())
}

// SupervisorRestart counts one restart of service.
func (m *Metrics) SupervisorRestart(service string) {
	if m == nil {
		return
	}
	m.SupervisorRestarts.WithLabelValues(service).Inc()
}

// SetSupervisorState records the numeric lifecycle state of service.
func (m *Metrics) SetSupervisorState(service string, state int) {
	if m == nil {
		return
	}
	m.SupervisorState.WithLabelValues(service).Set(float64(state))
}
