// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the auth counters. It implements auth.Recorder,
// session.OpRecorder and gate.DecisionRecorder.
type Metrics struct {
	LoginsTotal         *prometheus.CounterVec
	RegistrationsTotal  *prometheus.CounterVec
	SessionOpsTotal     *prometheus.CounterVec
	GateDecisionsTotal  *prometheus.CounterVec
	PasswordResetsTotal *prometheus.CounterVec
	SessionsPurgedTotal prometheus.Counter
}

// NewMetrics creates and registers the auth metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_logins_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_registrations_total",
				Help: "Total number of registration attempts by result",
			},
			[]string{"result"},
		),
		SessionOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_session_ops_total",
				Help: "Total number of session registry operations by operation and result",
			},
			[]string{"op", "result"},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_gate_decisions_total",
				Help: "Total number of access gate decisions",
			},
			[]string{"decision"},
		),
		PasswordResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_password_resets_total",
				Help: "Total number of password reset steps by stage and result",
			},
			[]string{"stage", "result"},
		),
		SessionsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessionauth_sessions_purged_total",
				Help: "Total number of expired sessions removed by the sweeper",
			},
		),
	}

	reg.MustRegister(
		m.LoginsTotal,
		m.RegistrationsTotal,
		m.SessionOpsTotal,
		m.GateDecisionsTotal,
		m.PasswordResetsTotal,
		m.SessionsPurgedTotal,
	)
	return m
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(result string) {
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// RecordRegistration counts a registration attempt.
func (m *Metrics) RecordRegistration(result string) {
	m.RegistrationsTotal.WithLabelValues(result).Inc()
}

// RecordPasswordReset counts one reset step.
func (m *Metrics) RecordPasswordReset(stage, result string) {
	m.PasswordResetsTotal.WithLabelValues(stage, result).Inc()
}

// RecordSessionOp counts a registry operation.
func (m *Metrics) RecordSessionOp(op, result string) {
	m.SessionOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordGateDecision counts a gate decision.
func (m *Metrics) RecordGateDecision(decision string) {
	m.GateDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordSessionsPurged adds n removed sessions.
func (m *Metrics) RecordSessionsPurged(n int64) {
	if n > 0 {
		m.SessionsPurgedTotal.Add(float64(n))
	}
}
