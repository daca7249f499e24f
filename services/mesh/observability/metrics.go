// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the mesh service.
//
// # Description
//
// Metrics cover the threat pipeline end to end:
//   - Queue depth and event outcomes
//   - Provider call outcomes and latency
//   - Circuit breaker state transitions
//   - Cache hit/miss counters
//   - Synthesis decisions
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "sentrymesh"

// Subsystem for mesh pipeline metrics
const meshSubsystem = "mesh"

// MeshMetrics holds all Prometheus metrics for the threat pipeline.
//
// Initialize once at startup via InitMetrics; pass the instance to the
// components that record into it. A nil *MeshMetrics is safe to call —
// every method no-ops — so tests can skip metrics wiring entirely.
type MeshMetrics struct {
	// EventsTotal counts finalized threat events.
	// Labels: status (processed, error)
	EventsTotal *prometheus.CounterVec

	// QueueDepth tracks pending events in the threat queue.
	QueueDepth prometheus.Gauge

	// ProviderCallsTotal counts provider call outcomes.
	// Labels: provider, outcome (success, error, timeout, circuit_open, cache_hit)
	ProviderCallsTotal *prometheus.CounterVec

	// ProviderLatencySeconds measures live provider call latency.
	// Labels: provider
	ProviderLatencySeconds *prometheus.HistogramVec

	// BreakerTransitionsTotal counts circuit breaker state changes.
	// Labels: service, to_state
	BreakerTransitionsTotal *prometheus.CounterVec

	// DecisionsTotal counts synthesis decisions.
	// Labels: decision (allow, warn, block)
	DecisionsTotal *prometheus.CounterVec

	// SynthesisDurationSeconds measures full coordination round latency.
	SynthesisDurationSeconds prometheus.Histogram
}

// InitMetrics creates and registers all mesh metrics.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration on the default
//     registry).
func InitMetrics() *MeshMetrics {
	return &MeshMetrics{
		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: meshSubsystem,
				Name:      "events_total",
				Help:      "Finalized threat events by terminal status",
			},
			[]string{"status"},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: meshSubsystem,
				Name:      "queue_depth",
				Help:      "Pending events in the threat queue",
			},
		),

		ProviderCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: meshSubsystem,
				Name:      "provider_calls_total",
				Help:      "Provider call outcomes by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		ProviderLatencySeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: meshSubsystem,
				Name:      "provider_latency_seconds",
				Help:      "Live provider call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"provider"},
		),

		BreakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: meshSubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions by service and new state",
			},
			[]string{"service", "to_state"},
		),

		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: meshSubsystem,
				Name:      "decisions_total",
				Help:      "Synthesis decisions by outcome",
			},
			[]string{"decision"},
		),

		SynthesisDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: meshSubsystem,
				Name:      "synthesis_duration_seconds",
				Help:      "Full coordination round latency in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
	}
}

// =============================================================================
// Outcome Labels
// =============================================================================

// Outcome labels a provider call result for metrics.
type Outcome string

const (
	// OutcomeSuccess means the provider returned a result.
	OutcomeSuccess Outcome = "success"

	// OutcomeError means the provider failed with a transport or
	// backend error.
	OutcomeError Outcome = "error"

	// OutcomeTimeout means the call exceeded its deadline.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeCircuitOpen means the breaker rejected the call.
	OutcomeCircuitOpen Outcome = "circuit_open"

	// OutcomeCacheHit means the fingerprint cache answered.
	OutcomeCacheHit Outcome = "cache_hit"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordEvent records a finalized threat event.
func (m *MeshMetrics) RecordEvent(status string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth updates the pending-queue gauge.
func (m *MeshMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordProviderCall records one provider call outcome.
func (m *MeshMetrics) RecordProviderCall(provider string, outcome Outcome) {
	if m == nil {
		return
	}
	m.ProviderCallsTotal.WithLabelValues(provider, string(outcome)).Inc()
}

// RecordProviderLatency records a live call's latency.
func (m *MeshMetrics) RecordProviderLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderLatencySeconds.WithLabelValues(provider).Observe(seconds)
}

// RecordBreakerTransition records a circuit state change.
func (m *MeshMetrics) RecordBreakerTransition(service, toState string) {
	if m == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(service, toState).Inc()
}

// RecordDecision records a synthesis decision.
func (m *MeshMetrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordSynthesisDuration records a coordination round's wall time.
func (m *MeshMetrics) RecordSynthesisDuration(seconds float64) {
	if m == nil {
		return
	}
	m.SynthesisDurationSeconds.Observe(seconds)
}
