// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthesis implements the score synthesis engine: it fans one
// threat event out to the available providers, settles all outcomes
// under per-call timeouts, and fuses the results into a decision.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/breaker"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/bus"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/cache"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/observability"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/providers"
)

// ErrAllSourcesFailed means every attempted provider failed; the queue
// processor finalizes the event as an error in that case. Zero
// attempted providers (all breakers open) is NOT this error: the round
// settles with a no-corroboration allow instead.
var ErrAllSourcesFailed = errors.New("all attempted sources failed")

// Thresholds are the configurable decision boundaries.
//
// A fused score strictly above Block blocks; strictly above Warn warns;
// anything else allows.
type Thresholds struct {
	Block float64 `yaml:"block" json:"block"`
	Warn  float64 `yaml:"warn" json:"warn"`
}

// DefaultThresholds returns the mesh defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Block: 0.7, Warn: 0.4}
}

// Config controls the engine's timing and decision boundaries.
type Config struct {
	// ProviderTimeout is the per-call budget. A call past this deadline
	// is abandoned and counted as a breaker failure; the provider may
	// still finish in the background with its result discarded.
	// Default: 10s
	ProviderTimeout time.Duration

	// Thresholds are the decision boundaries. Zero values fall back to
	// DefaultThresholds.
	Thresholds Thresholds
}

// DefaultConfig returns the mesh defaults.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout: 10 * time.Second,
		Thresholds:      DefaultThresholds(),
	}
}

// Engine transforms one ThreatEvent into one SynthesisResult.
//
// # Description
//
// For each round the engine determines the eligible providers (skipping
// any whose breaker is currently open), announces the round on the bus,
// then dispatches all eligible calls concurrently. Each call consults
// the fingerprint cache first and falls through to a live call on miss;
// live calls run inside the provider's breaker and under the per-call
// timeout. Outcomes settle independently: one provider's timeout or
// error never aborts the others. Results fuse by maximum — a single
// strongly corroborating source must not be diluted by an uncertain
// one.
//
// # Thread Safety
//
// Engine is safe for concurrent use, though the queue processor only
// ever runs one round at a time.
type Engine struct {
	providers []providers.Provider
	breakers  *breaker.Manager
	cache     *cache.Cache
	mesh      *bus.Bus
	config    Config
	metrics   *observability.MeshMetrics
	logger    *slog.Logger

	thresholdMu sync.RWMutex
	thresholds  Thresholds
}

// SetThresholds swaps the decision boundaries at runtime (the config
// hot-reload path). Invalid values are ignored field by field.
func (e *Engine) SetThresholds(t Thresholds) {
	e.thresholdMu.Lock()
	defer e.thresholdMu.Unlock()

	if t.Block > 0 {
		e.thresholds.Block = t.Block
	}
	if t.Warn > 0 {
		e.thresholds.Warn = t.Warn
	}
}

// Thresholds returns the active decision boundaries.
func (e *Engine) Thresholds() Thresholds {
	e.thresholdMu.RLock()
	defer e.thresholdMu.RUnlock()
	return e.thresholds
}

// NewEngine creates the engine.
//
// # Inputs
//
//   - provs: Providers to fan out to, in a stable order (reasoning
//     entries follow this order).
//   - breakers: Breaker manager guarding live calls. Must not be nil.
//   - store: Fingerprint cache. Must not be nil.
//   - mesh: Bus for round announcements. May be nil in tests.
//   - config: Timing and thresholds; zero values get defaults.
//   - metrics: Mesh metrics. May be nil.
//   - logger: Structured logger. Must not be nil.
func NewEngine(provs []providers.Provider, breakers *breaker.Manager, store *cache.Cache,
	mesh *bus.Bus, config Config, metrics *observability.MeshMetrics, logger *slog.Logger) (*Engine, error) {
	if breakers == nil {
		return nil, errors.New("breakers must not be nil")
	}
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 10 * time.Second
	}
	if config.Thresholds.Block <= 0 {
		config.Thresholds.Block = DefaultThresholds().Block
	}
	if config.Thresholds.Warn <= 0 {
		config.Thresholds.Warn = DefaultThresholds().Warn
	}

	return &Engine{
		providers:  provs,
		breakers:   breakers,
		cache:      store,
		mesh:       mesh,
		config:     config,
		metrics:    metrics,
		logger:     logger,
		thresholds: config.Thresholds,
	}, nil
}

// sourceOutcome is one provider's settled result within a round.
type sourceOutcome struct {
	result    *datatypes.ProviderResult
	err       error
	attempted bool // false when skipped by an open breaker
	cached    bool
}

// Synthesize runs one coordination round for the event.
//
// # Outputs
//
//   - *datatypes.SynthesisResult: Always non-nil on a nil error.
//   - error: ErrAllSourcesFailed when at least one provider was
//     attempted and every attempt failed; nil otherwise.
func (e *Engine) Synthesize(ctx context.Context, event *datatypes.ThreatEvent) (*datatypes.SynthesisResult, error) {
	start := time.Now()
	coordinationID := uuid.NewString()

	tracer := otel.Tracer("sentrymesh/synthesis")
	ctx, span := tracer.Start(ctx, "synthesis.round")
	span.SetAttributes(
		attribute.String("coordination.id", coordinationID),
		attribute.String("threat.type", event.ThreatTypeHint),
	)
	defer span.End()

	e.announce(coordinationID, event)

	// Step 1: eligibility. Providers behind an open breaker (cooldown
	// not yet elapsed) are skipped outright, not counted as failures.
	eligible := make([]providers.Provider, 0, len(e.providers))
	outcomes := make(map[string]*sourceOutcome, len(e.providers))
	for _, p := range e.providers {
		if !e.breakers.Available(p.Name()) {
			outcomes[p.Name()] = &sourceOutcome{}
			e.metrics.RecordProviderCall(p.Name(), observability.OutcomeCircuitOpen)
			e.logger.Debug("provider skipped, circuit open", "provider", p.Name())
			continue
		}
		eligible = append(eligible, p)
	}

	// Step 2+3: concurrent dispatch, settle-all.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range eligible {
		g.Go(func() error {
			outcome := e.consult(gctx, p, event)
			mu.Lock()
			outcomes[p.Name()] = outcome
			mu.Unlock()
			return nil // settle-all: failures are data, not aborts
		})
	}
	// Workers never return errors; Wait only fences completion.
	_ = g.Wait()

	// Step 4: fusion.
	result := e.fuse(coordinationID, outcomes)
	result.DurationMs = time.Since(start).Milliseconds()

	e.metrics.RecordDecision(string(result.Decision))
	e.metrics.RecordSynthesisDuration(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Float64("fused.score", result.FusedScore),
		attribute.String("decision", string(result.Decision)),
	)

	attempted, failed := 0, 0
	for _, o := range outcomes {
		if o.attempted {
			attempted++
			if o.err != nil {
				failed++
			}
		}
	}
	if attempted > 0 && failed == attempted {
		return result, fmt.Errorf("%w: %d of %d", ErrAllSourcesFailed, failed, attempted)
	}
	return result, nil
}

// consult answers from the cache or falls through to a breaker-guarded
// live call under the per-call timeout.
func (e *Engine) consult(ctx context.Context, p providers.Provider, event *datatypes.ThreatEvent) *sourceOutcome {
	key := cache.Fingerprint(event.Content, event.ThreatTypeHint, event.Context)
	if cached, ok := e.cache.Get(key); ok {
		e.metrics.RecordProviderCall(p.Name(), observability.OutcomeCacheHit)
		return &sourceOutcome{result: &cached, attempted: true, cached: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.ProviderTimeout)
	defer cancel()

	callStart := time.Now()
	var result *datatypes.ProviderResult
	err := e.breakers.Execute(p.Name(), func() error {
		r, callErr := p.Analyze(callCtx, event.Content, event.ThreatTypeHint, event.Context)
		if callErr != nil {
			return callErr
		}
		if callCtx.Err() != nil {
			// The deadline fired while the provider was finishing; the
			// caller already abandoned this call, discard the result.
			return &providers.ProviderTimeoutError{Provider: p.Name(), Timeout: e.config.ProviderTimeout}
		}
		result = r
		return nil
	})
	e.metrics.RecordProviderLatency(p.Name(), time.Since(callStart).Seconds())

	if err != nil {
		outcome := observability.OutcomeError
		var timeoutErr *providers.ProviderTimeoutError
		if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
			outcome = observability.OutcomeTimeout
		}
		e.metrics.RecordProviderCall(p.Name(), outcome)
		e.logger.Warn("provider abstained", "provider", p.Name(), "error", err)
		return &sourceOutcome{err: err, attempted: true}
	}

	e.metrics.RecordProviderCall(p.Name(), observability.OutcomeSuccess)

	// Side effect: successful high-confidence results feed the cache;
	// Put enforces the acceptance cutoff.
	e.cache.Put(key, *result)

	return &sourceOutcome{result: result, attempted: true}
}

// fuse combines settled outcomes into a decision.
func (e *Engine) fuse(coordinationID string, outcomes map[string]*sourceOutcome) *datatypes.SynthesisResult {
	result := &datatypes.SynthesisResult{
		CoordinationID: coordinationID,
		Sources:        make(map[string]*datatypes.ProviderResult, len(outcomes)),
	}

	corroborated := 0
	// Iterate in provider order so reasoning entries are deterministic.
	for _, p := range e.providers {
		outcome, ok := outcomes[p.Name()]
		if !ok {
			continue
		}
		if outcome.result == nil {
			result.Sources[p.Name()] = nil
			continue
		}
		result.Sources[p.Name()] = outcome.result
		corroborated++

		if outcome.result.ThreatScore > result.FusedScore {
			result.FusedScore = outcome.result.ThreatScore
		}
		if outcome.result.Confidence > result.FusedConfidence {
			result.FusedConfidence = outcome.result.Confidence
		}

		entry := fmt.Sprintf("%s scored %.2f with confidence %.2f",
			p.Name(), outcome.result.ThreatScore, outcome.result.Confidence)
		if outcome.cached {
			entry += " (cached)"
		}
		result.Reasoning = append(result.Reasoning, entry)
	}

	if result.FusedConfidence > 1.0 {
		result.FusedConfidence = 1.0
	}
	if corroborated == 0 {
		result.FusedScore = 0
		result.FusedConfidence = 0
		result.Reasoning = []string{"no corroboration"}
	}

	thresholds := e.Thresholds()
	switch {
	case result.FusedScore > thresholds.Block:
		result.Decision = datatypes.DecisionBlock
	case result.FusedScore > thresholds.Warn:
		result.Decision = datatypes.DecisionWarn
	default:
		result.Decision = datatypes.DecisionAllow
	}

	return result
}

// announce broadcasts the coordination round on the bus, fire and
// forget. A mesh with no recipients is normal at startup.
func (e *Engine) announce(coordinationID string, event *datatypes.ThreatEvent) {
	if e.mesh == nil {
		return
	}

	env, err := datatypes.NewEnvelope(
		e.mesh.Source(),
		datatypes.EnvelopeTarget{Broadcast: true},
		datatypes.MessageAutonomousCoordination,
		map[string]string{
			"coordinationId": coordinationID,
			"eventId":        event.ID,
			"threatType":     event.ThreatTypeHint,
		},
	)
	if err != nil {
		e.logger.Warn("round announcement failed", "error", err)
		return
	}
	e.mesh.Broadcast(env)
}
