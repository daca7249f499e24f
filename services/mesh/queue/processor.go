// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue implements the threat queue processor: strict FIFO
// admission with an at-most-one-in-flight invariant, the system's sole
// serialization point.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/notify"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/observability"
)

// QueueBusyError means an event already holds "processing"; the caller
// should try again after it finalizes.
type QueueBusyError struct {
	// ProcessingID is the in-flight event's ID.
	ProcessingID string
}

func (e *QueueBusyError) Error() string {
	return fmt.Sprintf("queue busy: event %s is processing", e.ProcessingID)
}

var _ error = (*QueueBusyError)(nil)

// Synthesizer runs one coordination round for an event.
type Synthesizer interface {
	Synthesize(ctx context.Context, event *datatypes.ThreatEvent) (*datatypes.SynthesisResult, error)
}

// Config controls processing cadence.
type Config struct {
	// TickInterval is the fallback dequeue cadence; enqueues also kick
	// the loop immediately. Default: 5s
	TickInterval time.Duration

	// RetainFinalized is how long a finalized event stays queryable
	// before the tick loop prunes it from the index. Default: 1h
	RetainFinalized time.Duration
}

// DefaultConfig returns the mesh defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:    5 * time.Second,
		RetainFinalized: time.Hour,
	}
}

// Processor serializes threat events through the synthesis engine.
//
// # Description
//
// Events move pending -> processing -> {processed | error}, finalized
// exactly once and never retried automatically: a partially executed
// decision must not repeat its side effects, so re-submission is the
// caller's responsibility via a fresh Enqueue. The head of the FIFO is
// dequeued only while no other event holds "processing".
//
// # Thread Safety
//
// Processor is safe for concurrent use.
type Processor struct {
	engine  Synthesizer
	sink    notify.Sink
	config  Config
	metrics *observability.MeshMetrics
	logger  *slog.Logger

	mu           sync.Mutex
	pending      []*datatypes.ThreatEvent
	events       map[string]*datatypes.ThreatEvent
	processingID string
	started      bool

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewProcessor creates a stopped processor; call Start to run it.
//
// sink may be nil (decisions are then only logged). Zero-value config
// fields fall back to DefaultConfig values.
func NewProcessor(engine Synthesizer, sink notify.Sink, config Config,
	metrics *observability.MeshMetrics, logger *slog.Logger) (*Processor, error) {
	if engine == nil {
		return nil, errors.New("engine must not be nil")
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 5 * time.Second
	}
	if config.RetainFinalized <= 0 {
		config.RetainFinalized = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		engine:  engine,
		sink:    sink,
		config:  config,
		metrics: metrics,
		logger:  logger,
		events:  make(map[string]*datatypes.ThreatEvent),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Enqueue appends an event to the FIFO tail and kicks the loop.
//
// # Description
//
// The event is admitted in pending state; a missing ID is assigned.
// Enqueue never blocks on processing — admission and execution are
// decoupled by the queue.
func (p *Processor) Enqueue(event *datatypes.ThreatEvent) error {
	if event == nil {
		return errors.New("event must not be nil")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	p.mu.Lock()
	if _, dup := p.events[event.ID]; dup {
		p.mu.Unlock()
		return fmt.Errorf("event %s already enqueued", event.ID)
	}
	event.Status = datatypes.ThreatPending
	event.EnqueuedAt = time.Now()
	p.pending = append(p.pending, event)
	p.events[event.ID] = event
	depth := len(p.pending)
	p.mu.Unlock()

	p.metrics.SetQueueDepth(depth)
	p.logger.Debug("threat enqueued", "event_id", event.ID, "depth", depth)

	// Immediate kick; drop if one is already pending.
	select {
	case p.kick <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the processing loop. Calling it twice is a no-op.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.config.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-p.kick:
			case <-ticker.C:
				p.PruneFinalized(time.Now())
			}
			p.drain(ctx)
		}
	}()
}

// Stop halts the loop and waits for an in-flight round to finish.
// Returns immediately when Start was never called.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if started {
			<-p.done
		}
	})
}

// drain processes events until the queue is empty or one is in flight.
func (p *Processor) drain(ctx context.Context) {
	for {
		err := p.ProcessNext(ctx)
		if err != nil {
			var busy *QueueBusyError
			if errors.As(err, &busy) {
				return
			}
			// Hard failures were already captured on the event.
		}
		p.mu.Lock()
		empty := len(p.pending) == 0
		p.mu.Unlock()
		if empty {
			return
		}
	}
}

// ProcessNext dequeues and processes the head event, if any.
//
// # Outputs
//
//   - error: *QueueBusyError while another event holds "processing";
//     the synthesis failure when the head event finalized as error;
//     nil otherwise (including an empty queue).
func (p *Processor) ProcessNext(ctx context.Context) error {
	p.mu.Lock()
	if p.processingID != "" {
		busy := &QueueBusyError{ProcessingID: p.processingID}
		p.mu.Unlock()
		return busy
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return nil
	}
	event := p.pending[0]
	p.pending = p.pending[1:]
	event.Status = datatypes.ThreatProcessing
	p.processingID = event.ID
	depth := len(p.pending)
	p.mu.Unlock()

	p.metrics.SetQueueDepth(depth)
	p.logger.Info("processing threat", "event_id", event.ID, "threat_type", event.ThreatTypeHint)

	result, err := p.engine.Synthesize(ctx, event)

	p.mu.Lock()
	event.FinalizedAt = time.Now()
	if err != nil {
		event.Status = datatypes.ThreatError
		event.Error = err.Error()
	} else {
		event.Status = datatypes.ThreatProcessed
		event.Result = result
	}
	p.processingID = ""
	p.mu.Unlock()

	if err != nil {
		p.metrics.RecordEvent(string(datatypes.ThreatError))
		p.logger.Error("threat synthesis failed", "event_id", event.ID, "error", err)
		return err
	}

	p.metrics.RecordEvent(string(datatypes.ThreatProcessed))
	p.logger.Info("threat processed",
		"event_id", event.ID,
		"decision", result.Decision,
		"fused_score", result.FusedScore)

	p.handoff(event, result)
	return nil
}

// handoff notifies collaborators of a decision, fire and forget.
func (p *Processor) handoff(event *datatypes.ThreatEvent, result *datatypes.SynthesisResult) {
	if p.sink == nil {
		return
	}

	severity := "info"
	switch result.Decision {
	case datatypes.DecisionWarn:
		severity = "warning"
	case datatypes.DecisionBlock:
		severity = "critical"
	}

	go p.sink.Notify(notify.Notification{
		Title:    fmt.Sprintf("Threat %s: %s", result.Decision, event.ThreatTypeHint),
		Message:  fmt.Sprintf("fused score %.2f, confidence %.2f", result.FusedScore, result.FusedConfidence),
		Severity: severity,
	})
}

// Event returns a copy of the tracked event with the given ID.
func (p *Processor) Event(id string) (datatypes.ThreatEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	event, ok := p.events[id]
	if !ok {
		return datatypes.ThreatEvent{}, false
	}
	return *event, true
}

// PruneFinalized drops finalized events whose retention window elapsed,
// returning how many were removed. Pending and processing events are
// never touched; a pruned ID may be enqueued again.
//
// Exposed for deterministic testing; production pruning runs on the
// ticker started by Start.
func (p *Processor) PruneFinalized(now time.Time) int {
	cutoff := now.Add(-p.config.RetainFinalized)

	p.mu.Lock()
	defer p.mu.Unlock()

	pruned := 0
	for id, event := range p.events {
		if event.Status.Final() && !event.FinalizedAt.IsZero() && event.FinalizedAt.Before(cutoff) {
			delete(p.events, id)
			pruned++
		}
	}
	return pruned
}

// Depth returns the number of pending events.
func (p *Processor) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Processing returns the in-flight event ID, or "" when idle.
func (p *Processor) Processing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processingID
}
