// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/notify"
)

// MockSynthesizer is a configurable Synthesizer for tests.
type MockSynthesizer struct {
	Result *datatypes.SynthesisResult
	Err    error

	// Block, when non-nil, is closed by the test to release an
	// in-flight Synthesize call.
	Block chan struct{}

	mu        sync.Mutex
	processed []string
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, event *datatypes.ThreatEvent) (*datatypes.SynthesisResult, error) {
	if m.Block != nil {
		<-m.Block
	}
	m.mu.Lock()
	m.processed = append(m.processed, event.ID)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &datatypes.SynthesisResult{
		Decision:        datatypes.DecisionAllow,
		FusedScore:      0.1,
		FusedConfidence: 0.9,
	}, nil
}

func (m *MockSynthesizer) Processed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.processed))
	copy(out, m.processed)
	return out
}

var _ Synthesizer = (*MockSynthesizer)(nil)

func newTestProcessor(t *testing.T, engine Synthesizer, sink notify.Sink) *Processor {
	t.Helper()
	p, err := NewProcessor(engine, sink, Config{TickInterval: time.Hour}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func event(id string) *datatypes.ThreatEvent {
	return &datatypes.ThreatEvent{ID: id, Content: "payload " + id, ThreatTypeHint: "phishing"}
}

func TestProcessor_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("assigns an ID when missing", func(t *testing.T) {
		p := newTestProcessor(t, &MockSynthesizer{}, nil)
		e := &datatypes.ThreatEvent{Content: "something"}
		if err := p.Enqueue(e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.ID == "" {
			t.Error("expected an assigned ID")
		}
		if e.Status != datatypes.ThreatPending {
			t.Errorf("expected pending, got %s", e.Status)
		}
	})

	t.Run("rejects a duplicate ID", func(t *testing.T) {
		p := newTestProcessor(t, &MockSynthesizer{}, nil)
		if err := p.Enqueue(event("dup")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := p.Enqueue(event("dup")); err == nil {
			t.Error("expected a duplicate enqueue to fail")
		}
	})

	t.Run("rejects nil", func(t *testing.T) {
		p := newTestProcessor(t, &MockSynthesizer{}, nil)
		if err := p.Enqueue(nil); err == nil {
			t.Error("expected an error for a nil event")
		}
	})
}

func TestProcessor_FIFO(t *testing.T) {
	t.Parallel()

	engine := &MockSynthesizer{}
	p := newTestProcessor(t, engine, nil)
	for _, id := range []string{"first", "second", "third"} {
		if err := p.Enqueue(event(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	for i := 0; i < 3; i++ {
		if err := p.ProcessNext(context.Background()); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	want := []string{"first", "second", "third"}
	got := engine.Processed()
	if len(got) != 3 {
		t.Fatalf("expected 3 processed, got %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected position %d to be %s, got %s", i, want[i], got[i])
		}
	}
}

func TestProcessor_SingleFlight(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	engine := &MockSynthesizer{Block: block}
	p := newTestProcessor(t, engine, nil)

	if err := p.Enqueue(event("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := p.Enqueue(event("b")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- p.ProcessNext(context.Background()) }()

	// Wait for "a" to hold the processing slot.
	deadline := time.After(time.Second)
	for p.Processing() == "" {
		select {
		case <-deadline:
			t.Fatal("event a never started processing")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// "b" must stay pending while "a" is in flight.
	var busy *QueueBusyError
	if err := p.ProcessNext(context.Background()); !errors.As(err, &busy) {
		t.Fatalf("expected QueueBusyError, got %v", err)
	}
	if busy.ProcessingID != "a" {
		t.Errorf("expected the busy error to name event a, got %s", busy.ProcessingID)
	}
	if got, _ := p.Event("b"); got.Status != datatypes.ThreatPending {
		t.Errorf("expected b pending, got %s", got.Status)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("processing a failed: %v", err)
	}
	if err := p.ProcessNext(context.Background()); err != nil {
		t.Fatalf("processing b failed: %v", err)
	}
	if got, _ := p.Event("b"); got.Status != datatypes.ThreatProcessed {
		t.Errorf("expected b processed, got %s", got.Status)
	}
}

func TestProcessor_ErrorFinalizesWithoutRetry(t *testing.T) {
	t.Parallel()

	engine := &MockSynthesizer{Err: errors.New("every source failed")}
	p := newTestProcessor(t, engine, nil)
	if err := p.Enqueue(event("doomed")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := p.ProcessNext(context.Background()); err == nil {
		t.Fatal("expected the synthesis failure to surface")
	}

	got, ok := p.Event("doomed")
	if !ok {
		t.Fatal("expected the event to remain tracked")
	}
	if got.Status != datatypes.ThreatError {
		t.Errorf("expected error status, got %s", got.Status)
	}
	if got.Error == "" {
		t.Error("expected the failure message to be captured on the event")
	}
	if got.FinalizedAt.IsZero() {
		t.Error("expected a finalization timestamp")
	}

	// No automatic retry: the queue is empty and nothing reprocesses.
	if p.Depth() != 0 {
		t.Errorf("expected an empty queue, got depth %d", p.Depth())
	}
	if err := p.ProcessNext(context.Background()); err != nil {
		t.Fatalf("unexpected error on an empty queue: %v", err)
	}
	if got := engine.Processed(); len(got) != 1 {
		t.Errorf("expected exactly one attempt, got %d", len(got))
	}
}

func TestProcessor_DecisionHandoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		decision     datatypes.Decision
		wantSeverity string
	}{
		{"allow maps to info", datatypes.DecisionAllow, "info"},
		{"warn maps to warning", datatypes.DecisionWarn, "warning"},
		{"block maps to critical", datatypes.DecisionBlock, "critical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &notify.MockSink{}
			engine := &MockSynthesizer{Result: &datatypes.SynthesisResult{
				Decision: tt.decision, FusedScore: 0.5, FusedConfidence: 0.9,
			}}
			p := newTestProcessor(t, engine, sink)
			if err := p.Enqueue(event("e")); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if err := p.ProcessNext(context.Background()); err != nil {
				t.Fatalf("process: %v", err)
			}

			// The handoff is fire-and-forget; give it a moment.
			deadline := time.After(time.Second)
			for sink.Count() == 0 {
				select {
				case <-deadline:
					t.Fatal("expected a notification")
				default:
					time.Sleep(time.Millisecond)
				}
			}

			notifications := sink.All()
			if notifications[0].Severity != tt.wantSeverity {
				t.Errorf("expected severity %s, got %s", tt.wantSeverity, notifications[0].Severity)
			}
		})
	}
}

func TestProcessor_StartDrainsOnKick(t *testing.T) {
	t.Parallel()

	engine := &MockSynthesizer{}
	p := newTestProcessor(t, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	if err := p.Enqueue(event("kicked")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if got, ok := p.Event("kicked"); ok && got.Status == datatypes.ThreatProcessed {
			return
		}
		select {
		case <-deadline:
			t.Fatal("expected the enqueue kick to drive processing without a tick")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestProcessor_StopWithoutStart(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t, &MockSynthesizer{}, nil)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a processor that was never started")
	}
}

func TestProcessor_PruneFinalized(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t, &MockSynthesizer{}, nil)
	if err := p.Enqueue(event("stale")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := p.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if e, ok := p.Event("stale"); !ok || e.Status != datatypes.ThreatProcessed {
		t.Fatalf("expected a finalized event, got ok=%v status=%v", ok, e.Status)
	}

	t.Run("keeps events inside the retention window", func(t *testing.T) {
		if got := p.PruneFinalized(time.Now()); got != 0 {
			t.Errorf("pruned %d events inside the window", got)
		}
		if _, ok := p.Event("stale"); !ok {
			t.Error("event should still be queryable")
		}
	})

	t.Run("drops events past the window and frees the ID", func(t *testing.T) {
		if got := p.PruneFinalized(time.Now().Add(2 * time.Hour)); got != 1 {
			t.Fatalf("pruned %d events, want 1", got)
		}
		if _, ok := p.Event("stale"); ok {
			t.Error("pruned event should be gone from the index")
		}
		if err := p.Enqueue(event("stale")); err != nil {
			t.Errorf("re-enqueue of a pruned ID failed: %v", err)
		}
	})

	t.Run("never touches pending events", func(t *testing.T) {
		if err := p.Enqueue(event("fresh")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		p.PruneFinalized(time.Now().Add(24 * time.Hour))
		if _, ok := p.Event("fresh"); !ok {
			t.Error("pending event must survive pruning")
		}
	})
}
