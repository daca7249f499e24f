// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mesh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/config"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/notify"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/providers"
)

// newTestCore assembles a Core with mock providers and an in-memory
// store. Storage.Path stays empty so nothing touches disk.
func newTestCore(t *testing.T, provs []providers.Provider, sink notify.Sink) *Core {
	t.Helper()

	cfg := config.Default()
	if provs == nil {
		provs = []providers.Provider{
			&providers.MockProvider{
				ProviderName: "llm_analysis",
				Result:       datatypes.ProviderResult{ThreatScore: 0.8, Confidence: 0.9},
			},
		}
	}

	core, err := New(cfg, Options{Providers: provs, Sink: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { core.Shutdown() })
	return core
}

func TestNew_RegistersProviderAgents(t *testing.T) {
	t.Parallel()

	provs := []providers.Provider{
		&providers.MockProvider{ProviderName: "llm_analysis"},
		&providers.MockProvider{ProviderName: "http_verification", ProviderCapability: "verification"},
	}
	core := newTestCore(t, provs, nil)

	for _, name := range []string{"llm_analysis", "http_verification"} {
		agent, ok := core.Bus.Agent(name)
		if !ok {
			t.Fatalf("expected agent %s on the bus", name)
		}
		if agent.Status != datatypes.AgentActive {
			t.Errorf("agent %s status = %v, want %v", name, agent.Status, datatypes.AgentActive)
		}
	}

	if core.Store == nil || core.Breakers == nil || core.Cache == nil ||
		core.Engine == nil || core.Queue == nil {
		t.Error("expected every component to be wired")
	}
	if core.Hooks().OnThreatDetected == nil {
		t.Error("expected the threat hook to be wired")
	}
}

func TestCore_EnqueueThreat(t *testing.T) {
	t.Parallel()

	core := newTestCore(t, nil, nil)

	if err := core.EnqueueThreat(nil); err == nil {
		t.Error("expected an error for a nil event")
	}
	if err := core.EnqueueThreat(&datatypes.ThreatEvent{}); err == nil {
		t.Error("expected an error for an event without content")
	}

	event := datatypes.NewThreatEvent("click here to verify", "phishing", "https://example.com", "high")
	if err := core.EnqueueThreat(event); err != nil {
		t.Fatalf("EnqueueThreat: %v", err)
	}
	if got := core.Queue.Depth(); got != 1 {
		t.Errorf("queue depth = %d, want 1", got)
	}
}

// replyCollector is a bus agent that captures envelopes routed to it.
type replyCollector struct {
	mu        sync.Mutex
	envelopes []*datatypes.Envelope
}

func (r *replyCollector) handle(env *datatypes.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
	return nil
}

func (r *replyCollector) received() []*datatypes.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*datatypes.Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

func TestCore_ProviderAnswersAnalysisRequest(t *testing.T) {
	t.Parallel()

	core := newTestCore(t, nil, nil)

	collector := &replyCollector{}
	if _, err := core.Bus.RegisterAgent(datatypes.AgentDescriptor{
		ID:     "caller",
		Type:   "test",
		Status: datatypes.AgentActive,
	}, collector.handle); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	env, err := datatypes.NewEnvelope(core.Bus.Source(),
		datatypes.EnvelopeTarget{AgentID: "llm_analysis"},
		datatypes.MessageAnalysisRequest,
		datatypes.AnalysisRequestPayload{
			RequestID:  "req-1",
			Content:    "suspicious page content",
			ThreatType: "phishing",
			ReplyTo:    "caller",
		})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := core.Bus.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := collector.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(got))
	}
	if got[0].Type != datatypes.MessageAnalysisResponse {
		t.Errorf("reply type = %v, want %v", got[0].Type, datatypes.MessageAnalysisResponse)
	}

	var resp datatypes.AnalysisResponsePayload
	if err := got[0].DecodePayload(&resp); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("requestId = %q, want req-1", resp.RequestID)
	}
	if resp.Agent != "llm_analysis" {
		t.Errorf("agent = %q, want llm_analysis", resp.Agent)
	}
	if resp.Error != "" {
		t.Errorf("unexpected error in reply: %q", resp.Error)
	}
	if resp.Result == nil || resp.Result.ThreatScore != 0.8 {
		t.Errorf("result = %+v, want score 0.8", resp.Result)
	}
}

func TestCore_ProviderFailureReportedAndCounted(t *testing.T) {
	t.Parallel()

	provs := []providers.Provider{
		&providers.MockProvider{
			ProviderName: "llm_analysis",
			Err:          errors.New("backend unavailable"),
		},
	}
	core := newTestCore(t, provs, nil)

	collector := &replyCollector{}
	if _, err := core.Bus.RegisterAgent(datatypes.AgentDescriptor{
		ID:     "caller",
		Type:   "test",
		Status: datatypes.AgentActive,
	}, collector.handle); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	// Each failed request counts against the provider's breaker; the
	// default threshold is three.
	for i := 0; i < 3; i++ {
		env, err := datatypes.NewEnvelope(core.Bus.Source(),
			datatypes.EnvelopeTarget{AgentID: "llm_analysis"},
			datatypes.MessageAnalysisRequest,
			datatypes.AnalysisRequestPayload{RequestID: "req-fail", ReplyTo: "caller"})
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}
		if err := core.Bus.Send(env); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	got := collector.received()
	if len(got) != 3 {
		t.Fatalf("expected 3 replies, got %d", len(got))
	}
	var resp datatypes.AnalysisResponsePayload
	if err := got[0].DecodePayload(&resp); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if resp.Error == "" {
		t.Error("expected the provider error to be reported in the reply")
	}
	if resp.Result != nil {
		t.Errorf("result should be nil on failure, got %+v", resp.Result)
	}

	if core.Breakers.Available("llm_analysis") {
		t.Error("expected the provider breaker to be open after three failures")
	}
}

func TestCore_StartProcessesQueuedThreats(t *testing.T) {
	t.Parallel()

	sink := &notify.MockSink{}
	core := newTestCore(t, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core.Start(ctx)

	event := datatypes.NewThreatEvent("urgent: confirm your password", "phishing", "https://example.com/login", "high")
	if err := core.EnqueueThreat(event); err != nil {
		t.Fatalf("EnqueueThreat: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.Count() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sink.Count() == 0 {
		t.Fatal("expected the queued threat to reach the sink")
	}

	stored, ok := core.Queue.Event(event.ID)
	if !ok {
		t.Fatal("expected the event to be retained after processing")
	}
	if stored.Status != datatypes.ThreatProcessed {
		t.Errorf("status = %v, want %v", stored.Status, datatypes.ThreatProcessed)
	}
}

func TestCore_ShutdownWithoutStart(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	core, err := New(cfg, Options{
		Providers: []providers.Provider{&providers.MockProvider{ProviderName: "llm_analysis"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- core.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked on a core that was never started")
	}
}
