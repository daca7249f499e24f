// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Threat Events
// =============================================================================

// ThreatStatus is the lifecycle state of a threat event in the queue.
type ThreatStatus string

const (
	// ThreatPending means the event is queued and not yet picked up.
	ThreatPending ThreatStatus = "pending"

	// ThreatProcessing means the event is the single in-flight event.
	ThreatProcessing ThreatStatus = "processing"

	// ThreatProcessed means synthesis completed and a result is attached.
	ThreatProcessed ThreatStatus = "processed"

	// ThreatError means synthesis failed hard; no automatic retry occurs.
	ThreatError ThreatStatus = "error"
)

// Final reports whether the status is a terminal state.
func (s ThreatStatus) Final() bool {
	return s == ThreatProcessed || s == ThreatError
}

// ThreatEvent is a detector-emitted signal about suspicious content.
//
// # Description
//
// Created when an external detector flags text or media in a browser
// session. The queue processor owns status transitions:
// pending -> processing -> {processed | error}, each event finalized
// exactly once. Failed events are not retried automatically; callers
// re-enqueue a fresh event if they want another attempt.
type ThreatEvent struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Content is the flagged text.
	Content string `json:"content"`

	// ThreatTypeHint is the detector's classification guess,
	// e.g. "prompt_injection" or "phishing".
	ThreatTypeHint string `json:"threatTypeHint"`

	// Context is the URL (or other locator) the content was seen at.
	Context string `json:"context,omitempty"`

	// SeverityHint is the detector's severity guess.
	SeverityHint string `json:"severityHint,omitempty"`

	// Status is the queue lifecycle state.
	Status ThreatStatus `json:"status"`

	// Result holds the synthesis outcome once Status is processed.
	Result *SynthesisResult `json:"result,omitempty"`

	// Error is a captured failure summary once Status is error.
	Error string `json:"error,omitempty"`

	// EnqueuedAt is when the event entered the queue.
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// FinalizedAt is when the event reached a terminal status.
	FinalizedAt time.Time `json:"finalizedAt,omitzero"`
}

// NewThreatEvent creates a pending event with a fresh ID.
func NewThreatEvent(content, threatTypeHint, context, severityHint string) *ThreatEvent {
	return &ThreatEvent{
		ID:             uuid.NewString(),
		Content:        content,
		ThreatTypeHint: threatTypeHint,
		Context:        context,
		SeverityHint:   severityHint,
		Status:         ThreatPending,
	}
}

// =============================================================================
// Provider Results and Synthesis
// =============================================================================

// ProviderResult is one provider's independent assessment of a threat.
type ProviderResult struct {
	// ThreatScore is the provider's threat estimate in [0,1].
	ThreatScore float64 `json:"threatScore"`

	// Confidence is the provider's confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Indicators lists what the provider matched on.
	Indicators []string `json:"indicators,omitempty"`

	// Source names the provider that produced this result.
	Source string `json:"source"`
}

// Decision is the fused allow/warn/block outcome.
type Decision string

const (
	// DecisionAllow lets the content through untouched.
	DecisionAllow Decision = "allow"

	// DecisionWarn surfaces a warning but does not block.
	DecisionWarn Decision = "warn"

	// DecisionBlock blocks the content.
	DecisionBlock Decision = "block"
)

// SynthesisResult is the fused outcome of one coordination round.
//
// Sources maps provider name to that provider's result; a provider that
// abstained (timeout, error, open breaker) maps to nil so readers can
// distinguish "asked and failed" from "never asked".
type SynthesisResult struct {
	// CoordinationID identifies the fan-out round.
	CoordinationID string `json:"coordinationId"`

	// Sources holds each consulted provider's raw result, nil on abstain.
	Sources map[string]*ProviderResult `json:"sources"`

	// FusedScore is max(threatScore) over corroborating sources, in [0,1].
	FusedScore float64 `json:"fusedScore"`

	// FusedConfidence is max(confidence) over the same set, capped at 1.0.
	FusedConfidence float64 `json:"fusedConfidence"`

	// Decision is the thresholded outcome.
	Decision Decision `json:"decision"`

	// Reasoning holds one human-readable entry per corroborating source,
	// or a single "no corroboration" entry when none corroborated.
	Reasoning []string `json:"reasoning"`

	// DurationMs is wall-clock time for the round.
	DurationMs int64 `json:"durationMs"`
}

// Corroborated returns the names of sources that returned a result,
// in no particular order.
func (r *SynthesisResult) Corroborated() []string {
	var names []string
	for name, res := range r.Sources {
		if res != nil {
			names = append(names, name)
		}
	}
	return names
}
