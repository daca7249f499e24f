// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the mesh service:
// message envelopes, agent descriptors, threat events, and synthesis results.
//
// Types in this package are plain data carriers. Behavior lives in the
// component packages (bus, breaker, cache, synthesis, queue) that exchange
// these types.
package datatypes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Protocol Constants
// =============================================================================

const (
	// MeshProtocol identifies the wire protocol on every envelope.
	MeshProtocol = "sentrymesh"

	// MeshProtocolVersion is the current protocol version.
	MeshProtocolVersion = "1.0"
)

// =============================================================================
// Message Types
// =============================================================================

// MessageType enumerates the recognized envelope types.
//
// Every component that consumes envelopes keeps an exhaustive dispatch
// table over these values; an unrecognized type is a routing-level error,
// never a silent drop.
type MessageType string

const (
	// MessageAgentRegister announces a new agent joining the mesh.
	MessageAgentRegister MessageType = "AGENT_REGISTER"

	// MessageAgentReady signals an agent has finished initialization.
	MessageAgentReady MessageType = "AGENT_READY"

	// MessageThreatDetected carries a detector-emitted threat event.
	MessageThreatDetected MessageType = "THREAT_DETECTED"

	// MessageAnalysisRequest asks an analysis agent to score content.
	MessageAnalysisRequest MessageType = "ANALYSIS_REQUEST"

	// MessageAnalysisResponse carries an analysis agent's result.
	MessageAnalysisResponse MessageType = "ANALYSIS_RESPONSE"

	// MessageVerificationRequest asks a verification agent to corroborate.
	MessageVerificationRequest MessageType = "VERIFICATION_REQUEST"

	// MessageVerificationResponse carries a verification agent's result.
	MessageVerificationResponse MessageType = "VERIFICATION_RESPONSE"

	// MessageMeshSync synchronizes registry state between nodes.
	MessageMeshSync MessageType = "MESH_SYNC"

	// MessageNodeHeartbeat refreshes a remote node's liveness.
	MessageNodeHeartbeat MessageType = "NODE_HEARTBEAT"

	// MessageAutonomousCoordination carries orchestrator fan-out traffic.
	MessageAutonomousCoordination MessageType = "AUTONOMOUS_COORDINATION"
)

// KnownMessageTypes lists every recognized envelope type, in a stable order.
var KnownMessageTypes = []MessageType{
	MessageAgentRegister,
	MessageAgentReady,
	MessageThreatDetected,
	MessageAnalysisRequest,
	MessageAnalysisResponse,
	MessageVerificationRequest,
	MessageVerificationResponse,
	MessageMeshSync,
	MessageNodeHeartbeat,
	MessageAutonomousCoordination,
}

// Valid reports whether t is a recognized message type.
func (t MessageType) Valid() bool {
	for _, known := range KnownMessageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// =============================================================================
// Envelope
// =============================================================================

// EnvelopeSource identifies the origin of an envelope.
type EnvelopeSource struct {
	// NodeID is the emitting node's unique identifier.
	NodeID string `json:"nodeId"`

	// MeshID is the mesh the emitting node belongs to.
	MeshID string `json:"meshId"`
}

// EnvelopeTarget identifies the destination of an envelope.
//
// Exactly one of AgentID or Broadcast is set. A zero-value target is
// invalid and yields a routing error at send time.
type EnvelopeTarget struct {
	// AgentID addresses a single agent. Empty for broadcasts.
	AgentID string `json:"agentId,omitempty"`

	// Broadcast addresses every active agent and connected node.
	Broadcast bool `json:"broadcast,omitempty"`
}

// EnvelopeMetadata carries delivery hints.
type EnvelopeMetadata struct {
	// Priority orders competing deliveries (higher = more urgent).
	Priority int `json:"priority"`

	// TTLMillis is how long the envelope stays deliverable, in
	// milliseconds. Zero means no expiry.
	TTLMillis int64 `json:"ttl"`
}

// Envelope is the wire-level mesh message.
//
// # Description
//
// An Envelope is immutable once created: construct one with NewEnvelope
// and never mutate its fields afterward. The JSON shape is the mesh wire
// format exchanged with remote nodes over the websocket link.
//
// # Thread Safety
//
// Envelopes are safe for concurrent reads. Do not mutate after creation.
type Envelope struct {
	// Protocol is always MeshProtocol.
	Protocol string `json:"protocol"`

	// Version is the protocol version the sender speaks.
	Version string `json:"version"`

	// MessageID uniquely identifies this envelope within the mesh.
	MessageID string `json:"messageId"`

	// Timestamp is the envelope creation time.
	Timestamp time.Time `json:"timestamp"`

	// Source identifies the emitting node.
	Source EnvelopeSource `json:"source"`

	// Target identifies the destination (agent or broadcast).
	Target EnvelopeTarget `json:"target"`

	// Type is the enumerated message type.
	Type MessageType `json:"type"`

	// Payload is the type-specific body, left opaque at this layer.
	Payload json.RawMessage `json:"payload"`

	// Metadata carries delivery hints.
	Metadata EnvelopeMetadata `json:"metadata"`
}

// NewEnvelope creates an envelope with a fresh message ID and timestamp.
//
// # Inputs
//
//   - source: The emitting node's identity.
//   - target: Destination agent or broadcast flag.
//   - msgType: One of the enumerated message types.
//   - payload: Type-specific body. May be nil.
//
// # Outputs
//
//   - *Envelope: The immutable envelope.
//   - error: Non-nil if msgType is unrecognized or payload cannot marshal.
func NewEnvelope(source EnvelopeSource, target EnvelopeTarget, msgType MessageType, payload any) (*Envelope, error) {
	if !msgType.Valid() {
		return nil, fmt.Errorf("unrecognized message type %q", msgType)
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope payload: %w", err)
		}
		raw = data
	}

	return &Envelope{
		Protocol:  MeshProtocol,
		Version:   MeshProtocolVersion,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Target:    target,
		Type:      msgType,
		Payload:   raw,
		Metadata:  EnvelopeMetadata{Priority: 1},
	}, nil
}

// WithMetadata returns a copy of the envelope with the given metadata.
//
// The receiver is not modified; envelopes stay immutable.
func (e *Envelope) WithMetadata(md EnvelopeMetadata) *Envelope {
	clone := *e
	clone.Metadata = md
	return &clone
}

// Expired reports whether the envelope's TTL has elapsed.
//
// An envelope with a zero TTL never expires.
func (e *Envelope) Expired(now time.Time) bool {
	if e.Metadata.TTLMillis <= 0 {
		return false
	}
	deadline := e.Timestamp.Add(time.Duration(e.Metadata.TTLMillis) * time.Millisecond)
	return now.After(deadline)
}

// DecodePayload unmarshals the payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope %s has no payload", e.MessageID)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
