// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import (
	"time"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

// ReadyPayload is the body of an AGENT_READY envelope.
type ReadyPayload struct {
	AgentID string `json:"agentId"`
}

// SyncPayload is the body of a MESH_SYNC envelope: the sender's view of
// its registry, used to advertise remote agents across the link.
type SyncPayload struct {
	Agents []datatypes.AgentDescriptor `json:"agents"`
}

// Hooks receives envelopes whose handling lives outside the bus.
type Hooks struct {
	// OnThreatDetected hands a decoded threat event to the queue
	// processor. Required for THREAT_DETECTED traffic.
	OnThreatDetected func(event *datatypes.ThreatEvent) error

	// OnMeshSync observes a remote registry snapshot. Optional.
	OnMeshSync func(from string, agents []datatypes.AgentDescriptor)
}

// Dispatch routes one inbound envelope from a remote node.
//
// # Description
//
// The switch below is the node's exhaustive dispatch table: every
// enumerated message type has a case, and an unrecognized type is a
// *RoutingError. Registry messages mutate the registry; data-plane
// messages route onward through Send.
func (b *Bus) Dispatch(env *datatypes.Envelope, hooks Hooks) error {
	if env.Expired(time.Now()) {
		return &RoutingError{TargetID: env.Target.AgentID, Type: env.Type, Reason: "envelope TTL expired"}
	}
	b.TouchNode(env.Source.NodeID)

	switch env.Type {
	case datatypes.MessageAgentRegister:
		var descriptor datatypes.AgentDescriptor
		if err := env.DecodePayload(&descriptor); err != nil {
			return err
		}
		return b.registerRemoteAgent(env.Source.NodeID, descriptor)

	case datatypes.MessageAgentReady:
		var payload ReadyPayload
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}
		if !b.MarkReady(payload.AgentID) {
			return &RoutingError{TargetID: payload.AgentID, Type: env.Type, Reason: "unknown agent"}
		}
		return nil

	case datatypes.MessageThreatDetected:
		if hooks.OnThreatDetected == nil {
			return &RoutingError{Type: env.Type, Reason: "no threat sink configured"}
		}
		var event datatypes.ThreatEvent
		if err := env.DecodePayload(&event); err != nil {
			return err
		}
		return hooks.OnThreatDetected(&event)

	case datatypes.MessageAnalysisRequest,
		datatypes.MessageAnalysisResponse,
		datatypes.MessageVerificationRequest,
		datatypes.MessageVerificationResponse,
		datatypes.MessageAutonomousCoordination:
		return b.Send(env)

	case datatypes.MessageMeshSync:
		var payload SyncPayload
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}
		if hooks.OnMeshSync != nil {
			hooks.OnMeshSync(env.Source.NodeID, payload.Agents)
		}
		return nil

	case datatypes.MessageNodeHeartbeat:
		// Liveness refresh already happened above.
		return nil

	default:
		return &RoutingError{TargetID: env.Target.AgentID, Type: env.Type, Reason: "unrecognized message type"}
	}
}

// registerRemoteAgent registers an agent that lives behind a node link;
// deliveries to it relay over the link that announced it.
func (b *Bus) registerRemoteAgent(nodeID string, descriptor datatypes.AgentDescriptor) error {
	b.mu.RLock()
	entry, connected := b.nodes[nodeID]
	b.mu.RUnlock()

	if !connected {
		return &RoutingError{TargetID: descriptor.ID, Type: datatypes.MessageAgentRegister,
			Reason: "announcing node is not connected"}
	}

	link := entry.link
	_, err := b.RegisterAgent(descriptor, func(env *datatypes.Envelope) error {
		return link.Deliver(env)
	})
	return err
}
