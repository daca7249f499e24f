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

import "time"

// AgentStatus is the lifecycle state of a registered agent.
//
// Agents are never hard-deleted from the registry; they only transition
// between statuses. An inactive agent is excluded from routing until it
// re-registers.
type AgentStatus string

const (
	// AgentRegistered means the agent has joined but not signaled readiness.
	AgentRegistered AgentStatus = "registered"

	// AgentReady means the agent has finished initialization.
	AgentReady AgentStatus = "ready"

	// AgentActive means the agent is serving requests.
	AgentActive AgentStatus = "active"

	// AgentInactive means the agent missed its heartbeat window.
	AgentInactive AgentStatus = "inactive"
)

// Routable reports whether an agent in this status may receive envelopes.
func (s AgentStatus) Routable() bool {
	switch s {
	case AgentRegistered, AgentReady, AgentActive:
		return true
	default:
		return false
	}
}

// AgentDescriptor describes a capability provider registered on the mesh.
//
// # Thread Safety
//
// The bus owns descriptor mutation; callers receive copies from status
// queries and must not share descriptors back into the registry.
type AgentDescriptor struct {
	// ID uniquely identifies the agent within the mesh.
	ID string `json:"id"`

	// Type is the agent's role, e.g. "analysis" or "verification".
	Type string `json:"type"`

	// Capabilities lists the capability names the agent advertises.
	Capabilities []string `json:"capabilities"`

	// Status is the agent's current lifecycle state.
	Status AgentStatus `json:"status"`

	// LastSeen is the last time the agent registered or sent traffic.
	LastSeen time.Time `json:"lastSeen"`
}

// HasCapability reports whether the agent advertises the named capability.
func (d *AgentDescriptor) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Registration is the bus's answer to a successful agent registration.
type Registration struct {
	// NodeID is the local node the agent registered with.
	NodeID string `json:"nodeId"`

	// MeshID is the mesh the node belongs to.
	MeshID string `json:"meshId"`
}
