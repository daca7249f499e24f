// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bus implements the mesh message bus: the agent registry and
// deterministic envelope routing (direct, relay, broadcast).
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

// Handler processes envelopes delivered to a locally registered agent.
type Handler func(env *datatypes.Envelope) error

// NodeLink is a connected remote mesh node.
//
// Implementations carry envelopes over some transport (the service ships
// a websocket link in the handlers package). Deliver must not block
// indefinitely; slow links should buffer or fail.
type NodeLink interface {
	// ID identifies the remote node.
	ID() string

	// Capabilities lists the capability names the node advertises.
	Capabilities() []string

	// Deliver hands the envelope to the remote node.
	Deliver(env *datatypes.Envelope) error
}

// Config controls registry liveness sweeping.
type Config struct {
	// SweepInterval is how often the heartbeat sweep runs. Default: 30s
	SweepInterval time.Duration

	// InactiveAfter marks agents inactive once lastSeen is older than
	// this. Default: 60s
	InactiveAfter time.Duration
}

// DefaultConfig returns the mesh defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		InactiveAfter: 60 * time.Second,
	}
}

// Metrics counts routing activity for status queries.
type Metrics struct {
	Routed          uint64 `json:"routed"`
	Relayed         uint64 `json:"relayed"`
	Broadcasts      uint64 `json:"broadcasts"`
	RoutingFailures uint64 `json:"routingFailures"`
}

// DeliveryOutcome is one recipient's result from a broadcast.
type DeliveryOutcome struct {
	// Recipient is the agent or node ID.
	Recipient string

	// Err is the recipient's handler failure, nil on success. One
	// recipient's failure never blocks delivery to the others.
	Err error
}

// localAgent pairs a descriptor with its delivery handler.
type localAgent struct {
	descriptor datatypes.AgentDescriptor
	handler    Handler
}

// nodeEntry pairs a link with its liveness timestamp.
type nodeEntry struct {
	link     NodeLink
	lastSeen time.Time
}

// Bus maintains the agent registry and routes envelopes.
//
// # Description
//
// Agents register with a descriptor and a handler; remote nodes connect
// through a NodeLink. Direct sends resolve a local active agent first,
// then a relay node advertising the needed capability, then fall back to
// broadcast; a target that resolves nowhere yields a *RoutingError.
// Broadcasts deliver in registration order. A periodic sweep marks
// agents inactive after the configured silence window; inactive agents
// are excluded from routing until they re-register (they are never
// deleted).
//
// # Thread Safety
//
// Bus is safe for concurrent use. Handlers are invoked without the
// registry lock held.
type Bus struct {
	nodeID string
	meshID string
	config Config
	logger *slog.Logger

	mu         sync.RWMutex
	agents     map[string]*localAgent
	agentOrder []string // registration order for broadcasts
	nodes      map[string]*nodeEntry
	nodeOrder  []string // connect order for broadcasts
	metrics    Metrics

	sweepStarted bool
	sweepStop    chan struct{}
	sweepDone    chan struct{}
	sweepOnce    sync.Once
}

// New creates a bus for a fresh node on the given mesh.
//
// meshID may be empty; a new mesh ID is generated. Zero-value config
// fields fall back to DefaultConfig values.
func New(meshID string, config Config, logger *slog.Logger) *Bus {
	if meshID == "" {
		meshID = uuid.NewString()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if config.InactiveAfter <= 0 {
		config.InactiveAfter = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		nodeID:    uuid.NewString(),
		meshID:    meshID,
		config:    config,
		logger:    logger,
		agents:    make(map[string]*localAgent),
		nodes:     make(map[string]*nodeEntry),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// NodeID returns this node's identifier.
func (b *Bus) NodeID() string { return b.nodeID }

// MeshID returns the mesh identifier.
func (b *Bus) MeshID() string { return b.meshID }

// Source returns this node's envelope source identity.
func (b *Bus) Source() datatypes.EnvelopeSource {
	return datatypes.EnvelopeSource{NodeID: b.nodeID, MeshID: b.meshID}
}

// =============================================================================
// Registry
// =============================================================================

// RegisterAgent adds or refreshes an agent.
//
// # Description
//
// Idempotent: re-registering an existing ID refreshes lastSeen, replaces
// the handler and descriptor fields, and reactivates an inactive agent
// without changing its position in broadcast order.
//
// # Inputs
//
//   - descriptor: The agent's identity and capabilities. ID is required.
//   - handler: Delivery callback. Must not be nil.
//
// # Outputs
//
//   - datatypes.Registration: The node and mesh the agent joined.
//   - error: Non-nil on a missing ID or handler.
func (b *Bus) RegisterAgent(descriptor datatypes.AgentDescriptor, handler Handler) (datatypes.Registration, error) {
	if descriptor.ID == "" {
		return datatypes.Registration{}, &RoutingError{Type: datatypes.MessageAgentRegister, Reason: "agent ID is required"}
	}
	if handler == nil {
		return datatypes.Registration{}, &RoutingError{TargetID: descriptor.ID, Type: datatypes.MessageAgentRegister, Reason: "handler is required"}
	}

	descriptor.LastSeen = time.Now()
	if descriptor.Status == "" || descriptor.Status == datatypes.AgentInactive {
		descriptor.Status = datatypes.AgentRegistered
	}

	b.mu.Lock()
	existing, known := b.agents[descriptor.ID]
	if known {
		existing.descriptor = descriptor
		existing.handler = handler
	} else {
		b.agents[descriptor.ID] = &localAgent{descriptor: descriptor, handler: handler}
		b.agentOrder = append(b.agentOrder, descriptor.ID)
	}
	b.mu.Unlock()

	b.logger.Info("agent registered",
		"agent_id", descriptor.ID,
		"agent_type", descriptor.Type,
		"refresh", known)

	return datatypes.Registration{NodeID: b.nodeID, MeshID: b.meshID}, nil
}

// MarkReady transitions a registered agent to ready.
func (b *Bus) MarkReady(agentID string) bool {
	return b.setStatus(agentID, datatypes.AgentReady)
}

// MarkActive transitions a registered agent to active.
func (b *Bus) MarkActive(agentID string) bool {
	return b.setStatus(agentID, datatypes.AgentActive)
}

func (b *Bus) setStatus(agentID string, status datatypes.AgentStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	agent, ok := b.agents[agentID]
	if !ok {
		return false
	}
	agent.descriptor.Status = status
	agent.descriptor.LastSeen = time.Now()
	return true
}

// Touch refreshes an agent's lastSeen without changing its status,
// except that an inactive agent does not revive this way; it must
// re-register.
func (b *Bus) Touch(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if agent, ok := b.agents[agentID]; ok && agent.descriptor.Status != datatypes.AgentInactive {
		agent.descriptor.LastSeen = time.Now()
	}
}

// Agent returns a copy of the named agent's descriptor.
func (b *Bus) Agent(agentID string) (datatypes.AgentDescriptor, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	agent, ok := b.agents[agentID]
	if !ok {
		return datatypes.AgentDescriptor{}, false
	}
	return agent.descriptor, true
}

// Agents returns descriptor copies for every known agent, in
// registration order.
func (b *Bus) Agents() []datatypes.AgentDescriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]datatypes.AgentDescriptor, 0, len(b.agentOrder))
	for _, id := range b.agentOrder {
		out = append(out, b.agents[id].descriptor)
	}
	return out
}

// ConnectNode attaches a remote node link. A reconnecting node replaces
// its link but keeps its position in broadcast order.
func (b *Bus) ConnectNode(link NodeLink) {
	b.mu.Lock()
	if _, known := b.nodes[link.ID()]; !known {
		b.nodeOrder = append(b.nodeOrder, link.ID())
	}
	b.nodes[link.ID()] = &nodeEntry{link: link, lastSeen: time.Now()}
	b.mu.Unlock()

	b.logger.Info("node connected", "node_id", link.ID(), "capabilities", link.Capabilities())
}

// DisconnectNode detaches a remote node link.
func (b *Bus) DisconnectNode(nodeID string) {
	b.mu.Lock()
	delete(b.nodes, nodeID)
	b.dropNodeOrder(nodeID)
	b.mu.Unlock()

	b.logger.Info("node disconnected", "node_id", nodeID)
}

// dropNodeOrder removes a node from broadcast order. Caller holds b.mu.
func (b *Bus) dropNodeOrder(nodeID string) {
	for i, id := range b.nodeOrder {
		if id == nodeID {
			b.nodeOrder = append(b.nodeOrder[:i], b.nodeOrder[i+1:]...)
			return
		}
	}
}

// =============================================================================
// Routing
// =============================================================================

// Send routes an envelope toward its target.
//
// # Description
//
// Resolution order: a locally registered routable agent with the target
// ID is dispatched directly; otherwise a connected node advertising the
// target's capability relays it; otherwise the envelope is broadcast.
// If the broadcast also reaches zero recipients the target resolved
// nowhere and a *RoutingError is returned.
func (b *Bus) Send(env *datatypes.Envelope) error {
	if env.Target.Broadcast {
		outcomes := b.Broadcast(env)
		if len(outcomes) == 0 {
			b.countFailure()
			return &RoutingError{Type: env.Type, Reason: "no active recipients"}
		}
		return nil
	}

	targetID := env.Target.AgentID
	if targetID == "" {
		b.countFailure()
		return &RoutingError{Type: env.Type, Reason: "envelope has no target"}
	}

	// Direct: local routable agent.
	b.mu.RLock()
	agent, ok := b.agents[targetID]
	var handler Handler
	var capability string
	if ok && agent.descriptor.Status.Routable() {
		handler = agent.handler
	}
	if ok {
		capability = agent.descriptor.Type
	}
	b.mu.RUnlock()

	if handler != nil {
		err := b.deliverLocal(targetID, handler, env)
		if err == nil {
			b.mu.Lock()
			b.metrics.Routed++
			b.mu.Unlock()
		}
		return err
	}

	// Relay: a connected node advertising the capability. When the
	// target is unknown locally, the target ID itself is treated as the
	// wanted capability (remote agents are addressed by what they do).
	if capability == "" {
		capability = targetID
	}
	if link := b.relayCandidate(capability); link != nil {
		if err := link.Deliver(env); err != nil {
			b.countFailure()
			return &RoutingError{TargetID: targetID, Type: env.Type, Reason: "relay failed: " + err.Error()}
		}
		b.mu.Lock()
		b.metrics.Relayed++
		b.mu.Unlock()
		return nil
	}

	// Fall back to broadcast.
	if outcomes := b.Broadcast(env); len(outcomes) > 0 {
		return nil
	}

	b.countFailure()
	return &RoutingError{TargetID: targetID, Type: env.Type, Reason: "target resolves nowhere"}
}

// Broadcast delivers the envelope to every routable agent and connected
// node, collecting per-recipient outcomes.
//
// Delivery order is agent registration order, then nodes in connect
// order. One recipient's failure is isolated and does not block the
// others.
func (b *Bus) Broadcast(env *datatypes.Envelope) []DeliveryOutcome {
	b.mu.RLock()
	type recipient struct {
		id      string
		handler Handler
		link    NodeLink
	}
	recipients := make([]recipient, 0, len(b.agentOrder)+len(b.nodes))
	for _, id := range b.agentOrder {
		agent := b.agents[id]
		if agent.descriptor.Status.Routable() {
			recipients = append(recipients, recipient{id: id, handler: agent.handler})
		}
	}
	for _, id := range b.nodeOrder {
		if id == env.Source.NodeID {
			continue // don't echo back to the sender
		}
		recipients = append(recipients, recipient{id: id, link: b.nodes[id].link})
	}
	b.mu.RUnlock()

	outcomes := make([]DeliveryOutcome, 0, len(recipients))
	for _, r := range recipients {
		var err error
		if r.handler != nil {
			err = b.deliverLocal(r.id, r.handler, env)
		} else {
			err = r.link.Deliver(env)
		}
		outcomes = append(outcomes, DeliveryOutcome{Recipient: r.id, Err: err})
	}

	b.mu.Lock()
	b.metrics.Broadcasts++
	b.mu.Unlock()
	return outcomes
}

// deliverLocal invokes a handler with panic isolation.
func (b *Bus) deliverLocal(agentID string, handler Handler, env *datatypes.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("agent handler panicked",
				"agent_id", agentID,
				"message_id", env.MessageID,
				"panic", r)
			err = &RoutingError{TargetID: agentID, Type: env.Type, Reason: "handler panicked"}
		}
	}()
	return handler(env)
}

// relayCandidate picks a connected node advertising the capability.
func (b *Bus) relayCandidate(capability string) NodeLink {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, entry := range b.nodes {
		for _, c := range entry.link.Capabilities() {
			if c == capability {
				return entry.link
			}
		}
	}
	return nil
}

func (b *Bus) countFailure() {
	b.mu.Lock()
	b.metrics.RoutingFailures++
	b.mu.Unlock()
}

// =============================================================================
// Status
// =============================================================================

// Status is the mesh snapshot exposed to collaborators.
type Status struct {
	NodeID         string  `json:"nodeId"`
	MeshID         string  `json:"meshId"`
	ActiveAgents   int     `json:"activeAgents"`
	ConnectedNodes int     `json:"connectedNodes"`
	Metrics        Metrics `json:"metrics"`
}

// Status returns a point-in-time mesh snapshot.
func (b *Bus) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	active := 0
	for _, agent := range b.agents {
		if agent.descriptor.Status.Routable() {
			active++
		}
	}

	return Status{
		NodeID:         b.nodeID,
		MeshID:         b.meshID,
		ActiveAgents:   active,
		ConnectedNodes: len(b.nodes),
		Metrics:        b.metrics,
	}
}

// =============================================================================
// Heartbeat Sweep
// =============================================================================

// StartSweep launches the periodic liveness sweep. Calling it twice is
// a no-op; use StopSweep to halt it.
func (b *Bus) StartSweep() {
	b.mu.Lock()
	if b.sweepStarted {
		b.mu.Unlock()
		return
	}
	b.sweepStarted = true
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(b.config.SweepInterval)
		defer ticker.Stop()
		defer close(b.sweepDone)

		for {
			select {
			case <-b.sweepStop:
				return
			case <-ticker.C:
				b.Sweep(time.Now())
			}
		}
	}()
}

// StopSweep halts the liveness sweep and waits for it to finish.
// Returns immediately when StartSweep was never called.
func (b *Bus) StopSweep() {
	b.sweepOnce.Do(func() {
		close(b.sweepStop)
		b.mu.RLock()
		started := b.sweepStarted
		b.mu.RUnlock()
		if started {
			<-b.sweepDone
		}
	})
}

// Sweep marks agents inactive once lastSeen exceeds the configured
// window, and drops node links that went silent for the same window.
//
// Exposed for deterministic testing; production traffic goes through
// the ticker started by StartSweep.
func (b *Bus) Sweep(now time.Time) {
	cutoff := now.Add(-b.config.InactiveAfter)

	b.mu.Lock()
	var swept []string
	for id, agent := range b.agents {
		if agent.descriptor.Status != datatypes.AgentInactive && agent.descriptor.LastSeen.Before(cutoff) {
			agent.descriptor.Status = datatypes.AgentInactive
			swept = append(swept, id)
		}
	}
	var dropped []string
	for id, entry := range b.nodes {
		if entry.lastSeen.Before(cutoff) {
			delete(b.nodes, id)
			b.dropNodeOrder(id)
			dropped = append(dropped, id)
		}
	}
	b.mu.Unlock()

	for _, id := range swept {
		b.logger.Warn("agent marked inactive", "agent_id", id)
	}
	for _, id := range dropped {
		b.logger.Warn("silent node dropped", "node_id", id)
	}
}

// TouchNode refreshes a connected node's liveness.
func (b *Bus) TouchNode(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.nodes[nodeID]; ok {
		entry.lastSeen = time.Now()
	}
}
