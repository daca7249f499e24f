// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/bus"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// wsNodeLink adapts a websocket connection to the bus's NodeLink interface.
//
// Writes are serialized with a mutex because gorilla/websocket permits at
// most one concurrent writer per connection.
type wsNodeLink struct {
	nodeID       string
	capabilities []string

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ bus.NodeLink = (*wsNodeLink)(nil)

func (l *wsNodeLink) ID() string { return l.nodeID }

func (l *wsNodeLink) Capabilities() []string { return l.capabilities }

func (l *wsNodeLink) Deliver(env *datatypes.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("node %s delivery failed: %w", l.nodeID, err)
	}
	return nil
}

// HandleNodeWebSocket accepts a remote node connection.
//
// The first frame must be a MESH_SYNC envelope identifying the node and
// listing its agents; every later frame is dispatched onto the bus. The
// node is disconnected when the read loop ends, whatever the cause.
func HandleNodeWebSocket(b *bus.Bus, hooks bus.Hooks) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade node websocket", "error", err)
			return
		}
		defer ws.Close()

		var hello datatypes.Envelope
		ws.SetReadDeadline(time.Now().Add(10 * time.Second))
		if err := ws.ReadJSON(&hello); err != nil {
			slog.Warn("node websocket closed before hello", "error", err)
			return
		}
		ws.SetReadDeadline(time.Time{})

		if hello.Type != datatypes.MessageMeshSync || hello.Source.NodeID == "" {
			slog.Warn("rejecting node connection: first frame was not a mesh sync",
				"type", hello.Type)
			_ = ws.WriteJSON(gin.H{"error": "first frame must be a MESH_SYNC envelope"})
			return
		}

		var announced bus.SyncPayload
		if err := hello.DecodePayload(&announced); err != nil {
			slog.Warn("rejecting node connection: malformed sync payload", "error", err)
			return
		}

		link := &wsNodeLink{
			nodeID:       hello.Source.NodeID,
			capabilities: capabilitiesOf(announced.Agents),
			conn:         ws,
		}
		b.ConnectNode(link)
		defer b.DisconnectNode(link.nodeID)
		slog.Info("remote node connected",
			"nodeId", link.nodeID, "agents", len(announced.Agents))

		if err := b.Dispatch(&hello, hooks); err != nil {
			slog.Warn("initial sync dispatch failed", "nodeId", link.nodeID, "error", err)
		}

		for {
			var env datatypes.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				slog.Info("remote node disconnected", "nodeId", link.nodeID, "error", err.Error())
				return
			}
			if err := b.Dispatch(&env, hooks); err != nil {
				slog.Warn("dispatch failed",
					"nodeId", link.nodeID, "type", env.Type, "error", err)
			}
		}
	}
}

// capabilitiesOf collapses the announced agents into the distinct
// capability set the link advertises for relay routing.
func capabilitiesOf(agents []datatypes.AgentDescriptor) []string {
	seen := make(map[string]struct{})
	var caps []string
	for _, agent := range agents {
		for _, capability := range agent.Capabilities {
			if _, ok := seen[capability]; ok {
				continue
			}
			seen[capability] = struct{}{}
			caps = append(caps, capability)
		}
	}
	return caps
}
