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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/breaker"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/bus"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/cache"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/queue"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "sentrymesh"})
}

// MeshStatus reports the bus topology, cache statistics, and queue depth.
func MeshStatus(b *bus.Bus, vc *cache.Cache, processor *queue.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := b.Status()
		stats := vc.Stats()
		c.JSON(http.StatusOK, gin.H{
			"nodeId":         status.NodeID,
			"meshId":         status.MeshID,
			"activeAgents":   status.ActiveAgents,
			"connectedNodes": status.ConnectedNodes,
			"routing":        status.Metrics,
			"cache":          stats,
			"queueDepth":     processor.Depth(),
			"processing":     processor.Processing(),
		})
	}
}

// BreakerStatus reports a snapshot of every tracked circuit breaker.
func BreakerStatus(manager *breaker.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": manager.Snapshots()})
	}
}
