// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gin HTTP surface of the mesh service.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/queue"
)

// ThreatRequest is the detector-facing enqueue body.
type ThreatRequest struct {
	Content        string `json:"content" binding:"required"`
	ThreatTypeHint string `json:"threatTypeHint" binding:"required"`
	Context        string `json:"context"`
	SeverityHint   string `json:"severityHint"`
}

// EnqueueThreat accepts a detector-emitted threat event.
//
// Returns 202 with the event ID; processing is asynchronous and the
// caller polls GET /v1/threats/:id for the outcome.
func EnqueueThreat(processor *queue.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ThreatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		event := datatypes.NewThreatEvent(req.Content, req.ThreatTypeHint, req.Context, req.SeverityHint)
		if err := processor.Enqueue(event); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"eventId": event.ID,
			"status":  event.Status,
		})
	}
}

// GetThreatEvent reports a tracked event's status and result.
func GetThreatEvent(processor *queue.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		event, ok := processor.Event(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown event"})
			return
		}
		c.JSON(http.StatusOK, event)
	}
}
