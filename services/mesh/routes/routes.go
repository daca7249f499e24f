// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SentryMeshAI/SentryMesh/services/mesh"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/handlers"
)

func SetupRoutes(router *gin.Engine, core *mesh.Core) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/threats", handlers.EnqueueThreat(core.Queue))
		v1.GET("/threats/:id", handlers.GetThreatEvent(core.Queue))
		v1.GET("/mesh/status", handlers.MeshStatus(core.Bus, core.Cache, core.Queue))
		v1.GET("/mesh/ws", handlers.HandleNodeWebSocket(core.Bus, core.Hooks()))
		v1.GET("/breakers", handlers.BreakerStatus(core.Breakers))
	}
}
