// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianWatch/services/advisor"
	"github.com/AleutianAI/AleutianWatch/services/engine"
	"github.com/AleutianAI/AleutianWatch/services/engine/handlers"
)

// SetupRoutes registers the Watchtower HTTP and WebSocket surfaces.
func SetupRoutes(router *gin.Engine, eng *engine.Engine, adv advisor.Advisor) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/telemetry", handlers.IngestTelemetry(eng))
		v1.GET("/metrics/snapshot", handlers.MetricsSnapshot(eng))

		v1.GET("/context", handlers.GetContext(eng))
		v1.PUT("/context", handlers.PutContext(eng))
		v1.PUT("/allocation", handlers.SetAllocation(eng))

		v1.POST("/anomaly/rephrase", handlers.RephraseReasoning(adv))

		v1.GET("/stream/ws", handlers.HandleStreamWebSocket(eng))
		v1.GET("/commands/ws", handlers.HandleCommandsWebSocket(eng))
	}
}
