// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the Watchtower HTTP and WebSocket
// surfaces: telemetry ingestion, the observer stream, the collector
// command channel, and the operator configuration endpoints.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianWatch/services/engine"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
	"github.com/AleutianAI/AleutianWatch/services/engine/observability"
)

var validate = validator.New()

// TelemetryRequest is a collector push: one batch of samples.
type TelemetryRequest struct {
	Samples []datatypes.MetricSample `json:"samples"`
}

// IngestTelemetry accepts a batch of metric samples from a collector.
// Malformed samples are dropped and logged, never fatal: the response
// reports how many were accepted.
func IngestTelemetry(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TelemetryRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		accepted := 0
		for _, sample := range req.Samples {
			if err := validate.Struct(sample); err != nil {
				slog.Warn("dropping malformed sample", "entity", sample.EntityID, "error", err)
				observability.Default().SamplesDroppedTotal.Inc()
				continue
			}
			eng.Ingest(sample)
			accepted++
		}

		c.JSON(http.StatusAccepted, gin.H{
			"status":   "ok",
			"accepted": accepted,
			"dropped":  len(req.Samples) - accepted,
		})
	}
}

// MetricsSnapshot returns the buffer's current window for all
// entities.
func MetricsSnapshot(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"metrics": eng.Buffer().Snapshot()})
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
