// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianWatch/services/engine"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// GetContext returns the current evaluation context.
func GetContext(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.ContextStore().Get())
	}
}

// PutContext replaces the evaluation context wholesale. Out-of-range
// numeric fields are clamped, not rejected; the normalized document is
// echoed back.
func PutContext(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg datatypes.ContextConfig
		if err := c.BindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		applied := eng.ContextStore().Put(cfg)
		c.JSON(http.StatusOK, applied)
	}
}

// SetAllocation applies an operator allocation write over plain HTTP.
// The WebSocket action is the primary path; this endpoint serves
// scripted operators.
func SetAllocation(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Allocation *float64 `json:"allocation" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		applied := eng.SetAllocation(*req.Allocation)
		c.JSON(http.StatusOK, gin.H{"allocation": applied})
	}
}
