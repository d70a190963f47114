// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianWatch/services/advisor"
)

// RephraseRequest asks the advisor to rewrite a reasoning trace.
type RephraseRequest struct {
	ReasoningTrace string `json:"reasoning_trace" binding:"required"`
	Instruction    string `json:"instruction"`
}

// RephraseReasoning rewrites an anomaly explanation via the advisor.
// Advisory failure is not an error surface: the original trace comes
// back unchanged.
func RephraseReasoning(adv advisor.Advisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RephraseRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		trace, err := adv.Rephrase(c.Request.Context(), req.ReasoningTrace, req.Instruction)
		if err != nil {
			slog.Warn("rephrase failed, returning original trace", "error", err)
			trace = req.ReasoningTrace
		}
		c.JSON(http.StatusOK, gin.H{"reasoning_trace": trace})
	}
}
