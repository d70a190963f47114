// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package advisor abstracts the optional external reasoning service
// consulted by the decision engine. An advisor improves explanation
// quality and may authorize auto-apply; it is never required for core
// detection. On timeout or error the engine falls back to rule-based
// classification.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// Request describes one entity's evaluation window.
type Request struct {
	EntityID    string
	DisplayName string
	Samples     []datatypes.MetricSample
	Context     datatypes.ContextConfig
}

// Advice is the advisor's verdict for one entity.
type Advice struct {
	Action             datatypes.Action
	ThrottleValue      *float64
	Explanation        string
	AuthorizeAutoApply bool
}

// Advisor is the pluggable reasoning backend.
type Advisor interface {
	// Advise classifies one entity's window. Implementations must
	// honor ctx cancellation; the engine bounds every call with a
	// timeout.
	Advise(ctx context.Context, req Request) (*Advice, error)

	// Rephrase rewrites a reasoning trace per the operator's
	// instruction. Implementations without generation capability
	// return the trace unchanged.
	Rephrase(ctx context.Context, trace, instruction string) (string, error)
}

// FromEnv builds the advisor selected by ADVISOR_BACKEND. Unknown or
// empty values fall back to the deterministic rule-based advisor, so
// a missing API key never disables detection.
func FromEnv() Advisor {
	backend := os.Getenv("ADVISOR_BACKEND")
	switch backend {
	case "claude", "anthropic":
		adv, err := NewAnthropicAdvisor()
		if err != nil {
			slog.Warn("Anthropic advisor unavailable, using rule-based fallback", "error", err)
			return NewRuleAdvisor()
		}
		slog.Info("Using Anthropic advisory backend")
		return adv
	case "openai":
		adv, err := NewOpenAIAdvisor()
		if err != nil {
			slog.Warn("OpenAI advisor unavailable, using rule-based fallback", "error", err)
			return NewRuleAdvisor()
		}
		slog.Info("Using OpenAI advisory backend")
		return adv
	case "", "rule", "none":
		slog.Info("Using rule-based advisory backend")
		return NewRuleAdvisor()
	default:
		slog.Warn("ADVISOR_BACKEND not recognized, using rule-based fallback", "backend", backend)
		return NewRuleAdvisor()
	}
}

// advicePrompt renders the classification prompt shared by the remote
// backends.
func advicePrompt(req Request) string {
	latest, _ := datatypes.LatestSample(req.Samples)
	return fmt.Sprintf(`You are an anomaly detector for per-process system metrics. Process %q (id %s) reports cpu_percent=%.1f and mem_mb=%.0f in its latest sample; the configured thresholds are cpu %.0f%% and %.0f MB.

You must choose how to fix it yourself:
- "Throttle CPU": reduce the process priority. Include "throttle_value" between 0.0 and 1.0 (0 = most throttled, 1 = normal). Use lower values (0.2-0.4) for severe CPU hogging, higher (0.5-0.7) for mild issues.
- "Kill": terminate the process. Use only for runaway or clearly non-essential processes when throttling is not enough.

Respond with exactly one JSON object, no other text:
{"anomaly": true|false, "reasoning_trace": "brief explanation", "suggested_action": "Throttle CPU"|"Kill", "throttle_value": <0.0-1.0>, "auto_apply": true|false}

Set "auto_apply" to true only when you are confident the fix is safe to execute without operator confirmation.`,
		req.DisplayName, req.EntityID, latest.CPUPercent, latest.MemMB,
		req.Context.CPUThresholdPercent, req.Context.MemThresholdMB)
}
