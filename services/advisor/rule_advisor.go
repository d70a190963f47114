// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package advisor

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// defaultThrottleValue is the fallback when neither operator feedback
// nor a remote advisor supplies one.
const defaultThrottleValue = 0.5

// RuleAdvisor is the deterministic threshold classifier. It doubles as
// the fallback path when a remote advisor times out or errors, and as
// the test backend. It never authorizes auto-apply.
type RuleAdvisor struct{}

// NewRuleAdvisor returns the rule-based advisor.
func NewRuleAdvisor() *RuleAdvisor {
	return &RuleAdvisor{}
}

// Advise classifies the newest sample against the configured
// thresholds and renders a templated explanation. The newest sample is
// picked by ObservedAt, matching what the engine evaluates.
func (r *RuleAdvisor) Advise(_ context.Context, req Request) (*Advice, error) {
	latest, ok := datatypes.LatestSample(req.Samples)
	if !ok {
		return &Advice{Action: datatypes.ActionNone}, nil
	}
	name := req.DisplayName
	if name == "" {
		name = req.EntityID
	}

	if latest.CPUPercent > req.Context.CPUThresholdPercent {
		v := defaultThrottleValue
		return &Advice{
			Action:        datatypes.ActionThrottleCPU,
			ThrottleValue: &v,
			Explanation: fmt.Sprintf("CPU %.1f%% exceeds threshold %.0f%% for process %s.",
				latest.CPUPercent, req.Context.CPUThresholdPercent, name),
		}, nil
	}
	if latest.MemMB > req.Context.MemThresholdMB {
		v := defaultThrottleValue
		return &Advice{
			Action:        datatypes.ActionThrottleCPU,
			ThrottleValue: &v,
			Explanation: fmt.Sprintf("Memory %.0f MB exceeds threshold %.0f MB for process %s.",
				latest.MemMB, req.Context.MemThresholdMB, name),
		}, nil
	}
	return &Advice{Action: datatypes.ActionNone}, nil
}

// Rephrase returns the trace unchanged; the rule advisor has no
// generation capability.
func (r *RuleAdvisor) Rephrase(_ context.Context, trace, _ string) (string, error) {
	return trace, nil
}
