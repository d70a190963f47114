// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action is the corrective action attached to an anomaly decision.
type Action string

const (
	ActionNone        Action = "none"
	ActionThrottleCPU Action = "throttle_cpu"
	ActionKill        Action = "kill"
)

// AnomalyDecision is one open anomaly for one entity. At most one open
// decision exists per entity; a new breach before resolution replaces
// the open one (latest detection wins, nothing is queued).
type AnomalyDecision struct {
	ID                  string    `json:"id"`
	EntityID            string    `json:"entity_id"`
	DisplayName         string    `json:"display_name"`
	Action              Action    `json:"action"`
	ThrottleValue       *float64  `json:"throttle_value,omitempty"`
	ReasoningTrace      string    `json:"reasoning_trace"`
	AutoApplied         bool      `json:"auto_applied"`
	SuggestReduceAlerts bool      `json:"suggest_reduce_alerts"`
	DismissCount        int       `json:"dismiss_count"`
	DetectedAt          time.Time `json:"detected_at"`
}

// FeedbackRecord holds the learned per-entity operator preferences.
// Keyed by entity id (stable process name preferred over pid: pids
// recycle, names do not). Never deleted automatically.
type FeedbackRecord struct {
	EntityKey          string    `json:"entity_key"`
	UsualThrottleValue *float64  `json:"usual_throttle_value,omitempty"`
	DismissCount       int       `json:"dismiss_count"`
	LastAction         string    `json:"last_action,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Command is the outbound corrective command addressed to the collector.
type Command struct {
	DecisionID string   `json:"decision_id"`
	EntityID   string   `json:"entity_id"`
	Action     Action   `json:"action"`
	Value      *float64 `json:"value,omitempty"`
}

// Encode renders the command in the collector wire format:
// "throttle:<entity>:<value>" or "kill:<entity>".
func (c Command) Encode() string {
	if c.Action == ActionKill {
		return "kill:" + c.EntityID
	}
	v := 0.5
	if c.Value != nil {
		v = ClampUnit(*c.Value)
	}
	return fmt.Sprintf("throttle:%s:%g", c.EntityID, v)
}

// ParseCommand decodes the collector wire format back into a Command.
// Used when an operator confirms a fix by submitting the raw command
// string shown in the UI.
func ParseCommand(raw string) (Command, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	switch {
	case len(parts) == 2 && parts[0] == "kill" && parts[1] != "":
		return Command{EntityID: parts[1], Action: ActionKill}, nil
	case len(parts) == 3 && parts[0] == "throttle" && parts[1] != "":
		v, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return Command{}, fmt.Errorf("invalid throttle value %q: %w", parts[2], err)
		}
		v = ClampUnit(v)
		return Command{EntityID: parts[1], Action: ActionThrottleCPU, Value: &v}, nil
	default:
		return Command{}, fmt.Errorf("unrecognized command %q", raw)
	}
}
