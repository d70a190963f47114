// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Message kinds broadcast to observers over the stream WebSocket.
const (
	MsgConnected        = "connected"
	MsgMetrics          = "metrics"
	MsgAnomaly          = "anomaly"
	MsgAllocationUpdate = "allocation_update"
	MsgSimulatorTick    = "simulator_tick"
)

// AllocationSource tags who wrote the current allocation set-point.
type AllocationSource string

const (
	SourceOperator AllocationSource = "operator"
	SourceEngine   AllocationSource = "engine"
)

// AllocationUpdate is the fan-out payload for a set-point change.
type AllocationUpdate struct {
	Allocation float64          `json:"allocation"`
	Source     AllocationSource `json:"source"`
}

// SimulatorTick is the fan-out payload for one synthetic demand step.
type SimulatorTick struct {
	Demand     float64 `json:"demand"`
	Allocation float64 `json:"allocation"`
}

// StreamEnvelope wraps every observer message with its kind.
type StreamEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Operator action kinds received on the stream WebSocket.
const (
	ActionApplyFix      = "apply_fix"
	ActionDismiss       = "dismiss"
	ActionSetAllocation = "set_allocation"
)

// OperatorRequest is an inbound operator action frame. DecisionID must
// reference the currently open decision; stale ids are no-ops.
type OperatorRequest struct {
	Type          string   `json:"type"`
	DecisionID    string   `json:"decision_id,omitempty"`
	Command       string   `json:"command,omitempty"`
	ThrottleValue *float64 `json:"throttle_value,omitempty"`
	Allocation    *float64 `json:"allocation,omitempty"`
}
