// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
	"github.com/AleutianAI/AleutianWatch/services/engine/observability"
)

// ErrCommandChannelFull is returned when the outbound command channel
// cannot accept another command. The caller decides whether to
// resurface the decision; the dispatcher never retries.
var ErrCommandChannelFull = errors.New("outbound command channel is full")

// maxDispatchedKeys bounds the idempotency set. Oldest keys are
// evicted first; a decision re-dispatched after eviction publishes its
// command again, which collectors tolerate because commands carry
// absolute values, not increments.
const maxDispatchedKeys = 4096

// Dispatcher turns resolved decisions into collector commands. The
// decision id is the idempotency key: dispatching the same decision
// twice publishes exactly one command, so transport retries upstream
// cannot re-trigger business logic.
type Dispatcher struct {
	mu         sync.Mutex
	dispatched map[string]struct{}
	order      []string
	out        chan datatypes.Command
}

// NewDispatcher creates a dispatcher with an outbound buffer of the
// given size.
func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 128
	}
	return &Dispatcher{
		dispatched: make(map[string]struct{}),
		out:        make(chan datatypes.Command, buffer),
	}
}

// Commands is the outbound channel consumed by the collector
// transport.
func (d *Dispatcher) Commands() <-chan datatypes.Command {
	return d.out
}

// Dispatch publishes the command for a resolved decision. A repeat
// dispatch of the same decision id is a successful no-op.
func (d *Dispatcher) Dispatch(decision datatypes.AnomalyDecision) error {
	if decision.ID == "" {
		return errors.New("decision has no id")
	}
	if decision.Action == datatypes.ActionNone {
		return fmt.Errorf("decision %s carries no action", decision.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, seen := d.dispatched[decision.ID]; seen {
		slog.Debug("suppressing duplicate dispatch", "decision", decision.ID)
		return nil
	}

	cmd := datatypes.Command{
		DecisionID: decision.ID,
		EntityID:   decision.EntityID,
		Action:     decision.Action,
		Value:      decision.ThrottleValue,
	}
	select {
	case d.out <- cmd:
		if len(d.order) >= maxDispatchedKeys {
			delete(d.dispatched, d.order[0])
			d.order = d.order[1:]
		}
		d.dispatched[decision.ID] = struct{}{}
		d.order = append(d.order, decision.ID)
		observability.Default().CommandsDispatchedTotal.WithLabelValues(string(cmd.Action)).Inc()
		slog.Info("dispatched command", "decision", decision.ID, "command", cmd.Encode())
		return nil
	default:
		return ErrCommandChannelFull
	}
}
