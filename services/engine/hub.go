// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// observerQueueSize bounds each observer's pending-message queue. A
// consumer that falls this far behind is dropped rather than allowed
// to block ingestion or the decision cycle.
const observerQueueSize = 64

// Observer is one connected stream consumer. Messages arrive on C in
// the order they were produced; C is closed when the observer is
// dropped or the hub shuts down.
type Observer struct {
	ID string
	C  <-chan []byte
	c  chan []byte
}

// Hub fans out engine events to all connected observers. Each observer
// gets its own queue, so a slow websocket never backs up the
// broadcast path. No history is replayed to late joiners; they pick up
// at the next natural tick.
type Hub struct {
	mu        sync.Mutex
	observers map[string]*Observer
	closed    bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{observers: make(map[string]*Observer)}
}

// Register adds an observer and returns its handle.
func (h *Hub) Register() *Observer {
	c := make(chan []byte, observerQueueSize)
	obs := &Observer{ID: uuid.New().String(), C: c, c: c}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c)
		return obs
	}
	h.observers[obs.ID] = obs
	return obs
}

// Unregister removes an observer and closes its channel. Safe to call
// twice.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if obs, ok := h.observers[id]; ok {
		delete(h.observers, id)
		close(obs.c)
	}
}

// ObserverCount reports the number of connected observers.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Broadcast marshals the envelope once and enqueues it for every
// observer. Observers whose queue is full are dropped.
func (h *Hub) Broadcast(env datatypes.StreamEnvelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal stream envelope", "type", env.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, obs := range h.observers {
		select {
		case obs.c <- raw:
		default:
			slog.Warn("dropping slow stream observer", "observer", id, "type", env.Type)
			delete(h.observers, id)
			close(obs.c)
		}
	}
}

// Close drops all observers. Subsequent Register calls get an already
// closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, obs := range h.observers {
		delete(h.observers, id)
		close(obs.c)
	}
}
