// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"sync"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// ContextStore owns the singleton ContextConfig. Reads never block on
// writers beyond the mutex hold; writes are serialized and
// last-committed-wins. Put replaces the whole document -- merging
// partial operator edits is the caller's job.
type ContextStore struct {
	mu  sync.RWMutex
	cfg datatypes.ContextConfig
}

// NewContextStore creates a store seeded with the given config.
func NewContextStore(initial datatypes.ContextConfig) *ContextStore {
	initial.Normalize()
	return &ContextStore{cfg: initial}
}

// Get returns the latest committed config as a copy.
func (s *ContextStore) Get() datatypes.ContextConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyConfig(s.cfg)
}

// Put replaces the config. Numeric fields are clamped, watch and
// ignore lists deduplicated. The normalized config is returned.
func (s *ContextStore) Put(cfg datatypes.ContextConfig) datatypes.ContextConfig {
	cfg.Normalize()
	s.mu.Lock()
	s.cfg = copyConfig(cfg)
	s.mu.Unlock()
	return cfg
}

func copyConfig(cfg datatypes.ContextConfig) datatypes.ContextConfig {
	out := cfg
	// Non-nil copies so the lists always serialize as arrays.
	out.Watch = append(make([]string, 0, len(cfg.Watch)), cfg.Watch...)
	out.Ignore = append(make([]string, 0, len(cfg.Ignore)), cfg.Ignore...)
	return out
}
