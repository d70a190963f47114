// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the Watchtower decision and allocation
// engine: a bounded metric buffer, operator context and feedback
// stores, the per-entity anomaly state machine, the allocation control
// loop, the command dispatcher, and the observer fan-out hub.
package engine

import (
	"sync"
	"time"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// MetricBuffer is a time-windowed rolling history of samples per
// entity. Eviction is lazy: expired samples are dropped on the next
// Ingest or Snapshot touching that entity, no timer involved. Entities
// with no in-window samples are removed entirely so memory stays
// bounded under unbounded entity churn.
type MetricBuffer struct {
	mu      sync.Mutex
	window  time.Duration
	series  map[string][]datatypes.MetricSample
	nowFunc func() time.Time
}

// NewMetricBuffer creates a buffer retaining samples for window.
func NewMetricBuffer(window time.Duration) *MetricBuffer {
	return &MetricBuffer{
		window:  window,
		series:  make(map[string][]datatypes.MetricSample),
		nowFunc: time.Now,
	}
}

// SetWindow updates the retention window. Older samples fall out on
// the next eviction pass.
func (b *MetricBuffer) SetWindow(window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if window > 0 {
		b.window = window
	}
}

// Ingest appends a sample to its entity's series and opportunistically
// evicts anything older than the window.
func (b *MetricBuffer) Ingest(sample datatypes.MetricSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = b.nowFunc()
	}
	cutoff := b.nowFunc().Add(-b.window)
	kept := evictBefore(b.series[sample.EntityID], cutoff)
	b.series[sample.EntityID] = append(kept, sample)
}

// Snapshot returns a point-in-time copy of every entity's in-window
// samples. Safe to call concurrently with Ingest; the returned slices
// are owned by the caller. Entities whose samples have all expired are
// dropped from the buffer as a side effect.
func (b *MetricBuffer) Snapshot() map[string][]datatypes.MetricSample {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.nowFunc().Add(-b.window)
	out := make(map[string][]datatypes.MetricSample, len(b.series))
	for id, samples := range b.series {
		kept := evictBefore(samples, cutoff)
		if len(kept) == 0 {
			delete(b.series, id)
			continue
		}
		b.series[id] = kept
		cp := make([]datatypes.MetricSample, len(kept))
		copy(cp, kept)
		out[id] = cp
	}
	return out
}

// Latest returns the most recently observed sample for each entity.
func (b *MetricBuffer) Latest() map[string]datatypes.MetricSample {
	out := make(map[string]datatypes.MetricSample)
	for id, samples := range b.Snapshot() {
		latest := samples[0]
		for _, s := range samples[1:] {
			if s.ObservedAt.After(latest.ObservedAt) {
				latest = s
			}
		}
		out[id] = latest
	}
	return out
}

// EntityCount reports how many entities currently hold in-window
// samples.
func (b *MetricBuffer) EntityCount() int {
	return len(b.Snapshot())
}

// evictBefore drops samples observed before cutoff. Arrival order is
// preserved; out-of-order samples are simply another sample in the
// window, so no sorting happens here.
func evictBefore(samples []datatypes.MetricSample, cutoff time.Time) []datatypes.MetricSample {
	kept := samples[:0]
	for _, s := range samples {
		if !s.ObservedAt.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}
