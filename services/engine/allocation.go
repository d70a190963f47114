// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"math"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// DemandPoint is one observed or synthetic demand reading.
type DemandPoint struct {
	At     time.Time `json:"at"`
	Demand float64   `json:"demand"`
}

// demandHistoryLen bounds the retained demand history.
const demandHistoryLen = 60

// simulatorCosinePeriod is the period of the synthetic demand wave.
const simulatorCosinePeriod = 30 * time.Second

// Allocator maintains the allocation set-point in [0,1]. Two writers
// exist: the operator (absolute, authoritative) and the engine
// (suggestion, computed once per cycle). They are reconciled by last
// write wins with a source tag; an engine suggestion computed before
// the operator's latest write is discarded, never merged. No smoothing
// is applied: the set-point is exactly the last accepted write.
type Allocator struct {
	mu           sync.Mutex
	current      float64
	lastOperator time.Time
	history      []DemandPoint
	onUpdate     func(datatypes.AllocationUpdate)
}

// NewAllocator creates an allocator starting at the given set-point.
// onUpdate is invoked, outside the allocator lock, for every accepted
// write; pass nil to disable event emission.
func NewAllocator(initial float64, onUpdate func(datatypes.AllocationUpdate)) *Allocator {
	return &Allocator{
		current:  datatypes.ClampUnit(initial),
		onUpdate: onUpdate,
	}
}

// Current returns the set-point.
func (a *Allocator) Current() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Set applies an operator write. Always wins.
func (a *Allocator) Set(value float64) float64 {
	a.mu.Lock()
	a.current = datatypes.ClampUnit(value)
	a.lastOperator = time.Now()
	v := a.current
	a.mu.Unlock()

	a.emit(v, datatypes.SourceOperator)
	return v
}

// Suggest applies an engine write computed at asOf. If the operator
// wrote after asOf the suggestion is stale and discarded. Returns the
// resulting set-point and whether the suggestion was accepted.
func (a *Allocator) Suggest(value float64, asOf time.Time) (float64, bool) {
	a.mu.Lock()
	if a.lastOperator.After(asOf) {
		v := a.current
		a.mu.Unlock()
		return v, false
	}
	a.current = datatypes.ClampUnit(value)
	v := a.current
	a.mu.Unlock()

	a.emit(v, datatypes.SourceEngine)
	return v, true
}

// RecordDemand appends a demand reading to the bounded history.
func (a *Allocator) RecordDemand(demand float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, DemandPoint{At: time.Now(), Demand: demand})
	if len(a.history) > demandHistoryLen {
		a.history = a.history[len(a.history)-demandHistoryLen:]
	}
}

// DemandHistory returns a copy of the retained demand readings.
func (a *Allocator) DemandHistory() []DemandPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]DemandPoint(nil), a.history...)
}

func (a *Allocator) emit(value float64, source datatypes.AllocationSource) {
	if a.onUpdate != nil {
		a.onUpdate(datatypes.AllocationUpdate{Allocation: value, Source: source})
	}
}

// MeanCPUDemand derives the demand signal from observed load: the mean
// cpu_percent of the latest sample per entity, in [0,100].
func MeanCPUDemand(latest map[string]datatypes.MetricSample) float64 {
	if len(latest) == 0 {
		return 0
	}
	var sum float64
	for _, s := range latest {
		sum += s.CPUPercent
	}
	return sum / float64(len(latest))
}

// CosineDemand is the synthetic demand signal used in simulator mode:
// a cosine wave in [0,100] over the configured period.
func CosineDemand(t time.Time) float64 {
	phase := float64(t.UnixNano()) / float64(simulatorCosinePeriod.Nanoseconds())
	v := 50 + 40*math.Cos(2*math.Pi*phase)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SuggestFromDemand maps the latest demand reading to an allocation
// suggestion. Demand is on a 0-100 scale, allocation on 0-1; tracking
// demand directly keeps the set-point proportional to observed need.
func SuggestFromDemand(history []DemandPoint) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	return datatypes.ClampUnit(history[len(history)-1].Demand / 100), true
}
