// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

func sample(entity string, cpu, mem float64, at time.Time) datatypes.MetricSample {
	return datatypes.MetricSample{
		EntityID:    entity,
		DisplayName: entity,
		CPUPercent:  cpu,
		MemMB:       mem,
		ObservedAt:  at,
	}
}

func TestMetricBuffer_WindowEviction(t *testing.T) {
	buf := NewMetricBuffer(60 * time.Second)
	now := time.Now()

	buf.Ingest(sample("worker", 10, 100, now.Add(-2*time.Minute)))
	buf.Ingest(sample("worker", 20, 100, now.Add(-30*time.Second)))
	buf.Ingest(sample("worker", 30, 100, now))

	snap := buf.Snapshot()
	require.Len(t, snap["worker"], 2)

	cutoff := time.Now().Add(-60 * time.Second)
	for _, s := range snap["worker"] {
		assert.False(t, s.ObservedAt.Before(cutoff),
			"snapshot contains sample older than the window: %v", s.ObservedAt)
	}
}

func TestMetricBuffer_EntityDroppedWhenStale(t *testing.T) {
	buf := NewMetricBuffer(60 * time.Second)
	buf.Ingest(sample("ghost", 10, 100, time.Now().Add(-5*time.Minute)))
	buf.Ingest(sample("live", 10, 100, time.Now()))

	snap := buf.Snapshot()
	assert.NotContains(t, snap, "ghost")
	assert.Contains(t, snap, "live")
	assert.Equal(t, 1, buf.EntityCount())
}

func TestMetricBuffer_SnapshotIsACopy(t *testing.T) {
	buf := NewMetricBuffer(time.Minute)
	buf.Ingest(sample("worker", 10, 100, time.Now()))

	snap := buf.Snapshot()
	snap["worker"][0].CPUPercent = 999

	again := buf.Snapshot()
	assert.Equal(t, 10.0, again["worker"][0].CPUPercent, "mutating a snapshot must not affect the buffer")
}

func TestMetricBuffer_OutOfOrderArrival(t *testing.T) {
	buf := NewMetricBuffer(time.Minute)
	now := time.Now()

	buf.Ingest(sample("worker", 30, 100, now))
	buf.Ingest(sample("worker", 20, 100, now.Add(-10*time.Second)))

	latest := buf.Latest()
	require.Contains(t, latest, "worker")
	assert.Equal(t, 30.0, latest["worker"].CPUPercent, "latest must follow observed_at, not arrival order")
}

func TestMetricBuffer_ZeroObservedAtDefaultsToNow(t *testing.T) {
	buf := NewMetricBuffer(time.Minute)
	buf.Ingest(datatypes.MetricSample{EntityID: "worker", CPUPercent: 5})

	snap := buf.Snapshot()
	require.Len(t, snap["worker"], 1)
	assert.WithinDuration(t, time.Now(), snap["worker"][0].ObservedAt, time.Second)
}

func TestMetricBuffer_ConcurrentIngestAndSnapshot(t *testing.T) {
	buf := NewMetricBuffer(time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				buf.Ingest(sample(fmt.Sprintf("worker-%d", n), float64(j), 100, time.Now()))
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			_ = buf.Snapshot()
		}
	}()
	wg.Wait()

	assert.Equal(t, 8, buf.EntityCount())
}
