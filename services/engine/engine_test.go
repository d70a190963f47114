// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWatch/services/advisor"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

func newRunningEngine(t *testing.T, policy Policy) *Engine {
	t.Helper()
	eng := New(Options{
		Policy:   policy,
		Context:  datatypes.DefaultContext(),
		Advisor:  advisor.NewRuleAdvisor(),
		Feedback: newTestFeedbackStore(t),
	})
	t.Cleanup(eng.Hub().Close)
	return eng
}

// drainInbound pumps queued telemetry into the buffer the way the
// ingestion consumer does, without starting Run's loops.
func drainInbound(eng *Engine) {
	for {
		select {
		case s := <-eng.inbound:
			eng.buffer.Ingest(s)
		default:
			return
		}
	}
}

func TestEngine_CycleOpensDecisionFromIngestedTelemetry(t *testing.T) {
	eng := newRunningEngine(t, testPolicy())

	eng.Ingest(sample("worker", 97, 400, time.Now()))
	drainInbound(eng)
	eng.Cycle(context.Background())

	decision, ok := eng.Decisions().OpenDecision("worker")
	require.True(t, ok, "end to end: ingest, cycle, open decision")
	assert.Equal(t, datatypes.ActionThrottleCPU, decision.Action)
}

func TestEngine_ApplyFixParsesRawCommandFallback(t *testing.T) {
	eng := newRunningEngine(t, testPolicy())

	eng.Ingest(sample("worker", 97, 400, time.Now()))
	drainInbound(eng)
	eng.Cycle(context.Background())
	decision, ok := eng.Decisions().OpenDecision("worker")
	require.True(t, ok)

	// The UI echoes the raw command string back instead of a structured
	// value; the engine extracts the throttle from it.
	require.True(t, eng.ApplyFix(decision.ID, "throttle:worker:0.35", nil))

	rec, err := eng.Feedback().Lookup("worker")
	require.NoError(t, err)
	require.NotNil(t, rec.UsualThrottleValue)
	assert.Equal(t, 0.35, *rec.UsualThrottleValue)
}

func TestEngine_OperatorAllocationOutranksSameCycleSuggestion(t *testing.T) {
	eng := newRunningEngine(t, testPolicy())

	// Prime lastCycle so the operator drag lands inside a cycle.
	eng.Cycle(context.Background())

	eng.Ingest(sample("worker", 40, 400, time.Now()))
	drainInbound(eng)

	eng.SetAllocation(0.8)
	eng.Cycle(context.Background())
	assert.Equal(t, 0.8, eng.Allocator().Current(),
		"a same-cycle suggestion must not reduce the operator's value")

	// By the tick after that the operator's drag is old news and the
	// engine resumes tracking demand.
	eng.Cycle(context.Background())
	assert.Equal(t, 0.4, eng.Allocator().Current())
}

func TestEngine_CycleRecordsDemandHistory(t *testing.T) {
	eng := newRunningEngine(t, testPolicy())

	eng.Ingest(sample("worker", 60, 400, time.Now()))
	drainInbound(eng)
	eng.Cycle(context.Background())

	history := eng.Allocator().DemandHistory()
	require.Len(t, history, 1)
	assert.Equal(t, 60.0, history[0].Demand)
	assert.Equal(t, 0.6, eng.Allocator().Current(), "the set-point tracks observed demand")
}

func TestEngine_IngestDropsUnderBackpressureWithoutBlocking(t *testing.T) {
	eng := newRunningEngine(t, testPolicy())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < inboundQueueSize+100; i++ {
			eng.Ingest(sample("worker", 10, 100, time.Now()))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Ingest blocked on a full queue")
	}
}

func TestEngine_LatestMetricsReflectsBuffer(t *testing.T) {
	eng := newRunningEngine(t, testPolicy())
	now := time.Now()

	eng.Ingest(sample("a", 10, 100, now.Add(-time.Second)))
	eng.Ingest(sample("a", 20, 100, now))
	eng.Ingest(sample("b", 30, 100, now))
	drainInbound(eng)

	latest := eng.LatestMetrics()
	require.Len(t, latest, 2)
	byEntity := map[string]datatypes.MetricSample{}
	for _, s := range latest {
		byEntity[s.EntityID] = s
	}
	assert.Equal(t, 20.0, byEntity["a"].CPUPercent)
	assert.Equal(t, 30.0, byEntity["b"].CPUPercent)
}

func TestEngine_RunShutsDownCleanly(t *testing.T) {
	policy := testPolicy()
	policy.CycleInterval = 10 * time.Millisecond
	policy.BroadcastInterval = 10 * time.Millisecond
	eng := New(Options{
		Policy:        policy,
		Context:       datatypes.DefaultContext(),
		Advisor:       advisor.NewRuleAdvisor(),
		Feedback:      newTestFeedbackStore(t),
		SimulatorMode: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	obs := eng.Hub().Register()
	// At least one broadcast proves the loops are live.
	select {
	case <-obs.C:
	case <-time.After(5 * time.Second):
		t.Fatal("no broadcast before shutdown")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err, "cancellation is a clean shutdown, not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestEngine_SimulatorTickBroadcasts(t *testing.T) {
	policy := testPolicy()
	policy.CycleInterval = time.Hour
	policy.BroadcastInterval = 10 * time.Millisecond
	eng := New(Options{
		Policy:        policy,
		Context:       datatypes.DefaultContext(),
		Advisor:       advisor.NewRuleAdvisor(),
		Feedback:      newTestFeedbackStore(t),
		SimulatorMode: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	obs := eng.Hub().Register()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case raw := <-obs.C:
			var env datatypes.StreamEnvelope
			require.NoError(t, json.Unmarshal(raw, &env))
			if env.Type == datatypes.MsgSimulatorTick {
				return
			}
		case <-deadline:
			t.Fatal("no simulator tick observed")
		}
	}
}
