// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianWatch/services/advisor"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
	"github.com/AleutianAI/AleutianWatch/services/engine/observability"
)

// inboundQueueSize bounds the telemetry channel between the HTTP
// surface and the ingestion consumer.
const inboundQueueSize = 1024

// Options configures a new Engine.
type Options struct {
	Policy        Policy
	Context       datatypes.ContextConfig
	Advisor       advisor.Advisor
	Feedback      *FeedbackStore
	SimulatorMode bool
}

// Engine owns the full decision and allocation pipeline: ingestion
// buffer, context store, feedback store, per-entity decision state
// machine, allocation loop, command dispatcher, and observer fan-out.
// All stores are created at engine start and torn down at shutdown;
// there is no hidden static state.
type Engine struct {
	buffer     *MetricBuffer
	ctxStore   *ContextStore
	feedback   *FeedbackStore
	decisions  *DecisionEngine
	allocator  *Allocator
	dispatcher *Dispatcher
	hub        *Hub

	inbound   chan datatypes.MetricSample
	policy    Policy
	simulator bool

	// lastCycle is the previous tick's start, touched only by the cycle
	// goroutine. Allocation suggestions are considered computed as of
	// the previous tick, so an operator drag landing anywhere in the
	// current cycle outranks this cycle's suggestion.
	lastCycle time.Time
}

// New wires up an engine from its options.
func New(opts Options) *Engine {
	if opts.Policy.CycleInterval <= 0 {
		opts.Policy = DefaultPolicy()
	}
	if opts.Advisor == nil {
		opts.Advisor = advisor.NewRuleAdvisor()
	}

	cfg := opts.Context
	cfg.Normalize()

	hub := NewHub()
	dispatcher := NewDispatcher(128)
	eng := &Engine{
		buffer:     NewMetricBuffer(cfg.Window()),
		ctxStore:   NewContextStore(cfg),
		feedback:   opts.Feedback,
		dispatcher: dispatcher,
		hub:        hub,
		inbound:    make(chan datatypes.MetricSample, inboundQueueSize),
		policy:     opts.Policy,
		simulator:  opts.SimulatorMode,
	}
	eng.allocator = NewAllocator(0.5, func(u datatypes.AllocationUpdate) {
		hub.Broadcast(datatypes.StreamEnvelope{Type: datatypes.MsgAllocationUpdate, Payload: u})
	})
	eng.decisions = NewDecisionEngine(opts.Feedback, opts.Advisor, dispatcher, hub, opts.Policy)
	return eng
}

// Accessors for the HTTP/WebSocket surfaces.

func (e *Engine) Buffer() *MetricBuffer       { return e.buffer }
func (e *Engine) ContextStore() *ContextStore { return e.ctxStore }
func (e *Engine) Allocator() *Allocator       { return e.allocator }
func (e *Engine) Decisions() *DecisionEngine  { return e.decisions }
func (e *Engine) Hub() *Hub                   { return e.hub }
func (e *Engine) Dispatcher() *Dispatcher     { return e.dispatcher }
func (e *Engine) Feedback() *FeedbackStore    { return e.feedback }

// Ingest queues a sample for the ingestion consumer. Under extreme
// backpressure the sample is dropped and logged; telemetry is lossy by
// contract, never a crash.
func (e *Engine) Ingest(sample datatypes.MetricSample) {
	select {
	case e.inbound <- sample:
	default:
		slog.Warn("inbound telemetry queue full, dropping sample", "entity", sample.EntityID)
		observability.Default().SamplesDroppedTotal.Inc()
	}
}

// ApplyFix resolves a decision on the operator's behalf. The throttle
// value comes from, in order: the explicit override, the raw command
// string the UI echoed back, then the decision's own value.
func (e *Engine) ApplyFix(decisionID, rawCommand string, throttleValue *float64) bool {
	if throttleValue == nil && rawCommand != "" {
		if cmd, err := datatypes.ParseCommand(rawCommand); err == nil && cmd.Value != nil {
			throttleValue = cmd.Value
		}
	}
	return e.decisions.ApplyFix(decisionID, throttleValue)
}

// Dismiss closes a decision without dispatching.
func (e *Engine) Dismiss(decisionID string) bool {
	return e.decisions.Dismiss(decisionID)
}

// SetAllocation applies an operator allocation drag.
func (e *Engine) SetAllocation(value float64) float64 {
	return e.allocator.Set(value)
}

// Run drives the engine until ctx is cancelled: one ingestion
// consumer, one fixed-interval decision/allocation cycle, one metrics
// broadcast ticker, and the simulator ticker when enabled. Returns the
// first loop error, or nil on clean shutdown.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.consumeInbound(ctx) })
	g.Go(func() error { return e.runCycle(ctx) })
	g.Go(func() error { return e.runBroadcast(ctx) })
	if e.simulator {
		g.Go(func() error { return e.runSimulator(ctx) })
	}

	err := g.Wait()
	e.hub.Close()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (e *Engine) consumeInbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample := <-e.inbound:
			e.buffer.Ingest(sample)
			observability.Default().SamplesIngestedTotal.Inc()
		}
	}
}

// runCycle is the fixed-interval decision and allocation tick,
// independent of sample arrival rate.
func (e *Engine) runCycle(ctx context.Context) error {
	ticker := time.NewTicker(e.policy.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Cycle(ctx)
		}
	}
}

// Cycle runs one decision/allocation evaluation over a consistent
// snapshot taken at cycle start. Exported so tests and operators can
// force a cycle without waiting for the tick.
func (e *Engine) Cycle(ctx context.Context) {
	cycleStart := time.Now()
	asOf := e.lastCycle
	e.lastCycle = cycleStart
	cfg := e.ctxStore.Get()
	e.buffer.SetWindow(cfg.Window())
	snapshot := e.buffer.Snapshot()

	e.decisions.EvaluateCycle(ctx, snapshot, cfg)

	var demand float64
	if e.simulator {
		demand = CosineDemand(cycleStart)
	} else {
		demand = MeanCPUDemand(latestOf(snapshot))
	}
	e.allocator.RecordDemand(demand)
	if suggestion, ok := SuggestFromDemand(e.allocator.DemandHistory()); ok {
		e.allocator.Suggest(suggestion, asOf)
	}
}

// runBroadcast pushes the latest per-entity metrics to observers for
// the live graph.
func (e *Engine) runBroadcast(ctx context.Context) error {
	ticker := time.NewTicker(e.policy.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.hub.Broadcast(datatypes.StreamEnvelope{
				Type:    datatypes.MsgMetrics,
				Payload: e.LatestMetrics(),
			})
		}
	}
}

// runSimulator emits one synthetic demand step per broadcast interval.
func (e *Engine) runSimulator(ctx context.Context) error {
	ticker := time.NewTicker(e.policy.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			demand := CosineDemand(t)
			e.allocator.RecordDemand(demand)
			e.hub.Broadcast(datatypes.StreamEnvelope{
				Type: datatypes.MsgSimulatorTick,
				Payload: datatypes.SimulatorTick{
					Demand:     demand,
					Allocation: e.allocator.Current(),
				},
			})
		}
	}
}

// LatestMetrics returns the most recent sample per entity, the payload
// of the metrics fan-out message.
func (e *Engine) LatestMetrics() []datatypes.MetricSample {
	latest := e.buffer.Latest()
	out := make([]datatypes.MetricSample, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	return out
}

func latestOf(snapshot map[string][]datatypes.MetricSample) map[string]datatypes.MetricSample {
	out := make(map[string]datatypes.MetricSample, len(snapshot))
	for id, samples := range snapshot {
		if s, ok := datatypes.LatestSample(samples); ok {
			out[id] = s
		}
	}
	return out
}
