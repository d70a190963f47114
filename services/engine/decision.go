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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianWatch/services/advisor"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
	"github.com/AleutianAI/AleutianWatch/services/engine/observability"
)

// Policy holds the tunable decision heuristics. The numbers are
// deployment knobs, not invariants; DefaultPolicy mirrors the shipped
// configuration.
type Policy struct {
	// CycleInterval is the fixed decision/allocation tick.
	CycleInterval time.Duration `yaml:"cycle_interval"`

	// BroadcastInterval is the metrics fan-out tick.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// ResolveCooldown keeps a resolved entity from re-opening for at
	// least one evaluation cycle, so a single noisy sample cannot
	// re-alert immediately.
	ResolveCooldown time.Duration `yaml:"resolve_cooldown"`

	// AutoApplyCooldown is the minimum gap between auto-applied fixes
	// for the same entity.
	AutoApplyCooldown time.Duration `yaml:"auto_apply_cooldown"`

	// AdvisoryTimeout bounds each advisory call. On expiry the engine
	// falls back to rule-based classification.
	AdvisoryTimeout time.Duration `yaml:"advisory_timeout"`

	// KillMemCeilingMB is the hard memory ceiling above which a breach
	// is classified as memory-exhaustion and the action becomes Kill
	// instead of ThrottleCPU.
	KillMemCeilingMB float64 `yaml:"kill_mem_ceiling_mb"`

	// FallbackThrottle is used when neither operator feedback nor the
	// advisor supplies a throttle value.
	FallbackThrottle float64 `yaml:"fallback_throttle"`

	// AutoApplyEnabled gates advisory-authorized auto-apply. Off means
	// every decision waits for operator confirmation.
	AutoApplyEnabled bool `yaml:"auto_apply_enabled"`
}

// DefaultPolicy returns the shipped heuristics.
func DefaultPolicy() Policy {
	return Policy{
		CycleInterval:     10 * time.Second,
		BroadcastInterval: 1500 * time.Millisecond,
		ResolveCooldown:   15 * time.Second,
		AutoApplyCooldown: 60 * time.Second,
		AdvisoryTimeout:   5 * time.Second,
		KillMemCeilingMB:  6000,
		FallbackThrottle:  0.5,
		AutoApplyEnabled:  true,
	}
}

// DecisionEngine runs the per-entity anomaly state machine:
//
//	Idle -> Evaluating -> Open -> Resolved (apply/dismiss)
//	                        \-> Superseded (newer breach replaces it)
//
// At most one open decision exists per entity. Advisory delegation is
// out-of-band per entity with a bounded timeout; rule-based
// classification is always the floor.
type DecisionEngine struct {
	mu            sync.Mutex
	open          map[string]*datatypes.AnomalyDecision
	cooldownUntil map[string]time.Time
	lastAutoApply map[string]time.Time
	inFlight      map[string]struct{}

	// epoch bumps on every operator resolve. An evaluation captures the
	// entity's epoch before its advisory call; a mismatch when the
	// result lands means the operator acted in the meantime and the
	// result is stale, regardless of any cooldown.
	epoch map[string]uint64

	feedback   *FeedbackStore
	adv        advisor.Advisor
	dispatcher *Dispatcher
	hub        *Hub
	policy     Policy
}

// NewDecisionEngine wires the state machine to its collaborators.
func NewDecisionEngine(feedback *FeedbackStore, adv advisor.Advisor, dispatcher *Dispatcher, hub *Hub, policy Policy) *DecisionEngine {
	return &DecisionEngine{
		open:          make(map[string]*datatypes.AnomalyDecision),
		cooldownUntil: make(map[string]time.Time),
		lastAutoApply: make(map[string]time.Time),
		inFlight:      make(map[string]struct{}),
		epoch:         make(map[string]uint64),
		feedback:      feedback,
		adv:           adv,
		dispatcher:    dispatcher,
		hub:           hub,
		policy:        policy,
	}
}

// EvaluateCycle runs one decision cycle over a consistent snapshot of
// the buffer and context taken at cycle start. Entities are evaluated
// independently; a slow advisory call for one entity never delays the
// others.
func (e *DecisionEngine) EvaluateCycle(ctx context.Context, snapshot map[string][]datatypes.MetricSample, cfg datatypes.ContextConfig) {
	started := time.Now()
	defer func() {
		observability.Default().CycleDurationSeconds.Observe(time.Since(started).Seconds())
	}()

	var wg sync.WaitGroup
	for entityID, samples := range snapshot {
		latest, ok := datatypes.LatestSample(samples)
		if !ok {
			continue
		}
		watched := cfg.IsWatched(entityID, latest.DisplayName)
		if !watched && cfg.IsIgnored(entityID, latest.DisplayName) {
			continue
		}
		if latest.CPUPercent <= cfg.CPUThresholdPercent && latest.MemMB <= cfg.MemThresholdMB {
			continue
		}
		e.evaluateEntity(ctx, &wg, entityID, samples, latest, cfg)
	}
	// Entities evaluate in parallel, each advisory call individually
	// bounded by AdvisoryTimeout, so the join stays inside the cycle's
	// time budget.
	wg.Wait()
}

// evaluateEntity classifies one breaching entity, consults the advisor
// out-of-band, and opens (or auto-applies) the resulting decision.
func (e *DecisionEngine) evaluateEntity(ctx context.Context, wg *sync.WaitGroup, entityID string, samples []datatypes.MetricSample, latest datatypes.MetricSample, cfg datatypes.ContextConfig) {
	now := time.Now()

	e.mu.Lock()
	if now.Before(e.cooldownUntil[entityID]) {
		e.mu.Unlock()
		return
	}
	if _, busy := e.inFlight[entityID]; busy {
		e.mu.Unlock()
		return
	}
	e.inFlight[entityID] = struct{}{}
	epoch := e.epoch[entityID]
	e.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.inFlight, entityID)
			e.mu.Unlock()
		}()

		decision := e.composeDecision(ctx, entityID, samples, latest, cfg)
		e.openDecision(decision, epoch)
	}()
}

// composeDecision builds the decision for a confirmed breach. The
// action comes from the severity policy; the advisor contributes the
// explanation, a throttle suggestion, and auto-apply authorization,
// never the detection itself.
func (e *DecisionEngine) composeDecision(ctx context.Context, entityID string, samples []datatypes.MetricSample, latest datatypes.MetricSample, cfg datatypes.ContextConfig) datatypes.AnomalyDecision {
	action := datatypes.ActionThrottleCPU
	if latest.MemMB >= e.policy.KillMemCeilingMB {
		action = datatypes.ActionKill
	}

	rule := advisor.NewRuleAdvisor()
	ruleAdvice, _ := rule.Advise(ctx, advisor.Request{
		EntityID:    entityID,
		DisplayName: latest.DisplayName,
		Samples:     samples,
		Context:     cfg,
	})

	trace := ruleAdvice.Explanation
	var advisoryThrottle *float64
	autoAuthorized := false

	advCtx, cancel := context.WithTimeout(ctx, e.policy.AdvisoryTimeout)
	advice, err := e.adv.Advise(advCtx, advisor.Request{
		EntityID:    entityID,
		DisplayName: latest.DisplayName,
		Samples:     samples,
		Context:     cfg,
	})
	cancel()
	switch {
	case err != nil:
		// Advisory failure is never fatal; the rule trace stands.
		slog.Debug("advisory call failed, using rule-based classification", "entity", entityID, "error", err)
		observability.Default().AdvisoryFailuresTotal.Inc()
	case advice.Action == datatypes.ActionNone:
		// The advisor disagreeing with a threshold breach does not
		// suppress detection; it only forfeits its explanation.
	default:
		if advice.Explanation != "" {
			trace = advice.Explanation
		}
		advisoryThrottle = advice.ThrottleValue
		autoAuthorized = advice.AuthorizeAutoApply
	}

	decision := datatypes.AnomalyDecision{
		ID:             uuid.New().String(),
		EntityID:       entityID,
		DisplayName:    latest.DisplayName,
		Action:         action,
		ReasoningTrace: trace,
		DetectedAt:     time.Now(),
	}

	if action == datatypes.ActionThrottleCPU {
		value := e.policy.FallbackThrottle
		if advisoryThrottle != nil {
			value = *advisoryThrottle
		}
		if rec, err := e.feedback.Lookup(entityID); err == nil {
			if rec.UsualThrottleValue != nil {
				value = *rec.UsualThrottleValue
			}
			decision.DismissCount = rec.DismissCount
			decision.SuggestReduceAlerts = rec.DismissCount >= DismissSuggestThreshold
		}
		value = datatypes.ClampUnit(value)
		decision.ThrottleValue = &value
	} else if rec, err := e.feedback.Lookup(entityID); err == nil {
		decision.DismissCount = rec.DismissCount
		decision.SuggestReduceAlerts = rec.DismissCount >= DismissSuggestThreshold
	}

	decision.AutoApplied = e.policy.AutoApplyEnabled && autoAuthorized
	return decision
}

// openDecision publishes the decision. A newer breach replaces any
// still-open decision for the entity (latest detection wins, nothing
// queues). Auto-applied decisions dispatch immediately and close
// without waiting for the operator.
func (e *DecisionEngine) openDecision(decision datatypes.AnomalyDecision, epoch uint64) {
	now := time.Now()

	e.mu.Lock()
	// The entity may have been resolved while the advisory call was in
	// flight; a bumped epoch or an active cooldown tells us the result
	// arrived too late.
	if e.epoch[decision.EntityID] != epoch || now.Before(e.cooldownUntil[decision.EntityID]) {
		e.mu.Unlock()
		slog.Debug("discarding stale evaluation result", "entity", decision.EntityID)
		return
	}

	if decision.AutoApplied {
		if now.Sub(e.lastAutoApply[decision.EntityID]) < e.policy.AutoApplyCooldown {
			decision.AutoApplied = false
		}
	}

	if prev, ok := e.open[decision.EntityID]; ok {
		slog.Info("superseding open decision", "entity", decision.EntityID, "old", prev.ID, "new", decision.ID)
	}

	if decision.AutoApplied {
		delete(e.open, decision.EntityID)
		e.lastAutoApply[decision.EntityID] = now
		e.cooldownUntil[decision.EntityID] = now.Add(e.policy.ResolveCooldown)
		e.mu.Unlock()

		if err := e.dispatcher.Dispatch(decision); err != nil {
			slog.Error("auto-apply dispatch failed", "decision", decision.ID, "error", err)
		}
	} else {
		e.open[decision.EntityID] = &decision
		e.mu.Unlock()
	}

	observability.Default().AnomaliesOpenedTotal.WithLabelValues(string(decision.Action)).Inc()
	e.hub.Broadcast(datatypes.StreamEnvelope{Type: datatypes.MsgAnomaly, Payload: decision})
}

// ApplyFix resolves the open decision with the given id, optionally
// overriding the throttle value, records the operator preference, and
// dispatches the command. A stale or unknown id is a no-op, not an
// error: the operator acted on a decision that no longer exists.
func (e *DecisionEngine) ApplyFix(decisionID string, throttleOverride *float64) bool {
	e.mu.Lock()
	decision, ok := e.findOpenLocked(decisionID)
	if !ok {
		e.mu.Unlock()
		slog.Info("ignoring apply_fix for stale decision", "decision", decisionID)
		return false
	}
	delete(e.open, decision.EntityID)
	e.cooldownUntil[decision.EntityID] = time.Now().Add(e.policy.ResolveCooldown)
	e.epoch[decision.EntityID]++
	e.mu.Unlock()

	if decision.Action == datatypes.ActionThrottleCPU {
		value := e.policy.FallbackThrottle
		if decision.ThrottleValue != nil {
			value = *decision.ThrottleValue
		}
		if throttleOverride != nil {
			value = *throttleOverride
		}
		value = datatypes.ClampUnit(value)
		decision.ThrottleValue = &value
		if err := e.feedback.RecordApply(decision.EntityID, value); err != nil {
			slog.Error("failed to record apply feedback", "entity", decision.EntityID, "error", err)
		}
	} else if err := e.feedback.RecordKill(decision.EntityID); err != nil {
		slog.Error("failed to record kill feedback", "entity", decision.EntityID, "error", err)
	}

	if err := e.dispatcher.Dispatch(decision); err != nil {
		slog.Error("apply_fix dispatch failed", "decision", decision.ID, "error", err)
	}
	return true
}

// Dismiss closes the open decision with the given id without
// dispatching anything and bumps the entity's dismiss count. Stale ids
// are no-ops.
func (e *DecisionEngine) Dismiss(decisionID string) bool {
	e.mu.Lock()
	decision, ok := e.findOpenLocked(decisionID)
	if !ok {
		e.mu.Unlock()
		slog.Info("ignoring dismiss for stale decision", "decision", decisionID)
		return false
	}
	delete(e.open, decision.EntityID)
	e.cooldownUntil[decision.EntityID] = time.Now().Add(e.policy.ResolveCooldown)
	e.epoch[decision.EntityID]++
	e.mu.Unlock()

	if err := e.feedback.RecordDismiss(decision.EntityID); err != nil {
		slog.Error("failed to record dismiss feedback", "entity", decision.EntityID, "error", err)
	}
	return true
}

// OpenDecision returns the open decision for an entity, if any.
func (e *DecisionEngine) OpenDecision(entityID string) (datatypes.AnomalyDecision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.open[entityID]; ok {
		return *d, true
	}
	return datatypes.AnomalyDecision{}, false
}

// findOpenLocked locates an open decision by id. Caller holds e.mu.
func (e *DecisionEngine) findOpenLocked(decisionID string) (datatypes.AnomalyDecision, bool) {
	for _, d := range e.open {
		if d.ID == decisionID {
			return *d, true
		}
	}
	return datatypes.AnomalyDecision{}, false
}
