// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and storage types shared by the
// Watchtower decision engine, its HTTP/WebSocket surfaces, and the
// advisory service.
package datatypes

import (
	"strings"
	"time"
)

// Default policy values. These are tunable via the engine config file;
// the constants are the fallback when no file is supplied.
const (
	DefaultCPUThresholdPercent = 90.0
	DefaultMemThresholdMB      = 1500.0
	DefaultWindowSec           = 60

	MinWindowSec = 10
	MaxWindowSec = 600
)

// MetricSample is one per-process telemetry reading pushed by a collector.
// Samples are immutable once ingested and retained only inside the active
// time window.
type MetricSample struct {
	EntityID    string    `json:"entity_id" validate:"required"`
	DisplayName string    `json:"display_name"`
	CPUPercent  float64   `json:"cpu_percent" validate:"gte=0"`
	MemMB       float64   `json:"mem_mb" validate:"gte=0"`
	ObservedAt  time.Time `json:"observed_at"`
}

// LatestSample returns the sample with the newest ObservedAt.
// Collectors batch and retry, so slice order is arrival order, not
// observation order.
func LatestSample(samples []MetricSample) (MetricSample, bool) {
	if len(samples) == 0 {
		return MetricSample{}, false
	}
	latest := samples[0]
	for _, s := range samples[1:] {
		if s.ObservedAt.After(latest.ObservedAt) {
			latest = s
		}
	}
	return latest, true
}

// ContextConfig is the operator-editable evaluation context. It is a
// singleton document: PUT replaces the whole thing, there is no
// partial-field merge at this layer.
type ContextConfig struct {
	// Watch entries force evaluation even when the entity also matches
	// an ignore entry.
	Watch []string `json:"watch"`

	// Ignore entries suppress anomaly emission. An entry matches on
	// exact entity id or case-insensitive substring of the display name.
	Ignore []string `json:"ignore"`

	CPUThresholdPercent float64 `json:"cpu_threshold_percent"`
	MemThresholdMB      float64 `json:"mem_threshold_mb"`
	WindowSec           int     `json:"time_window_sec"`
}

// DefaultContext returns the context used before any operator edit.
func DefaultContext() ContextConfig {
	return ContextConfig{
		Watch:               []string{},
		Ignore:              []string{},
		CPUThresholdPercent: DefaultCPUThresholdPercent,
		MemThresholdMB:      DefaultMemThresholdMB,
		WindowSec:           DefaultWindowSec,
	}
}

// Normalize clamps numeric fields into their legal ranges and
// deduplicates the watch and ignore lists. Out-of-range values are
// clamped rather than rejected: the edit surfaces are sliders bounded
// by construction, so a wild value is an encoding hiccup, not operator
// intent.
func (c *ContextConfig) Normalize() {
	c.CPUThresholdPercent = clampFloat(c.CPUThresholdPercent, 0, 100)
	if c.MemThresholdMB < 0 {
		c.MemThresholdMB = 0
	}
	c.WindowSec = clampInt(c.WindowSec, MinWindowSec, MaxWindowSec)
	c.Watch = dedupeTrimmed(c.Watch)
	c.Ignore = dedupeTrimmed(c.Ignore)
}

// Window returns the retention window as a duration.
func (c ContextConfig) Window() time.Duration {
	return time.Duration(c.WindowSec) * time.Second
}

// IsWatched reports whether the entity is on the watch list, matching
// on exact entity id or substring of the lowercased display name.
func (c ContextConfig) IsWatched(entityID, displayName string) bool {
	return matchesAny(c.Watch, entityID, displayName)
}

// IsIgnored reports whether the entity matches the ignore list.
// Watch takes precedence over ignore; callers must check IsWatched first.
func (c ContextConfig) IsIgnored(entityID, displayName string) bool {
	return matchesAny(c.Ignore, entityID, displayName)
}

func matchesAny(entries []string, entityID, displayName string) bool {
	name := strings.ToLower(displayName)
	for _, e := range entries {
		s := strings.ToLower(strings.TrimSpace(e))
		if s == "" {
			continue
		}
		if s == entityID || strings.Contains(name, s) {
			return true
		}
	}
	return false
}

func dedupeTrimmed(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampUnit clamps a value into [0,1]. Throttle values and the
// allocation set-point must always stay inside the unit interval.
func ClampUnit(v float64) float64 {
	return clampFloat(v, 0, 1)
}
