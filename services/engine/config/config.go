// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the Watchtower engine configuration from a
// YAML file and hot-reloads it on change. The file supplies policy
// defaults and the initial evaluation context; operator PUTs to the
// context surface still win over file contents until the next reload.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianWatch/services/engine"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

// File is the on-disk configuration document.
type File struct {
	Server struct {
		Port          string `yaml:"port"`
		SimulatorMode bool   `yaml:"simulator_mode"`
	} `yaml:"server"`

	Policy struct {
		CycleInterval     time.Duration `yaml:"cycle_interval"`
		BroadcastInterval time.Duration `yaml:"broadcast_interval"`
		ResolveCooldown   time.Duration `yaml:"resolve_cooldown"`
		AutoApplyCooldown time.Duration `yaml:"auto_apply_cooldown"`
		AdvisoryTimeout   time.Duration `yaml:"advisory_timeout"`
		KillMemCeilingMB  float64       `yaml:"kill_mem_ceiling_mb"`
		FallbackThrottle  float64       `yaml:"fallback_throttle"`
		AutoApplyEnabled  *bool         `yaml:"auto_apply_enabled"`
	} `yaml:"policy"`

	Context struct {
		Watch               []string `yaml:"watch"`
		Ignore              []string `yaml:"ignore"`
		CPUThresholdPercent float64  `yaml:"cpu_threshold_percent"`
		MemThresholdMB      float64  `yaml:"mem_threshold_mb"`
		WindowSec           int      `yaml:"time_window_sec"`
	} `yaml:"context"`

	Storage struct {
		FeedbackPath string `yaml:"feedback_path"`
	} `yaml:"storage"`
}

// Load parses the YAML file at path. A missing file is not an error;
// the zero File falls back to built-in defaults everywhere.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return parse(path, raw)
}

func parse(path string, raw []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &f, nil
}

// ContextConfig converts the file's context section into the engine's
// runtime context, with defaults for unset fields.
func (f *File) ContextConfig() datatypes.ContextConfig {
	cfg := datatypes.DefaultContext()
	if len(f.Context.Watch) > 0 {
		cfg.Watch = f.Context.Watch
	}
	if len(f.Context.Ignore) > 0 {
		cfg.Ignore = f.Context.Ignore
	}
	if f.Context.CPUThresholdPercent > 0 {
		cfg.CPUThresholdPercent = f.Context.CPUThresholdPercent
	}
	if f.Context.MemThresholdMB > 0 {
		cfg.MemThresholdMB = f.Context.MemThresholdMB
	}
	if f.Context.WindowSec > 0 {
		cfg.WindowSec = f.Context.WindowSec
	}
	cfg.Normalize()
	return cfg
}

// ApplyPolicy overlays the file's policy section onto base, leaving
// unset fields at their base values.
func (f *File) ApplyPolicy(base engine.Policy) engine.Policy {
	p := f.Policy
	if p.CycleInterval > 0 {
		base.CycleInterval = p.CycleInterval
	}
	if p.BroadcastInterval > 0 {
		base.BroadcastInterval = p.BroadcastInterval
	}
	if p.ResolveCooldown > 0 {
		base.ResolveCooldown = p.ResolveCooldown
	}
	if p.AutoApplyCooldown > 0 {
		base.AutoApplyCooldown = p.AutoApplyCooldown
	}
	if p.AdvisoryTimeout > 0 {
		base.AdvisoryTimeout = p.AdvisoryTimeout
	}
	if p.KillMemCeilingMB > 0 {
		base.KillMemCeilingMB = p.KillMemCeilingMB
	}
	if p.FallbackThrottle > 0 {
		base.FallbackThrottle = datatypes.ClampUnit(p.FallbackThrottle)
	}
	if p.AutoApplyEnabled != nil {
		base.AutoApplyEnabled = *p.AutoApplyEnabled
	}
	return base
}
