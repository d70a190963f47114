// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWatch/services/engine"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchtower.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Empty(t, f.Server.Port)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_FullDocument(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
  simulator_mode: true
policy:
  cycle_interval: 5s
  advisory_timeout: 2s
  kill_mem_ceiling_mb: 4000
  auto_apply_enabled: false
context:
  watch: [worker]
  ignore: [chrome, spotify]
  cpu_threshold_percent: 85
  mem_threshold_mb: 1200
  time_window_sec: 120
storage:
  feedback_path: /var/lib/watchtower
`)

	f, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", f.Server.Port)
	assert.True(t, f.Server.SimulatorMode)
	assert.Equal(t, 5*time.Second, f.Policy.CycleInterval)
	assert.Equal(t, "/var/lib/watchtower", f.Storage.FeedbackPath)

	cfg := f.ContextConfig()
	assert.Equal(t, []string{"worker"}, cfg.Watch)
	assert.Equal(t, 85.0, cfg.CPUThresholdPercent)
	assert.Equal(t, 1200.0, cfg.MemThresholdMB)
	assert.Equal(t, 120, cfg.WindowSec)
}

func TestContextConfig_UnsetFieldsFallBackToDefaults(t *testing.T) {
	var f File
	cfg := f.ContextConfig()

	assert.Equal(t, datatypes.DefaultCPUThresholdPercent, cfg.CPUThresholdPercent)
	assert.Equal(t, datatypes.DefaultMemThresholdMB, cfg.MemThresholdMB)
	assert.Equal(t, datatypes.DefaultWindowSec, cfg.WindowSec)
	assert.Empty(t, cfg.Watch)
}

func TestApplyPolicy_OverlaysOnlySetFields(t *testing.T) {
	path := writeConfig(t, `
policy:
  cycle_interval: 3s
  fallback_throttle: 0.4
`)
	f, err := Load(path)
	require.NoError(t, err)

	base := engine.DefaultPolicy()
	p := f.ApplyPolicy(base)

	assert.Equal(t, 3*time.Second, p.CycleInterval)
	assert.Equal(t, 0.4, p.FallbackThrottle)
	assert.Equal(t, base.AdvisoryTimeout, p.AdvisoryTimeout, "unset fields keep their base values")
	assert.Equal(t, base.AutoApplyEnabled, p.AutoApplyEnabled)
}

func TestApplyPolicy_AutoApplyTristate(t *testing.T) {
	path := writeConfig(t, "policy:\n  auto_apply_enabled: false\n")
	f, err := Load(path)
	require.NoError(t, err)

	p := f.ApplyPolicy(engine.DefaultPolicy())
	assert.False(t, p.AutoApplyEnabled, "an explicit false must not read as unset")
}

func TestApplyPolicy_ClampsFallbackThrottle(t *testing.T) {
	path := writeConfig(t, "policy:\n  fallback_throttle: 2.5\n")
	f, err := Load(path)
	require.NoError(t, err)

	p := f.ApplyPolicy(engine.DefaultPolicy())
	assert.Equal(t, 1.0, p.FallbackThrottle)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "context:\n  cpu_threshold_percent: 80\n")

	reloads := make(chan *File, 4)
	w, err := NewWatcher(path, func(f *File) { reloads <- f })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()

	// Give the watcher a moment to install the directory watch.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("context:\n  cpu_threshold_percent: 70\n"), 0o644))

	select {
	case f := <-reloads:
		assert.Equal(t, 70.0, f.Context.CPUThresholdPercent)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatcher_EmptyFileDuringRewriteIsSkipped(t *testing.T) {
	path := writeConfig(t, "context:\n  cpu_threshold_percent: 80\n")

	reloads := make(chan *File, 4)
	w, err := NewWatcher(path, func(f *File) { reloads <- f })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	// A rewrite truncates first; the watcher must never surface the
	// transient empty document as an all-defaults config.
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("context:\n  cpu_threshold_percent: 65\n"), 0o644))

	select {
	case f := <-reloads:
		assert.Equal(t, 65.0, f.Context.CPUThresholdPercent, "the truncated read is skipped, not surfaced")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcher_BadReloadKeepsPrevious(t *testing.T) {
	path := writeConfig(t, "context:\n  cpu_threshold_percent: 80\n")

	reloads := make(chan *File, 4)
	w, err := NewWatcher(path, func(f *File) { reloads <- f })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(":::not yaml"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("context:\n  cpu_threshold_percent: 75\n"), 0o644))

	select {
	case f := <-reloads:
		assert.Equal(t, 75.0, f.Context.CPUThresholdPercent, "the malformed write is skipped, not surfaced")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
