// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the decision
// engine. Metrics are exposed on /metrics; all operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "watchtower"
	engineSubsystem  = "engine"
)

// EngineMetrics holds the Prometheus instruments for the ingestion,
// decision, and fan-out paths.
type EngineMetrics struct {
	// SamplesIngestedTotal counts accepted telemetry samples.
	SamplesIngestedTotal prometheus.Counter

	// SamplesDroppedTotal counts malformed samples dropped at the door.
	SamplesDroppedTotal prometheus.Counter

	// AnomaliesOpenedTotal counts opened decisions by action.
	AnomaliesOpenedTotal *prometheus.CounterVec

	// CommandsDispatchedTotal counts outbound commands by action.
	CommandsDispatchedTotal *prometheus.CounterVec

	// AdvisoryFailuresTotal counts advisory calls that timed out or
	// errored and fell back to rule-based classification.
	AdvisoryFailuresTotal prometheus.Counter

	// CycleDurationSeconds measures one full decision cycle.
	CycleDurationSeconds prometheus.Histogram

	// ConnectedObservers tracks live stream websocket clients.
	ConnectedObservers prometheus.Gauge
}

var (
	defaultMetrics *EngineMetrics
	initOnce       sync.Once
)

// Default returns the process-wide metrics instance, registering the
// instruments on first use.
func Default() *EngineMetrics {
	initOnce.Do(func() {
		defaultMetrics = &EngineMetrics{
			SamplesIngestedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "samples_ingested_total",
				Help:      "Total telemetry samples accepted into the buffer",
			}),
			SamplesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "samples_dropped_total",
				Help:      "Total malformed telemetry samples dropped",
			}),
			AnomaliesOpenedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "anomalies_opened_total",
				Help:      "Total anomaly decisions opened, by action",
			}, []string{"action"}),
			CommandsDispatchedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "commands_dispatched_total",
				Help:      "Total collector commands dispatched, by action",
			}, []string{"action"}),
			AdvisoryFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "advisory_failures_total",
				Help:      "Total advisory calls that failed or timed out",
			}),
			CycleDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of one decision cycle",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
			}),
			ConnectedObservers: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "connected_observers",
				Help:      "Number of connected stream observers",
			}),
		}
	})
	return defaultMetrics
}
