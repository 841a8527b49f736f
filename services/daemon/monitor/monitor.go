// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cortexlinux/cortexd/pkg/logging"
	"github.com/cortexlinux/cortexd/services/daemon/alerts"
	"github.com/cortexlinux/cortexd/services/daemon/config"
	"github.com/cortexlinux/cortexd/services/daemon/observability"
)

// ConfigSource supplies the current configuration. Read on every cycle so
// hot reloads take effect without restarting the loop.
type ConfigSource interface {
	Get() config.Config
}

// InferenceStats is the slice of the inference queue the monitor reports on.
type InferenceStats interface {
	Pending() int
}

// BackendStatus is the slice of the inference backend the monitor reports on.
type BackendStatus interface {
	Name() string
	Ready() bool
}

// HealthSnapshot is the composed health view served over IPC and /healthz.
type HealthSnapshot struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`

	Backend struct {
		Name  string `json:"name"`
		Ready bool   `json:"ready"`
	} `json:"backend"`

	QueueDepth   int            `json:"queue_depth"`
	ActiveAlerts int            `json:"active_alerts"`
	AlertCounts  map[string]int `json:"alert_counts"`

	System      Snapshot `json:"system"`
	SampleError string   `json:"sample_error,omitempty"`
}

// Health status values, ordered by decreasing wellness.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// thresholdTrack dedupes threshold alerts: one open alert per resource per
// level. A new alert is raised only when the level escalates or the prior
// alert is gone from the store.
type thresholdTrack struct {
	level   int // 0 none, 1 warn, 2 critical
	alertID string
}

// Monitor runs the periodic sampling loop and owns threshold alerting and
// alert retention housekeeping.
type Monitor struct {
	cfg       ConfigSource
	collector Collector
	alerts    *alerts.Store
	queue     InferenceStats
	backend   BackendStatus
	metrics   *observability.Metrics
	log       *logging.Logger
	started   time.Time

	mu         sync.Mutex
	last       Snapshot
	lastErr    error
	haveSample bool
	disk       thresholdTrack
	memory     thresholdTrack
}

// New constructs the monitor. A nil collector defaults to the live system
// collector; queue and backend may be nil when those subsystems are absent.
func New(cfg ConfigSource, collector Collector, store *alerts.Store, queue InferenceStats, backend BackendStatus, metrics *observability.Metrics, log *logging.Logger) *Monitor {
	if collector == nil {
		collector = NewSystemCollector()
	}
	if log == nil {
		log = logging.Default()
	}
	return &Monitor{
		cfg:       cfg,
		collector: collector,
		alerts:    store,
		queue:     queue,
		backend:   backend,
		metrics:   metrics,
		log:       log.Component("monitor"),
		started:   time.Now(),
	}
}

// Run executes the sampling loop until the context is canceled. One sample
// is taken immediately so health is meaningful right after startup. The
// interval is re-read from configuration after every cycle.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("monitoring loop started", "interval", m.cfg.Get().MonitoringInterval.String())
	if err := m.Refresh(ctx); err != nil {
		m.log.Warn("initial resource sample failed", "error", err)
	}

	for {
		interval := m.cfg.Get().MonitoringInterval
		if interval <= 0 {
			interval = config.DefaultMonitoringInterval
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.log.Info("monitoring loop stopped")
			return
		case <-timer.C:
			if err := m.Refresh(ctx); err != nil {
				m.log.Warn("resource sample failed", "error", err)
			}
		}
	}
}

// Refresh forces one sampling cycle: collect, evaluate thresholds, prune
// expired alerts, update gauges. Safe to call concurrently with Run.
func (m *Monitor) Refresh(ctx context.Context) error {
	cfg := m.cfg.Get()
	snap, err := m.collector.Sample(ctx)

	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.last = snap
		m.haveSample = true
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}

	m.evaluateThresholds(snap, cfg)
	m.alerts.PruneOlderThan(cfg.AlertRetention)
	m.metrics.SetActiveAlerts(m.alerts.CountActive())
	return nil
}

// Health composes the current health view. Never blocks on sampling; it
// reports the most recent snapshot and its error state.
func (m *Monitor) Health() HealthSnapshot {
	m.mu.Lock()
	snap := m.last
	sampleErr := m.lastErr
	haveSample := m.haveSample
	m.mu.Unlock()

	h := HealthSnapshot{
		Timestamp:     time.Now(),
		UptimeSeconds: int64(time.Since(m.started) / time.Second),
		System:        snap,
	}
	if m.backend != nil {
		h.Backend.Name = m.backend.Name()
		h.Backend.Ready = m.backend.Ready()
	} else {
		h.Backend.Name = "none"
	}
	if m.queue != nil {
		h.QueueDepth = m.queue.Pending()
	}
	h.ActiveAlerts = m.alerts.CountActive()
	h.AlertCounts = m.alerts.CountBySeverity()
	if sampleErr != nil {
		h.SampleError = sampleErr.Error()
	}

	switch {
	case h.AlertCounts[alerts.SeverityCritical.String()] > 0:
		h.Status = StatusCritical
	case sampleErr != nil && !haveSample:
		h.Status = StatusDegraded
	case h.AlertCounts[alerts.SeverityWarning.String()] > 0 || h.AlertCounts[alerts.SeverityError.String()] > 0:
		h.Status = StatusDegraded
	default:
		h.Status = StatusOK
	}
	return h
}

// LastSnapshot returns the most recent successful sample.
func (m *Monitor) LastSnapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.haveSample
}

func (m *Monitor) evaluateThresholds(snap Snapshot, cfg config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disk = m.checkResource(m.disk, alerts.TypeDiskUsage, "Disk usage",
		snap.DiskUsage, cfg.DiskWarnThreshold, cfg.DiskCriticalThreshold,
		map[string]string{
			"path":  snap.DiskPath,
			"usage": fmt.Sprintf("%.1f%%", snap.DiskUsage*100),
		})
	m.memory = m.checkResource(m.memory, alerts.TypeMemoryUsage, "Memory usage",
		snap.MemoryUsage, cfg.MemoryWarnThreshold, cfg.MemoryCriticalThreshold,
		map[string]string{
			"usage": fmt.Sprintf("%.1f%%", snap.MemoryUsage*100),
		})
}

func (m *Monitor) checkResource(track thresholdTrack, typ alerts.Type, label string, usage, warn, critical float64, metadata map[string]string) thresholdTrack {
	level := 0
	switch {
	case critical > 0 && usage >= critical:
		level = 2
	case warn > 0 && usage >= warn:
		level = 1
	}

	if level == 0 {
		if track.level != 0 {
			m.log.Info("resource usage back below threshold", "resource", typ.String())
		}
		return thresholdTrack{}
	}

	// The open alert stays valid while the level holds and the alert is
	// still active in the store; anything else raises a fresh one.
	if level == track.level && m.alertActive(typ, track.alertID) {
		return track
	}

	severity := alerts.SeverityWarning
	if level == 2 {
		severity = alerts.SeverityCritical
	}
	title := fmt.Sprintf("%s at %.1f%%", label, usage*100)
	description := fmt.Sprintf("%s crossed the %.0f%% threshold", label, pickThreshold(level, warn, critical)*100)
	id := m.alerts.Create(severity, typ, title, description, metadata)
	return thresholdTrack{level: level, alertID: id}
}

func pickThreshold(level int, warn, critical float64) float64 {
	if level == 2 {
		return critical
	}
	return warn
}

func (m *Monitor) alertActive(typ alerts.Type, id string) bool {
	if id == "" {
		return false
	}
	for _, a := range m.alerts.ByType(typ) {
		if a.ID == id {
			return true
		}
	}
	return false
}
