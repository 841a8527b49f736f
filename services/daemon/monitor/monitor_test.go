// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlinux/cortexd/services/daemon/alerts"
	"github.com/cortexlinux/cortexd/services/daemon/config"
)

type staticConfig struct {
	mu  sync.Mutex
	cfg config.Config
}

func (s *staticConfig) Get() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *staticConfig) set(cfg config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

type stubCollector struct {
	mu   sync.Mutex
	snap Snapshot
	err  error
}

func (c *stubCollector) Sample(context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Snapshot{}, c.err
	}
	snap := c.snap
	snap.Timestamp = time.Now()
	return snap, nil
}

func (c *stubCollector) set(snap Snapshot, err error) {
	c.mu.Lock()
	c.snap = snap
	c.err = err
	c.mu.Unlock()
}

type stubQueue struct{ pending int }

func (q stubQueue) Pending() int { return q.pending }

type stubBackend struct {
	name  string
	ready bool
}

func (b stubBackend) Name() string { return b.name }
func (b stubBackend) Ready() bool  { return b.ready }

func newTestMonitor(t *testing.T, cfg config.Config) (*Monitor, *stubCollector, *alerts.Store, *staticConfig) {
	t.Helper()
	src := &staticConfig{cfg: cfg}
	collector := &stubCollector{}
	store := alerts.NewStore(nil)
	m := New(src, collector, store, stubQueue{pending: 3}, stubBackend{name: "local", ready: true}, nil, nil)
	return m, collector, store, src
}

func TestRefreshRecordsSnapshot(t *testing.T) {
	m, collector, _, _ := newTestMonitor(t, config.DefaultConfig())
	collector.set(Snapshot{DiskUsage: 0.42, MemoryUsage: 0.31, CPUPercent: 12.5}, nil)

	require.NoError(t, m.Refresh(context.Background()))

	snap, ok := m.LastSnapshot()
	require.True(t, ok)
	assert.InDelta(t, 0.42, snap.DiskUsage, 0.001)
	assert.InDelta(t, 12.5, snap.CPUPercent, 0.001)
}

func TestHealthComposition(t *testing.T) {
	m, collector, _, _ := newTestMonitor(t, config.DefaultConfig())
	collector.set(Snapshot{DiskUsage: 0.40, MemoryUsage: 0.30}, nil)
	require.NoError(t, m.Refresh(context.Background()))

	h := m.Health()
	assert.Equal(t, StatusOK, h.Status)
	assert.Equal(t, "local", h.Backend.Name)
	assert.True(t, h.Backend.Ready)
	assert.Equal(t, 3, h.QueueDepth)
	assert.Equal(t, 0, h.ActiveAlerts)
	assert.Contains(t, h.AlertCounts, "critical")
	assert.GreaterOrEqual(t, h.UptimeSeconds, int64(0))
}

func TestDiskWarningAlertDeduped(t *testing.T) {
	m, collector, store, _ := newTestMonitor(t, config.DefaultConfig())
	collector.set(Snapshot{DiskUsage: 0.85, MemoryUsage: 0.10, DiskPath: "/"}, nil)

	// Two refreshes at the same level raise exactly one alert.
	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.Refresh(context.Background()))

	open := store.ByType(alerts.TypeDiskUsage)
	require.Len(t, open, 1)
	assert.Equal(t, alerts.SeverityWarning, open[0].Severity)
	assert.Equal(t, "/", open[0].Metadata["path"])
}

func TestDiskAlertEscalatesToCritical(t *testing.T) {
	m, collector, store, _ := newTestMonitor(t, config.DefaultConfig())

	collector.set(Snapshot{DiskUsage: 0.85}, nil)
	require.NoError(t, m.Refresh(context.Background()))
	collector.set(Snapshot{DiskUsage: 0.97}, nil)
	require.NoError(t, m.Refresh(context.Background()))

	open := store.ByType(alerts.TypeDiskUsage)
	require.Len(t, open, 2)
	assert.Equal(t, alerts.SeverityCritical, open[1].Severity)

	h := m.Health()
	assert.Equal(t, StatusCritical, h.Status)
}

func TestAlertReraisedAfterAcknowledge(t *testing.T) {
	m, collector, store, _ := newTestMonitor(t, config.DefaultConfig())
	collector.set(Snapshot{MemoryUsage: 0.90}, nil)

	require.NoError(t, m.Refresh(context.Background()))
	open := store.ByType(alerts.TypeMemoryUsage)
	require.Len(t, open, 1)

	// Acknowledging removes it from the active set; the condition still
	// holds, so the next cycle raises a fresh alert.
	require.True(t, store.Acknowledge(open[0].ID))
	require.NoError(t, m.Refresh(context.Background()))
	assert.Len(t, store.ByType(alerts.TypeMemoryUsage), 1)
}

func TestTrackingResetsWhenUsageDrops(t *testing.T) {
	m, collector, store, _ := newTestMonitor(t, config.DefaultConfig())

	collector.set(Snapshot{DiskUsage: 0.85}, nil)
	require.NoError(t, m.Refresh(context.Background()))
	require.Len(t, store.ByType(alerts.TypeDiskUsage), 1)

	collector.set(Snapshot{DiskUsage: 0.40}, nil)
	require.NoError(t, m.Refresh(context.Background()))

	// Crossing again is a new incident.
	collector.set(Snapshot{DiskUsage: 0.85}, nil)
	require.NoError(t, m.Refresh(context.Background()))
	assert.Len(t, store.ByType(alerts.TypeDiskUsage), 2)
}

func TestHealthDegradedOnWarning(t *testing.T) {
	m, collector, _, _ := newTestMonitor(t, config.DefaultConfig())
	collector.set(Snapshot{MemoryUsage: 0.90}, nil)
	require.NoError(t, m.Refresh(context.Background()))

	h := m.Health()
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, 1, h.ActiveAlerts)
}

func TestHealthDegradedOnSampleFailure(t *testing.T) {
	m, collector, _, _ := newTestMonitor(t, config.DefaultConfig())
	collector.set(Snapshot{}, errors.New("probe exploded"))

	require.Error(t, m.Refresh(context.Background()))

	h := m.Health()
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Contains(t, h.SampleError, "probe exploded")
}

func TestRefreshPrunesExpiredAlerts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AlertRetention = time.Millisecond
	m, collector, store, _ := newTestMonitor(t, cfg)
	collector.set(Snapshot{DiskUsage: 0.10, MemoryUsage: 0.10}, nil)

	id := store.Create(alerts.SeverityInfo, alerts.TypePackageUpdates, "42 updates", "", nil)
	require.True(t, store.Acknowledge(id))
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, m.Refresh(context.Background()))
	assert.Empty(t, store.Export())
}

func TestRunRespectsContext(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MonitoringInterval = 10 * time.Millisecond
	m, collector, _, _ := newTestMonitor(t, cfg)
	collector.set(Snapshot{DiskUsage: 0.10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := m.LastSnapshot()
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}

func TestHotReloadedThresholdsApply(t *testing.T) {
	m, collector, store, src := newTestMonitor(t, config.DefaultConfig())
	collector.set(Snapshot{DiskUsage: 0.70}, nil)

	require.NoError(t, m.Refresh(context.Background()))
	require.Empty(t, store.ByType(alerts.TypeDiskUsage))

	cfg := config.DefaultConfig()
	cfg.DiskWarnThreshold = 0.60
	src.set(cfg)

	require.NoError(t, m.Refresh(context.Background()))
	assert.Len(t, store.ByType(alerts.TypeDiskUsage), 1)
}
