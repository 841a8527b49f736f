// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package monitor periodically samples host resource usage, raises alerts
// when configured thresholds are crossed, and composes the daemon's health
// snapshot from the pieces the other subsystems expose.
package monitor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one point-in-time reading of host resource usage. Usage
// ratios are fractions in [0,1], matching the threshold configuration.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpu_percent"`
	Load1      float64 `json:"load_1"`

	MemoryTotal uint64  `json:"memory_total_bytes"`
	MemoryUsed  uint64  `json:"memory_used_bytes"`
	MemoryUsage float64 `json:"memory_usage"`

	DiskPath  string  `json:"disk_path"`
	DiskTotal uint64  `json:"disk_total_bytes"`
	DiskUsed  uint64  `json:"disk_used_bytes"`
	DiskUsage float64 `json:"disk_usage"`

	ProcessCount int `json:"process_count"`
	OpenFiles    int `json:"open_files"`
}

// Collector produces resource snapshots. The system collector reads the
// host; tests substitute a canned one.
type Collector interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// SystemCollector reads live host metrics via gopsutil.
type SystemCollector struct {
	// DiskPath is the mount point whose usage is tracked. Defaults to /.
	DiskPath string
}

// NewSystemCollector returns a collector watching the root filesystem.
func NewSystemCollector() *SystemCollector {
	return &SystemCollector{DiskPath: "/"}
}

// Sample reads CPU, memory, disk, load, and process counts. A failure on
// any single probe fails the whole sample; partial snapshots would make
// threshold evaluation ambiguous.
func (c *SystemCollector) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Timestamp: time.Now(), DiskPath: c.DiskPath}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("memory probe failed: %w", err)
	}
	snap.MemoryTotal = vm.Total
	snap.MemoryUsed = vm.Used
	snap.MemoryUsage = vm.UsedPercent / 100.0

	du, err := disk.UsageWithContext(ctx, c.DiskPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("disk probe failed for %s: %w", c.DiskPath, err)
	}
	snap.DiskTotal = du.Total
	snap.DiskUsed = du.Used
	snap.DiskUsage = du.UsedPercent / 100.0

	// Interval 0 compares against the previous call instead of blocking.
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cpu probe failed: %w", err)
	}
	if len(cpuPercents) > 0 {
		snap.CPUPercent = cpuPercents[0]
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = avg.Load1
	}

	if pids, err := process.PidsWithContext(ctx); err == nil {
		snap.ProcessCount = len(pids)
	}

	// File handles held by the daemon itself, not the whole host.
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if fds, err := proc.NumFDsWithContext(ctx); err == nil {
			snap.OpenFiles = int(fds)
		}
	}

	return snap, nil
}
