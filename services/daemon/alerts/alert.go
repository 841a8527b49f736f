// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package alerts implements the daemon's alert store: a thread-safe,
// in-memory collection of system alerts with a severity/type taxonomy,
// acknowledgment, and dismissal.
//
// The store is the single source of truth for alerts. All reads return
// copies, never live references, so iteration by callers can never race
// with mutation inside the store.
package alerts

import (
	"encoding/json"
	"time"
)

// Severity classifies how urgent an alert is. Severities are ordered:
// info < warning < error < critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the wire name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// SeverityFromString maps a wire name back to a Severity. Unknown names
// map to SeverityInfo, matching the daemon's lenient parsing elsewhere.
func SeverityFromString(s string) Severity {
	switch s {
	case "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Type is the closed set of alert categories the daemon produces.
type Type int

const (
	TypePackageUpdates Type = iota
	TypeDiskUsage
	TypeMemoryUsage
	TypeVulnerability
	TypeDependencyConflict
	TypeSystemError
	TypeDaemonStatus
)

// String returns the wire name of the alert type.
func (t Type) String() string {
	switch t {
	case TypePackageUpdates:
		return "package_updates_pending"
	case TypeDiskUsage:
		return "disk_usage"
	case TypeMemoryUsage:
		return "memory_usage"
	case TypeVulnerability:
		return "vulnerability_found"
	case TypeDependencyConflict:
		return "dependency_conflict"
	case TypeSystemError:
		return "system_error"
	case TypeDaemonStatus:
		return "daemon_status"
	default:
		return "system_error"
	}
}

// TypeFromString maps a wire name back to a Type. Unknown names map to
// TypeSystemError.
func TypeFromString(s string) Type {
	switch s {
	case "package_updates_pending":
		return TypePackageUpdates
	case "disk_usage":
		return TypeDiskUsage
	case "memory_usage":
		return TypeMemoryUsage
	case "vulnerability_found":
		return TypeVulnerability
	case "dependency_conflict":
		return TypeDependencyConflict
	case "daemon_status":
		return TypeDaemonStatus
	default:
		return TypeSystemError
	}
}

// Alert is one system alert. The ID is immutable after creation and the
// Acknowledged flag is monotonic: once set it never reverts.
type Alert struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Severity     Severity          `json:"-"`
	Type         Type              `json:"-"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Acknowledged bool              `json:"acknowledged"`
}

// MarshalJSON emits severity and type as their wire names.
func (a Alert) MarshalJSON() ([]byte, error) {
	type shadow Alert
	return json.Marshal(struct {
		shadow
		Severity string `json:"severity"`
		Type     string `json:"type"`
	}{
		shadow:   shadow(a),
		Severity: a.Severity.String(),
		Type:     a.Type.String(),
	})
}

// clone returns a deep copy so the store never hands out its own metadata map.
func (a Alert) clone() Alert {
	out := a
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
