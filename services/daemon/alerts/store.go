// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexlinux/cortexd/pkg/logging"
)

// Store holds the alert collection. All operations are linearizable with
// respect to the store's single lock; no operation blocks on I/O while
// holding it.
type Store struct {
	mu     sync.Mutex
	alerts []Alert
	log    *logging.Logger
}

// NewStore constructs an empty alert store.
func NewStore(log *logging.Logger) *Store {
	if log == nil {
		log = logging.Default()
	}
	return &Store{log: log.Component("alerts")}
}

// Create appends a new alert and returns its generated identifier.
// Creation always succeeds.
func (s *Store) Create(severity Severity, typ Type, title, description string, metadata map[string]string) string {
	alert := Alert{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Severity:    severity,
		Type:        typ,
		Title:       title,
		Description: description,
	}
	if metadata != nil {
		alert.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			alert.Metadata[k] = v
		}
	}

	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()

	s.log.Info("created alert", "id", alert.ID, "severity", severity.String(), "type", typ.String(), "title", title)
	return alert.ID
}

// Active returns all non-acknowledged alerts in insertion order.
func (s *Store) Active() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if !a.Acknowledged {
			out = append(out, a.clone())
		}
	}
	return out
}

// BySeverity returns non-acknowledged alerts with the given severity.
func (s *Store) BySeverity(severity Severity) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Alert
	for _, a := range s.alerts {
		if !a.Acknowledged && a.Severity == severity {
			out = append(out, a.clone())
		}
	}
	return out
}

// ByType returns non-acknowledged alerts with the given type.
func (s *Store) ByType(typ Type) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Alert
	for _, a := range s.alerts {
		if !a.Acknowledged && a.Type == typ {
			out = append(out, a.clone())
		}
	}
	return out
}

// Acknowledge marks the matching alert acknowledged. Returns false when no
// alert has that identifier; a caller may race with a dismiss, so this is
// not an error.
func (s *Store) Acknowledge(id string) bool {
	s.mu.Lock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Acknowledged = true
			s.mu.Unlock()
			s.log.Info("acknowledged alert", "id", id)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// AcknowledgeAll marks every active alert acknowledged and returns how many
// changed state.
func (s *Store) AcknowledgeAll() int {
	s.mu.Lock()
	n := 0
	for i := range s.alerts {
		if !s.alerts[i].Acknowledged {
			s.alerts[i].Acknowledged = true
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.log.Info("acknowledged all alerts", "count", n)
	}
	return n
}

// Dismiss removes the alert entirely, acknowledged or not. Returns false
// when absent.
func (s *Store) Dismiss(id string) bool {
	s.mu.Lock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			s.mu.Unlock()
			s.log.Info("dismissed alert", "id", id)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// DismissAll removes every alert, acknowledged or not, and returns how many
// were removed.
func (s *Store) DismissAll() int {
	s.mu.Lock()
	removed := len(s.alerts)
	s.alerts = nil
	s.mu.Unlock()
	if removed > 0 {
		s.log.Info("dismissed all alerts", "count", removed)
	}
	return removed
}

// ClearAcknowledged removes all acknowledged alerts. Periodic housekeeping,
// not part of the client-facing request path.
func (s *Store) ClearAcknowledged() int {
	s.mu.Lock()
	kept := s.alerts[:0]
	removed := 0
	for _, a := range s.alerts {
		if a.Acknowledged {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.alerts = kept
	s.mu.Unlock()
	if removed > 0 {
		s.log.Info("cleared acknowledged alerts", "count", removed)
	}
	return removed
}

// PruneOlderThan removes acknowledged alerts created before the cutoff.
// Used by the monitor loop to enforce the retention window.
func (s *Store) PruneOlderThan(window time.Duration) int {
	cutoff := time.Now().Add(-window)
	s.mu.Lock()
	kept := s.alerts[:0]
	removed := 0
	for _, a := range s.alerts {
		if a.Acknowledged && a.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.alerts = kept
	s.mu.Unlock()
	if removed > 0 {
		s.log.Debug("pruned expired alerts", "count", removed)
	}
	return removed
}

// CountActive returns the number of non-acknowledged alerts.
func (s *Store) CountActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if !a.Acknowledged {
			n++
		}
	}
	return n
}

// CountBySeverity returns active alert counts keyed by severity wire name.
func (s *Store) CountBySeverity() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{
		SeverityInfo.String():     0,
		SeverityWarning.String():  0,
		SeverityError.String():    0,
		SeverityCritical.String(): 0,
	}
	for _, a := range s.alerts {
		if !a.Acknowledged {
			counts[a.Severity.String()]++
		}
	}
	return counts
}

// Export returns a copy of the full collection, acknowledged included.
func (s *Store) Export() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a.clone())
	}
	return out
}
