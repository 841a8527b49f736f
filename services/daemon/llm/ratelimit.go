// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"sync"
	"time"
)

// windowLimiter is a fixed-window rate limiter: at most limit admissions
// per one-second window, with the counter reset when the window elapses.
type windowLimiter struct {
	mu          sync.Mutex
	limit       int
	windowStart time.Time
	count       int
}

func newWindowLimiter(limit int) *windowLimiter {
	return &windowLimiter{limit: limit, windowStart: time.Now()}
}

// allow reports whether one more request fits in the current window.
// A non-positive limit disables rate limiting.
func (l *windowLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return true
	}
	if now.Sub(l.windowStart) >= time.Second {
		l.windowStart = now
		l.count = 0
	}
	if l.count < l.limit {
		l.count++
		return true
	}
	return false
}

// setLimit adjusts the ceiling, taking effect from the current window.
func (l *windowLimiter) setLimit(limit int) {
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}
