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

const (
	resultCacheSize = 128
	resultCacheTTL  = 10 * time.Minute
)

type cachedResult struct {
	result  Result
	stored  time.Time
	ordinal uint64
}

// resultCache keys results by correlation ID so concurrent callers each
// retrieve their own outcome. Bounded by entry count and age; when full,
// the oldest entry is evicted. A caller that polls too late simply finds
// its result expired.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cachedResult
	maxSize int
	ttl     time.Duration
	nextOrd uint64
	lastID  string
	hasLast bool
}

func newResultCache(maxSize int, ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]cachedResult),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *resultCache) put(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.pruneLocked(now)
	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[r.RequestID] = cachedResult{result: r, stored: now, ordinal: c.nextOrd}
	c.nextOrd++
	c.lastID = r.RequestID
	c.hasLast = true
}

func (c *resultCache) get(id string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok || time.Since(entry.stored) > c.ttl {
		return Result{}, false
	}
	return entry.result, true
}

func (c *resultCache) last() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasLast {
		return Result{}, false
	}
	entry, ok := c.entries[c.lastID]
	if !ok || time.Since(entry.stored) > c.ttl {
		return Result{}, false
	}
	return entry.result, true
}

func (c *resultCache) pruneLocked(now time.Time) {
	for id, entry := range c.entries {
		if now.Sub(entry.stored) > c.ttl {
			delete(c.entries, id)
		}
	}
}

func (c *resultCache) evictOldestLocked() {
	var oldestID string
	first := true
	var oldestOrd uint64
	for id, entry := range c.entries {
		if first || entry.ordinal < oldestOrd {
			oldestID = id
			oldestOrd = entry.ordinal
			first = false
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
	}
}
