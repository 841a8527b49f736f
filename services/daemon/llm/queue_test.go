// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingBackend parks in Generate until released, so tests can fill the
// queue behind a busy worker.
type blockingBackend struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{
		started: make(chan struct{}, 256),
		release: make(chan struct{}),
	}
}

func (b *blockingBackend) Name() string { return "blocking" }
func (b *blockingBackend) Ready() bool  { return true }

func (b *blockingBackend) Generate(_ context.Context, req Request) Result {
	b.calls.Add(1)
	b.started <- struct{}{}
	<-b.release
	return Result{RequestID: req.ID, Success: true, Output: "done"}
}

// instantBackend completes immediately.
type instantBackend struct{ calls atomic.Int32 }

func (b *instantBackend) Name() string { return "instant" }
func (b *instantBackend) Ready() bool  { return true }

func (b *instantBackend) Generate(_ context.Context, req Request) Result {
	b.calls.Add(1)
	return Result{RequestID: req.ID, Success: true, Output: "ok:" + req.Prompt}
}

func TestEnqueueRateLimit(t *testing.T) {
	// Worker not started: nothing drains, but rate limiting happens at
	// admission regardless.
	q := NewQueue(&instantBackend{}, QueueOptions{MaxDepth: 50, MaxPerSecond: 3}, nil, nil)

	var rejected int
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(Request{ID: "r", Prompt: "p", MaxTokens: 1}); err != nil {
			require.ErrorIs(t, err, ErrRateLimited)
			rejected++
		}
	}
	assert.Equal(t, 2, rejected)
	assert.Equal(t, 3, q.Pending())
}

func TestRateLimitWindowResets(t *testing.T) {
	l := newWindowLimiter(2)
	now := time.Now()

	assert.True(t, l.allow(now))
	assert.True(t, l.allow(now))
	assert.False(t, l.allow(now))

	// After the window elapses, admission resumes.
	later := now.Add(1100 * time.Millisecond)
	assert.True(t, l.allow(later))
}

func TestRateLimitDisabled(t *testing.T) {
	l := newWindowLimiter(0)
	now := time.Now()
	for i := 0; i < 1000; i++ {
		assert.True(t, l.allow(now))
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	backend := newBlockingBackend()
	q := NewQueue(backend, QueueOptions{MaxDepth: 2, MaxPerSecond: 0}, nil, nil)
	q.Start()
	defer func() {
		close(backend.release)
		q.Stop()
	}()

	// First request occupies the worker.
	require.NoError(t, q.Enqueue(Request{ID: "busy", Prompt: "p", MaxTokens: 1}))
	<-backend.started

	// Two more fill the queue; the next is rejected.
	require.NoError(t, q.Enqueue(Request{ID: "q1", Prompt: "p", MaxTokens: 1}))
	require.NoError(t, q.Enqueue(Request{ID: "q2", Prompt: "p", MaxTokens: 1}))
	err := q.Enqueue(Request{ID: "q3", Prompt: "p", MaxTokens: 1})
	require.ErrorIs(t, err, ErrQueueFull)

	// Once the worker drains one item, the next submission is admitted.
	backend.release <- struct{}{}
	<-backend.started
	require.Eventually(t, func() bool {
		return q.Enqueue(Request{ID: "q4", Prompt: "p", MaxTokens: 1}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerProcessesAndPublishesResults(t *testing.T) {
	backend := &instantBackend{}
	q := NewQueue(backend, QueueOptions{MaxDepth: 10, MaxPerSecond: 0}, nil, nil)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Enqueue(Request{ID: "a", Prompt: "one", MaxTokens: 4}))
	require.NoError(t, q.Enqueue(Request{ID: "b", Prompt: "two", MaxTokens: 4}))

	require.Eventually(t, func() bool {
		_, okA := q.Result("a")
		_, okB := q.Result("b")
		return okA && okB
	}, 2*time.Second, 10*time.Millisecond)

	resA, _ := q.Result("a")
	assert.True(t, resA.Success)
	assert.Equal(t, "ok:one", resA.Output)

	// Each caller retrieves its own outcome; last-result reflects the
	// most recent completion.
	resB, _ := q.Result("b")
	assert.Equal(t, "ok:two", resB.Output)
	last, ok := q.LastResult()
	require.True(t, ok)
	assert.Equal(t, "b", last.RequestID)
}

func TestUnknownResultID(t *testing.T) {
	q := NewQueue(&instantBackend{}, QueueOptions{}, nil, nil)
	_, ok := q.Result("never-submitted")
	assert.False(t, ok)
	_, ok = q.LastResult()
	assert.False(t, ok)
}

func TestStopJoinsWorker(t *testing.T) {
	backend := newBlockingBackend()
	q := NewQueue(backend, QueueOptions{MaxDepth: 4, MaxPerSecond: 0}, nil, nil)
	q.Start()

	require.NoError(t, q.Enqueue(Request{ID: "inflight", Prompt: "p", MaxTokens: 1}))
	<-backend.started

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	// Stop must wait for the in-flight call to finish.
	select {
	case <-stopped:
		t.Fatal("Stop returned while backend call was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after worker finished")
	}

	// The in-flight request still produced its result.
	res, ok := q.Result("inflight")
	require.True(t, ok)
	assert.True(t, res.Success)
}

func TestQueueFailureResult(t *testing.T) {
	q := NewQueue(NoneBackend{}, QueueOptions{MaxDepth: 4}, nil, nil)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Enqueue(Request{ID: "x", Prompt: "p", MaxTokens: 1}))
	require.Eventually(t, func() bool {
		_, ok := q.Result("x")
		return ok
	}, time.Second, 10*time.Millisecond)

	res, _ := q.Result("x")
	assert.False(t, res.Success)
	assert.Equal(t, "LLM backend not configured", res.Error)
}

func TestResultCacheEviction(t *testing.T) {
	c := newResultCache(3, time.Minute)
	for _, id := range []string{"a", "b", "c", "d"} {
		c.put(Result{RequestID: id, Success: true})
	}

	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	for _, id := range []string{"b", "c", "d"} {
		_, ok := c.get(id)
		assert.True(t, ok, id)
	}
}

func TestResultCacheExpiry(t *testing.T) {
	c := newResultCache(8, 10*time.Millisecond)
	c.put(Result{RequestID: "a", Success: true})
	time.Sleep(30 * time.Millisecond)

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.last()
	assert.False(t, ok)
}

func TestNoneBackend(t *testing.T) {
	b := NoneBackend{}
	assert.Equal(t, "none", b.Name())
	assert.False(t, b.Ready())

	res := b.Generate(context.Background(), Request{ID: "r"})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestBackendConstructorsRequireConfig(t *testing.T) {
	_, err := NewOpenAIBackend("", "", "", nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = NewOllamaBackend("", "", nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
