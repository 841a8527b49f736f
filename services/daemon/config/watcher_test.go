// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.conf")
	require.NoError(t, os.WriteFile(path, []byte("max_requests_per_sec: 10\n"), 0o600))

	store := NewStore(nil)
	require.NoError(t, store.Load(path))
	require.Equal(t, 10, store.Get().MaxRequestsPerSec)

	w := NewWatcher(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	// Give the watcher a moment to attach before writing.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("max_requests_per_sec: 25\n"), 0o600))

	require.Eventually(t, func() bool {
		return store.Get().MaxRequestsPerSec == 25
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after context cancel")
	}
}

func TestWatcherCoalescesWriteBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.conf")
	require.NoError(t, os.WriteFile(path, []byte("max_requests_per_sec: 10\n"), 0o600))

	store := NewStore(nil)
	require.NoError(t, store.Load(path))

	w := NewWatcher(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	// A burst of writes straddling the debounce window must settle on the
	// final contents.
	for i := 20; i <= 60; i += 10 {
		require.NoError(t, os.WriteFile(path,
			[]byte(fmt.Sprintf("max_requests_per_sec: %d\n", i)), 0o600))
		time.Sleep(100 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return store.Get().MaxRequestsPerSec == 60
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after context cancel")
	}
}

func TestWatcherIdleWithoutFile(t *testing.T) {
	store := NewStore(nil)

	w := NewWatcher(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle watcher did not stop after context cancel")
	}
}
