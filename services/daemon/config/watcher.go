// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cortexlinux/cortexd/pkg/logging"
)

// Watcher reloads the store when its config file changes on disk. Editors
// often replace files via rename, so the parent directory is watched and
// events are filtered by name. Bursts of write events are debounced into a
// single reload.
type Watcher struct {
	store    *Store
	debounce time.Duration
	log      *logging.Logger
}

// NewWatcher creates a watcher bound to the store's loaded config path.
func NewWatcher(store *Store, log *logging.Logger) *Watcher {
	if log == nil {
		log = logging.Default()
	}
	return &Watcher{
		store:    store,
		debounce: 250 * time.Millisecond,
		log:      log.Component("config"),
	}
}

// Run blocks until the context is cancelled. Call it in its own goroutine.
// Returns an error only when the underlying watcher cannot be created or
// the store has no file to watch.
func (w *Watcher) Run(ctx context.Context) error {
	path := w.store.Path()
	if path == "" {
		// Nothing on disk to watch; defaults-only deployments are valid.
		w.log.Debug("config watcher idle, no file loaded")
		<-ctx.Done()
		return nil
	}
	path = ExpandHome(path)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		return err
	}
	w.log.Info("watching config file", "path", path)

	var pending *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(w.debounce)
				fire = pending.C
			} else {
				// Drain a timer that fired between selects so Reset
				// cannot leave a stale tick pending.
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(w.debounce)
			}
		case <-fire:
			pending = nil
			fire = nil
			if err := w.store.Reload(); err != nil {
				w.log.Warn("auto-reload failed, keeping previous configuration", "error", err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}
