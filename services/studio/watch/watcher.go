// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watch notices external modifications to the opened .scad file
// so the document can reload it as a file_load checkpoint.
package watch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceWindow = 200 * time.Millisecond

// Watcher follows at most one file at a time. Write and Create events
// within the debounce window collapse into one callback, since editors
// commonly save via truncate-then-write or rename.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func(path string)
	logger   *slog.Logger

	mu       sync.Mutex
	path     string
	lastFire time.Time
	closed   bool
}

// New starts a Watcher delivering callbacks from its own goroutine.
// A nil logger falls back to slog.Default.
func New(onChange func(path string), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{fsw: fsw, onChange: onChange, logger: logger}
	go w.loop()
	return w, nil
}

// Watch switches the watched file. The directory is watched rather than
// the file itself so atomic saves (rename over the target) still fire.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	if w.path != "" {
		if err := w.fsw.Remove(filepath.Dir(w.path)); err != nil {
			w.logger.Debug("remove old watch failed", "error", err)
		}
	}
	if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	w.path = abs
	w.logger.Info("watching file", "path", abs)
	return nil
}

// Stop clears the watched file without closing the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.path != "" {
		_ = w.fsw.Remove(filepath.Dir(w.path))
		w.path = ""
	}
}

// Close shuts the watcher down. No callbacks fire afterwards.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	match := w.path != "" && filepath.Clean(ev.Name) == w.path
	if match {
		if time.Since(w.lastFire) < debounceWindow {
			match = false
		} else {
			w.lastFire = time.Now()
		}
	}
	path := w.path
	w.mu.Unlock()

	if match {
		w.logger.Debug("watched file changed", "path", path, "op", ev.Op.String())
		w.onChange(path)
	}
}
