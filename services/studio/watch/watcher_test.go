// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, ch <-chan string, timeout time.Duration) (string, bool) {
	t.Helper()
	select {
	case got := <-ch:
		return got, true
	case <-time.After(timeout):
		return "", false
	}
}

func TestWatchFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.scad")
	require.NoError(t, os.WriteFile(target, []byte("cube(1);"), 0o644))

	changes := make(chan string, 8)
	w, err := New(func(path string) { changes <- path }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(target))
	require.NoError(t, os.WriteFile(target, []byte("cube(2);"), 0o644))

	got, ok := waitFor(t, changes, 2*time.Second)
	require.True(t, ok, "expected a change callback")
	resolved, err := filepath.Abs(target)
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.scad")
	sibling := filepath.Join(dir, "other.scad")
	require.NoError(t, os.WriteFile(target, []byte("cube(1);"), 0o644))

	changes := make(chan string, 8)
	w, err := New(func(path string) { changes <- path }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(target))
	require.NoError(t, os.WriteFile(sibling, []byte("sphere(1);"), 0o644))

	_, ok := waitFor(t, changes, 500*time.Millisecond)
	assert.False(t, ok, "sibling writes must not fire")
}

func TestStopSilencesCallbacks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.scad")
	require.NoError(t, os.WriteFile(target, []byte("cube(1);"), 0o644))

	changes := make(chan string, 8)
	w, err := New(func(path string) { changes <- path }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(target))
	w.Stop()
	require.NoError(t, os.WriteFile(target, []byte("cube(3);"), 0o644))

	_, ok := waitFor(t, changes, 500*time.Millisecond)
	assert.False(t, ok)
}

func TestWatchAfterCloseFails(t *testing.T) {
	w, err := New(func(string) {}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Watch(filepath.Join(t.TempDir(), "x.scad")))
}
