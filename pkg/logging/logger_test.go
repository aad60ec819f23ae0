// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelSlogLevel(t *testing.T) {
	tests := []struct {
		in   Level
		want string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{Level("WARNING"), "WARN"},
		{LevelError, "ERROR"},
		{Level("bogus"), "INFO"},
		{Level(""), "INFO"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.slogLevel().String(), "level %q", tt.in)
	}
}

func TestNewWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "test-service",
		Quiet:   true,
	})
	require.NoError(t, err)

	l.Info("hello", "answer", 42)
	l.Debug("details", "key", "value")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "test-service.log"))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	// First line must be valid JSON carrying the service attr.
	var rec map[string]any
	first := data[:len(data)]
	for i, b := range data {
		if b == '\n' {
			first = data[:i]
			break
		}
	}
	require.NoError(t, json.Unmarshal(first, &rec))
	assert.Equal(t, "test-service", rec["service"])
	assert.Equal(t, "hello", rec["msg"])
}

func TestNewQuietWithoutDirDiscards(t *testing.T) {
	l, err := New(Config{Quiet: true})
	require.NoError(t, err)
	// Must not panic even with no destinations.
	l.Info("dropped")
	l.Error("dropped too", "err", "nope")
	require.NoError(t, l.Close())
}

func TestWithDoesNotShareCloser(t *testing.T) {
	dir := t.TempDir()
	parent, err := New(Config{LogDir: dir, Service: "svc", Quiet: true})
	require.NoError(t, err)

	child := parent.With("request_id", "abc")
	require.NoError(t, child.Close())

	// Parent's file handle must still be open after the child closes.
	parent.Info("still alive")
	require.NoError(t, parent.Close())
}

func TestNopNeverFails(t *testing.T) {
	l := Nop()
	l.Debug("a")
	l.Info("b")
	l.Warn("c")
	l.Error("d")
	assert.NotNil(t, l.Slog())
	assert.NoError(t, l.Close())
}
