// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
)

func writeArtifact(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0o644))
	return path
}

func TestKeyIsDeterministicAndParameterSensitive(t *testing.T) {
	base := Key("cube([10,10,10]);", "auto", "3d", false)
	assert.Equal(t, base, Key("cube([10,10,10]);", "auto", "3d", false))
	assert.Len(t, base, 64)

	assert.NotEqual(t, base, Key("sphere(5);", "auto", "3d", false))
	assert.NotEqual(t, base, Key("cube([10,10,10]);", "manifold", "3d", false))
	assert.NotEqual(t, base, Key("cube([10,10,10]);", "auto", "2d", false))
	assert.NotEqual(t, base, Key("cube([10,10,10]);", "auto", "3d", true))
}

func TestCacheHitRequiresArtifactOnDisk(t *testing.T) {
	c := NewCache()
	path := writeArtifact(t, "render.png")
	key := Key("cube(1);", "auto", "3d", false)

	_, ok := c.Get(key)
	assert.False(t, ok, "empty cache misses")

	c.Set(key, path, KindPNG, nil)
	entry, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, KindPNG, entry.Kind)
	assert.Equal(t, path, entry.OutputPath)
	assert.Equal(t, SchemaVersion, entry.Version)

	require.NoError(t, os.Remove(path))
	_, ok = c.Get(key)
	assert.False(t, ok, "deleted artifact invalidates the entry")
}

func TestCacheRejectsStaleSchemaVersion(t *testing.T) {
	c := NewCache()
	path := writeArtifact(t, "render.png")

	c.mu.Lock()
	c.entries["stale"] = Entry{Version: SchemaVersion - 1, OutputPath: path, Timestamp: time.Now().Unix()}
	c.mu.Unlock()

	_, ok := c.Get("stale")
	assert.False(t, ok)
}

func TestCacheSetOverwrites(t *testing.T) {
	c := NewCache()
	first := writeArtifact(t, "a.png")
	second := writeArtifact(t, "b.svg")

	c.Set("k", first, KindPNG, nil)
	c.Set("k", second, KindSVG, []diag.Diagnostic{{Severity: diag.SeverityWarning, Message: "WARNING: w"}})

	entry, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, second, entry.OutputPath)
	assert.Equal(t, KindSVG, entry.Kind)
	require.Len(t, entry.Diagnostics, 1)
}

func TestEvictOlderThan(t *testing.T) {
	c := NewCache()
	fresh := writeArtifact(t, "fresh.png")
	old := writeArtifact(t, "old.png")

	c.Set("fresh", fresh, KindPNG, nil)
	c.mu.Lock()
	c.entries["old"] = Entry{
		Version:    SchemaVersion,
		OutputPath: old,
		Timestamp:  time.Now().Add(-2 * time.Hour).Unix(),
		Kind:       KindPNG,
	}
	c.mu.Unlock()

	c.EvictOlderThan(time.Hour)

	_, ok := c.Get("old")
	assert.False(t, ok)
	_, ok = c.Get("fresh")
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	c := NewCache()
	live := writeArtifact(t, "live.png")
	gone := writeArtifact(t, "gone.png")

	c.Set("live", live, KindPNG, nil)
	c.Set("gone", gone, KindPNG, nil)
	require.NoError(t, os.Remove(gone))

	total, valid := c.Stats()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, valid)
}
