// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package render drives the OpenSCAD executable: preview renders, exact
// exports, compile checks, backend detection, and executable discovery,
// fronted by a content-addressed result cache.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
)

// SchemaVersion tags cache entries. Bump it whenever Entry changes
// shape; entries written under an older version never hit.
const SchemaVersion = 2

// Kind classifies a render artifact.
type Kind string

const (
	KindPNG  Kind = "png"
	KindSVG  Kind = "svg"
	KindMesh Kind = "mesh"
)

// Entry is one cached render result.
type Entry struct {
	Version     int               `json:"version"`
	OutputPath  string            `json:"output_path"`
	Timestamp   int64             `json:"timestamp"`
	Kind        Kind              `json:"kind"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

// Cache maps content-addressed keys to render artifacts on disk.
//
// # Thread Safety
//
// Safe for concurrent use. Get is best-effort: if the lock cannot be
// acquired immediately the lookup reports a miss, so a reader never
// waits behind a writer.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Key derives the cache key for a render: sha256 over the source and
// every parameter that changes the output.
func Key(source, backend, view string, renderMesh bool) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte(backend))
	h.Write([]byte(view))
	if renderMesh {
		h.Write([]byte("mesh"))
	} else {
		h.Write([]byte("image"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry for key if its schema version is current and
// its artifact still exists on disk.
func (c *Cache) Get(key string) (Entry, bool) {
	if !c.mu.TryLock() {
		cacheMisses.Inc()
		return Entry{}, false
	}
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if !ok || entry.Version != SchemaVersion {
		cacheMisses.Inc()
		return Entry{}, false
	}
	if _, err := os.Stat(entry.OutputPath); err != nil {
		cacheMisses.Inc()
		return Entry{}, false
	}
	cacheHits.Inc()
	return entry, true
}

// Set stores an entry for key, overwriting unconditionally and stamping
// the current schema version and time.
func (c *Cache) Set(key, outputPath string, kind Kind, diags []diag.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{
		Version:     SchemaVersion,
		OutputPath:  outputPath,
		Timestamp:   time.Now().Unix(),
		Kind:        kind,
		Diagnostics: append([]diag.Diagnostic(nil), diags...),
	}
}

// EvictOlderThan drops entries whose age meets or exceeds maxAge. The
// artifacts themselves are left on disk; temp-dir cleanup owns those.
func (c *Cache) EvictOlderThan(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge).Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.Timestamp <= cutoff {
			delete(c.entries, key)
		}
	}
}

// Stats returns the total entry count and how many still have their
// artifact on disk.
func (c *Cache) Stats() (total, valid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total = len(c.entries)
	for _, entry := range c.entries {
		if _, err := os.Stat(entry.OutputPath); err == nil {
			valid++
		}
	}
	return total, valid
}
