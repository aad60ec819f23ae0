// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package editor holds the live document, the edit validator, and the
// transactional editor that commits AI edits only after an external
// compile check passes.
package editor

import (
	"sync"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
)

// DefaultSource is the document content before anything is loaded.
const DefaultSource = "// Type your OpenSCAD code here\ncube([10, 10, 10]);"

// Document is the single source of truth for the current OpenSCAD code.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Diagnostics always describe
// the last committed text; the two are only ever replaced together.
type Document struct {
	mu              sync.RWMutex
	text            string
	diagnostics     []diag.Diagnostic
	lastPreviewPath string
	toolPath        string
	workingDir      string
}

// NewDocument returns a Document holding DefaultSource and the openscad
// executable name as its tool path.
func NewDocument() *Document {
	return &Document{
		text:     DefaultSource,
		toolPath: "openscad",
	}
}

// Text returns the current source.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}

// SetText replaces the source without touching diagnostics. Used for
// plain user typing, where no compile has run yet.
func (d *Document) SetText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

// Diagnostics returns a copy of the diagnostics for the committed text.
func (d *Document) Diagnostics() []diag.Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]diag.Diagnostic(nil), d.diagnostics...)
}

// ErrorCount returns how many committed diagnostics are errors.
func (d *Document) ErrorCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return diag.CountErrors(d.diagnostics)
}

// Snapshot returns the text and diagnostics under one lock acquisition,
// so callers get a consistent pair.
func (d *Document) Snapshot() (string, []diag.Diagnostic) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text, append([]diag.Diagnostic(nil), d.diagnostics...)
}

// Commit atomically replaces text and diagnostics together.
func (d *Document) Commit(text string, diags []diag.Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	d.diagnostics = append([]diag.Diagnostic(nil), diags...)
}

// SetDiagnostics replaces only the diagnostics, after a render compiled
// the current text.
func (d *Document) SetDiagnostics(diags []diag.Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.diagnostics = append([]diag.Diagnostic(nil), diags...)
}

// LastPreviewPath returns the most recent preview artifact path, or ""
// if nothing has rendered yet.
func (d *Document) LastPreviewPath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastPreviewPath
}

// SetLastPreviewPath records where the latest preview artifact lives.
func (d *Document) SetLastPreviewPath(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPreviewPath = path
}

// ToolPath returns the OpenSCAD executable path used for compiles.
func (d *Document) ToolPath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.toolPath
}

// SetToolPath overrides the OpenSCAD executable path.
func (d *Document) SetToolPath(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toolPath = path
}

// WorkingDir returns the directory renders run in, or "" for the cache
// directory.
func (d *Document) WorkingDir() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.workingDir
}

// SetWorkingDir sets the directory renders run in. Relative imports in
// the source resolve against it.
func (d *Document) SetWorkingDir(dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workingDir = dir
}
