// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package history keeps a bounded, in-memory checkpoint timeline for the
// document. Checkpoints are full-text snapshots; the timeline is linear,
// so creating a checkpoint while rewound discards the redo branch.
package history

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
)

// ChangeType records what caused a checkpoint.
type ChangeType string

const (
	ChangeUser     ChangeType = "user"
	ChangeAI       ChangeType = "ai"
	ChangeFileLoad ChangeType = "file_load"
	ChangeUndo     ChangeType = "undo"
	ChangeRedo     ChangeType = "redo"
)

// Valid reports whether ct is a known change type.
func (ct ChangeType) Valid() bool {
	switch ct {
	case ChangeUser, ChangeAI, ChangeFileLoad, ChangeUndo, ChangeRedo:
		return true
	}
	return false
}

// Checkpoint is one full snapshot of document state.
//
// Timestamp is Unix milliseconds. Diagnostics describe Code exactly as
// it was when the checkpoint was taken.
type Checkpoint struct {
	ID          string            `json:"id"`
	Timestamp   int64             `json:"timestamp"`
	Code        string            `json:"code"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
	Description string            `json:"description"`
	ChangeType  ChangeType        `json:"change_type"`
}

// DefaultCapacity bounds the timeline; the oldest checkpoint is evicted
// from the front once the cap is reached.
const DefaultCapacity = 50

var (
	// ErrNoHistory means there is nothing before the current position.
	ErrNoHistory = errors.New("nothing to undo")
	// ErrNoFuture means there is nothing after the current position.
	ErrNoFuture = errors.New("nothing to redo")
	// ErrNotFound means no checkpoint has the requested id.
	ErrNotFound = errors.New("checkpoint not found")
)

// History is a bounded deque of checkpoints with an undo cursor.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The cursor is -1 when the
// timeline is at its head (the newest checkpoint); otherwise it indexes
// the checkpoint currently restored.
type History struct {
	mu          sync.Mutex
	checkpoints []Checkpoint
	cursor      int
	capacity    int
}

// New returns a History holding at most capacity checkpoints. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{cursor: -1, capacity: capacity}
}

// Create records a new checkpoint and returns its id.
//
// If the cursor is rewound, everything after it is discarded first and
// the cursor resets to the head. The oldest checkpoint is evicted when
// the timeline is full.
func (h *History) Create(code string, diags []diag.Diagnostic, description string, ct ChangeType) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor >= 0 {
		h.checkpoints = h.checkpoints[:h.cursor+1]
		h.cursor = -1
	}
	if len(h.checkpoints) >= h.capacity {
		h.checkpoints = h.checkpoints[1:]
	}

	cp := Checkpoint{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		Code:        code,
		Diagnostics: append([]diag.Diagnostic(nil), diags...),
		Description: description,
		ChangeType:  ct,
	}
	h.checkpoints = append(h.checkpoints, cp)
	return cp.ID
}

// Undo moves the cursor one step back and returns the checkpoint to
// restore. From the head it targets the second-newest checkpoint, since
// the newest one mirrors the live document.
func (h *History) Undo() (Checkpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.checkpoints) == 0 {
		return Checkpoint{}, ErrNoHistory
	}

	var target int
	if h.cursor < 0 {
		if len(h.checkpoints) < 2 {
			return Checkpoint{}, ErrNoHistory
		}
		target = len(h.checkpoints) - 2
	} else {
		if h.cursor == 0 {
			return Checkpoint{}, ErrNoHistory
		}
		target = h.cursor - 1
	}
	h.cursor = target
	return h.checkpoints[target], nil
}

// Redo moves the cursor one step forward. Stepping past the newest
// checkpoint returns it again and resets the cursor to the head.
func (h *History) Redo() (Checkpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor < 0 {
		return Checkpoint{}, ErrNoFuture
	}
	next := h.cursor + 1
	if next >= len(h.checkpoints) {
		h.cursor = -1
		return h.checkpoints[len(h.checkpoints)-1], nil
	}
	h.cursor = next
	return h.checkpoints[next], nil
}

// RestoreTo positions the cursor on the checkpoint with the given id and
// returns it.
func (h *History) RestoreTo(id string) (Checkpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, cp := range h.checkpoints {
		if cp.ID == id {
			h.cursor = i
			return cp, nil
		}
	}
	return Checkpoint{}, ErrNotFound
}

// ByID returns the checkpoint with the given id without moving the
// cursor.
func (h *History) ByID(id string) (Checkpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, cp := range h.checkpoints {
		if cp.ID == id {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// Current returns the checkpoint under the cursor, or the newest one
// when the timeline is at its head.
func (h *History) Current() (Checkpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.checkpoints) == 0 {
		return Checkpoint{}, false
	}
	if h.cursor >= 0 {
		return h.checkpoints[h.cursor], true
	}
	return h.checkpoints[len(h.checkpoints)-1], true
}

// All returns the timeline oldest-first.
func (h *History) All() []Checkpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Checkpoint(nil), h.checkpoints...)
}

// CanUndo reports whether Undo would succeed.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor < 0 {
		return len(h.checkpoints) > 1
	}
	return h.cursor > 0
}

// CanRedo reports whether Redo would succeed.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor >= 0
}

// Len returns the number of stored checkpoints.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.checkpoints)
}

// Clear drops every checkpoint and resets the cursor.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkpoints = nil
	h.cursor = -1
}
