// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package editor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
	"github.com/zacharyfmarion/openscad-studio/services/studio/events"
	"github.com/zacharyfmarion/openscad-studio/services/studio/history"
)

// Verifier compiles candidate source out of process and returns its
// diagnostics. A non-nil error means the compile could not run at all,
// which is distinct from the source having errors.
type Verifier interface {
	Verify(ctx context.Context, source string) ([]diag.Diagnostic, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, source string) ([]diag.Diagnostic, error)

func (f VerifierFunc) Verify(ctx context.Context, source string) ([]diag.Diagnostic, error) {
	return f(ctx, source)
}

// ApplyResult is the outcome of one edit attempt.
//
// On failure Error is set, Diagnostics carries the candidate's full
// diagnostics when a compile ran, and the document is untouched.
// CheckpointID is set only on success; the pre-edit checkpoint exists in
// history either way.
type ApplyResult struct {
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	Diagnostics  []diag.Diagnostic `json:"diagnostics,omitempty"`
	CheckpointID string            `json:"checkpoint_id,omitempty"`
}

// Editor owns the edit transaction and the history/document coupling.
//
// # Thread Safety
//
// Apply serializes edit attempts end to end, so a second attempt waits
// for the first one's compile to finish. Readers of the Document are
// never blocked by an in-flight compile; the document lock is only taken
// to snapshot and to commit.
type Editor struct {
	doc      *Document
	hist     *history.History
	verifier Verifier
	emitter  *events.Emitter
	logger   *slog.Logger

	editMu sync.Mutex
}

// New wires an Editor. A nil logger falls back to slog.Default.
func New(doc *Document, hist *history.History, verifier Verifier, emitter *events.Emitter, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{
		doc:      doc,
		hist:     hist,
		verifier: verifier,
		emitter:  emitter,
		logger:   logger,
	}
}

// Document returns the live document.
func (e *Editor) Document() *Document { return e.doc }

// History returns the checkpoint timeline.
func (e *Editor) History() *history.History { return e.hist }

// Validate checks oldText->newText against the live document without
// modifying anything.
func (e *Editor) Validate(oldText, newText string) ValidationResult {
	return Validate(e.doc.Text(), oldText, newText)
}

// Apply runs one transactional edit with a default description.
func (e *Editor) Apply(ctx context.Context, oldText, newText string) ApplyResult {
	return e.ApplyAs(ctx, oldText, newText, "Before AI edit", history.ChangeAI)
}

// ApplyAs runs one transactional edit.
//
// Description:
//
//	Snapshots the document, checkpoints the pre-edit state, revalidates
//	old-text existence and uniqueness against the snapshot, builds the
//	candidate, compiles it through the Verifier with no document lock
//	held, and commits only if the compile ran and the error count did
//	not increase. On commit it emits document-changed then
//	render-requested, exactly once each.
//
// Outputs:
//
//	ApplyResult; never an error. Expected failures (not found, compile
//	failed, regression) are result-shaped because the model consumes
//	them as tool output.
func (e *Editor) ApplyAs(ctx context.Context, oldText, newText, description string, ct history.ChangeType) ApplyResult {
	e.editMu.Lock()
	defer e.editMu.Unlock()

	text, diags := e.doc.Snapshot()

	// The pre-edit checkpoint survives rejection so a caller can roll
	// back to it after an AI turn goes wrong.
	e.hist.Create(text, diags, description, ct)

	res := Validate(text, oldText, newText)
	if !res.OK {
		e.logger.Debug("edit rejected by validation", "reason", res.Error)
		return ApplyResult{Error: res.Error}
	}

	// Uniqueness was just validated, so replacing one occurrence is the
	// whole edit.
	candidate := strings.Replace(text, oldText, newText, 1)

	newDiags, err := e.verifier.Verify(ctx, candidate)
	if err != nil {
		e.logger.Warn("edit verification failed to run", "error", err)
		return ApplyResult{Error: fmt.Sprintf("Test compilation failed: %v", err)}
	}

	oldErrors := diag.CountErrors(diags)
	newErrors := diag.CountErrors(newDiags)
	if newErrors > oldErrors {
		e.logger.Info("edit rejected, error count increased",
			"old_errors", oldErrors, "new_errors", newErrors)
		return ApplyResult{
			Error: fmt.Sprintf(
				"Edit rejected: it introduces new errors (%d before, %d after).\n%s",
				oldErrors, newErrors, diag.FormatList(newDiags)),
			Diagnostics: newDiags,
		}
	}

	e.doc.Commit(candidate, newDiags)
	checkpointID := e.hist.Create(candidate, newDiags, "AI edit applied", ct)

	e.emitter.Emit(events.TypeDocumentChanged, events.DocumentChanged{Code: candidate})
	e.emitter.Emit(events.TypeRenderRequested, nil)

	e.logger.Info("edit committed",
		"checkpoint_id", checkpointID,
		"lines_changed", res.LinesChanged,
		"errors", newErrors)
	return ApplyResult{
		Success:      true,
		Diagnostics:  newDiags,
		CheckpointID: checkpointID,
	}
}

// Checkpoint snapshots the current document into history and returns the
// checkpoint id.
func (e *Editor) Checkpoint(description string, ct history.ChangeType) string {
	text, diags := e.doc.Snapshot()
	return e.hist.Create(text, diags, description, ct)
}

// Undo rewinds one step, loads the checkpoint into the document, and
// emits history-restored.
func (e *Editor) Undo() (history.Checkpoint, error) {
	cp, err := e.hist.Undo()
	if err != nil {
		return history.Checkpoint{}, err
	}
	e.restore(cp)
	return cp, nil
}

// Redo advances one step, loads the checkpoint into the document, and
// emits history-restored.
func (e *Editor) Redo() (history.Checkpoint, error) {
	cp, err := e.hist.Redo()
	if err != nil {
		return history.Checkpoint{}, err
	}
	e.restore(cp)
	return cp, nil
}

// RestoreTo jumps to a checkpoint by id, loads it into the document, and
// emits history-restored.
func (e *Editor) RestoreTo(id string) (history.Checkpoint, error) {
	cp, err := e.hist.RestoreTo(id)
	if err != nil {
		return history.Checkpoint{}, err
	}
	e.restore(cp)
	return cp, nil
}

func (e *Editor) restore(cp history.Checkpoint) {
	e.doc.Commit(cp.Code, cp.Diagnostics)
	e.emitter.Emit(events.TypeHistoryRestored, events.HistoryRestored{Checkpoint: cp})
}
