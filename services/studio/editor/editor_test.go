// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
	"github.com/zacharyfmarion/openscad-studio/services/studio/events"
	"github.com/zacharyfmarion/openscad-studio/services/studio/history"
)

// stubVerifier returns canned diagnostics, or an error, and records the
// sources it was asked to compile.
type stubVerifier struct {
	diags   []diag.Diagnostic
	err     error
	sources []string
}

func (s *stubVerifier) Verify(_ context.Context, source string) ([]diag.Diagnostic, error) {
	s.sources = append(s.sources, source)
	if s.err != nil {
		return nil, s.err
	}
	return s.diags, nil
}

func newTestEditor(v Verifier) (*Editor, *Document, *history.History, *events.Emitter) {
	doc := NewDocument()
	hist := history.New(0)
	em := events.NewEmitter(nil)
	ed := New(doc, hist, v, em, nil)
	return ed, doc, hist, em
}

func errDiag(line int, msg string) diag.Diagnostic {
	return diag.Diagnostic{Severity: diag.SeverityError, Line: &line, Message: msg}
}

func TestApplyCommitsAndEmitsInOrder(t *testing.T) {
	v := &stubVerifier{}
	ed, doc, hist, em := newTestEditor(v)

	var order []events.Type
	em.Subscribe(func(ev events.Event) { order = append(order, ev.Type) },
		events.TypeDocumentChanged, events.TypeRenderRequested)

	res := ed.Apply(context.Background(), "cube([10, 10, 10]);", "cube([20, 10, 10]);")
	require.True(t, res.Success, "error: %s", res.Error)
	require.NotEmpty(t, res.CheckpointID)

	assert.Equal(t, "// Type your OpenSCAD code here\ncube([20, 10, 10]);", doc.Text())
	assert.Equal(t,
		[]events.Type{events.TypeDocumentChanged, events.TypeRenderRequested},
		order)

	// Pre-edit snapshot plus post-edit checkpoint.
	assert.Equal(t, 2, hist.Len())
	cp, ok := hist.ByID(res.CheckpointID)
	require.True(t, ok)
	assert.Equal(t, doc.Text(), cp.Code)

	require.Len(t, v.sources, 1)
	assert.Contains(t, v.sources[0], "cube([20, 10, 10]);")
}

func TestApplyNotFoundLeavesDocumentUntouched(t *testing.T) {
	v := &stubVerifier{}
	ed, doc, hist, _ := newTestEditor(v)
	before := doc.Text()

	res := ed.Apply(context.Background(), "sphere(99);", "sphere(1);")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
	assert.Empty(t, res.CheckpointID)
	assert.Equal(t, before, doc.Text())
	assert.Empty(t, v.sources, "no compile for an invalid edit")

	// The pre-edit checkpoint still exists.
	assert.Equal(t, 1, hist.Len())
}

func TestApplyNotUnique(t *testing.T) {
	v := &stubVerifier{}
	ed, doc, _, _ := newTestEditor(v)
	doc.SetText("sphere(5);\nsphere(5);")

	res := ed.Apply(context.Background(), "sphere(5);", "sphere(9);")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "2 times")
	assert.Equal(t, "sphere(5);\nsphere(5);", doc.Text())
}

func TestApplyRejectsErrorCountRegression(t *testing.T) {
	v := &stubVerifier{diags: []diag.Diagnostic{errDiag(2, "ERROR: syntax error in line 2")}}
	ed, doc, _, em := newTestEditor(v)
	before := doc.Text()

	emitted := 0
	em.Subscribe(func(events.Event) { emitted++ },
		events.TypeDocumentChanged, events.TypeRenderRequested)

	res := ed.Apply(context.Background(), "cube([10, 10, 10]);", "cube([10, 10, 10)")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "new errors")
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.SeverityError, res.Diagnostics[0].Severity)

	assert.Equal(t, before, doc.Text(), "rejected edit must not mutate")
	assert.Empty(t, doc.Diagnostics(), "diagnostics describe the committed text only")
	assert.Zero(t, emitted, "no notifications on failure")
}

func TestApplyAllowsEqualErrorCount(t *testing.T) {
	// Document already has one error; the candidate still has one.
	v := &stubVerifier{diags: []diag.Diagnostic{errDiag(1, "ERROR: still broken, line 1")}}
	ed, doc, _, _ := newTestEditor(v)
	doc.Commit("bad(;\ncube(1);", []diag.Diagnostic{errDiag(1, "ERROR: broken, line 1")})

	res := ed.Apply(context.Background(), "cube(1);", "cube(2);")
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, "bad(;\ncube(2);", doc.Text())
	require.Len(t, doc.Diagnostics(), 1)
	assert.Equal(t, "ERROR: still broken, line 1", doc.Diagnostics()[0].Message)
}

func TestApplyAllowsErrorCountDecrease(t *testing.T) {
	v := &stubVerifier{} // candidate compiles clean
	ed, doc, _, _ := newTestEditor(v)
	doc.Commit("bad(;", []diag.Diagnostic{errDiag(1, "ERROR: broken, line 1")})

	res := ed.Apply(context.Background(), "bad(;", "cube(1);")
	require.True(t, res.Success)
	assert.Equal(t, "cube(1);", doc.Text())
	assert.Empty(t, doc.Diagnostics())
}

func TestApplyVerifierFailureIsRejection(t *testing.T) {
	v := &stubVerifier{err: errors.New("executable not found")}
	ed, doc, hist, _ := newTestEditor(v)
	before := doc.Text()

	res := ed.Apply(context.Background(), "cube([10, 10, 10]);", "cube(2);")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Test compilation failed")
	assert.Equal(t, before, doc.Text())
	assert.Equal(t, 1, hist.Len(), "pre-edit checkpoint survives")
}

func TestApplyTooLargeRejected(t *testing.T) {
	v := &stubVerifier{}
	ed, doc, _, _ := newTestEditor(v)

	var big string
	for i := 0; i < MaxLinesChanged+1; i++ {
		big += "x();\n"
	}
	res := ed.Apply(context.Background(), "cube([10, 10, 10]);", big)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "limit")
	assert.Equal(t, NewDocument().Text(), doc.Text())
	assert.Empty(t, v.sources)
}

func TestUndoRedoRestoreDocumentAndEmit(t *testing.T) {
	v := &stubVerifier{}
	ed, doc, _, em := newTestEditor(v)

	var restored []history.Checkpoint
	em.Subscribe(func(ev events.Event) {
		restored = append(restored, ev.Data.(events.HistoryRestored).Checkpoint)
	}, events.TypeHistoryRestored)

	ed.Checkpoint("v1", history.ChangeUser)
	doc.SetText("cube(2);")
	ed.Checkpoint("v2", history.ChangeUser)

	cp, err := ed.Undo()
	require.NoError(t, err)
	assert.Equal(t, "v1", cp.Description)
	assert.Equal(t, cp.Code, doc.Text())

	cp, err = ed.Redo()
	require.NoError(t, err)
	assert.Equal(t, "v2", cp.Description)
	assert.Equal(t, "cube(2);", doc.Text())

	require.Len(t, restored, 2)
	assert.Equal(t, "v1", restored[0].Description)
	assert.Equal(t, "v2", restored[1].Description)
}

func TestRestoreToByID(t *testing.T) {
	v := &stubVerifier{}
	ed, doc, _, _ := newTestEditor(v)

	id1 := ed.Checkpoint("first", history.ChangeUser)
	doc.SetText("cube(2);")
	ed.Checkpoint("second", history.ChangeUser)

	cp, err := ed.RestoreTo(id1)
	require.NoError(t, err)
	assert.Equal(t, cp.Code, doc.Text())

	_, err = ed.RestoreTo("missing")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestVerifierFuncAdapter(t *testing.T) {
	called := false
	var vf Verifier = VerifierFunc(func(context.Context, string) ([]diag.Diagnostic, error) {
		called = true
		return nil, nil
	})
	_, err := vf.Verify(context.Background(), "cube(1);")
	require.NoError(t, err)
	assert.True(t, called)
}
