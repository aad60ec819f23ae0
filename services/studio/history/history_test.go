// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
)

func TestCreateAssignsIDAndTimestamp(t *testing.T) {
	h := New(0)
	id := h.Create("cube(1);", nil, "initial", ChangeUser)
	require.NotEmpty(t, id)

	cp, ok := h.ByID(id)
	require.True(t, ok)
	assert.Equal(t, "cube(1);", cp.Code)
	assert.Equal(t, "initial", cp.Description)
	assert.Equal(t, ChangeUser, cp.ChangeType)
	assert.Positive(t, cp.Timestamp)
}

func TestUndoFromHeadTargetsSecondNewest(t *testing.T) {
	h := New(0)
	h.Create("v1", nil, "", ChangeUser)
	h.Create("v2", nil, "", ChangeAI)
	h.Create("v3", nil, "", ChangeAI)

	cp, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, "v2", cp.Code)

	cp, err = h.Undo()
	require.NoError(t, err)
	assert.Equal(t, "v1", cp.Code)

	_, err = h.Undo()
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestUndoNeedsTwoCheckpoints(t *testing.T) {
	h := New(0)
	_, err := h.Undo()
	assert.ErrorIs(t, err, ErrNoHistory)

	h.Create("only", nil, "", ChangeUser)
	_, err = h.Undo()
	assert.ErrorIs(t, err, ErrNoHistory)
	assert.False(t, h.CanUndo())
}

func TestRedoWalksForwardThenResetsToHead(t *testing.T) {
	h := New(0)
	h.Create("v1", nil, "", ChangeUser)
	h.Create("v2", nil, "", ChangeUser)
	h.Create("v3", nil, "", ChangeUser)

	_, err := h.Redo()
	assert.ErrorIs(t, err, ErrNoFuture, "redo at head fails")

	_, err = h.Undo() // -> v2
	require.NoError(t, err)
	_, err = h.Undo() // -> v1
	require.NoError(t, err)

	cp, err := h.Redo()
	require.NoError(t, err)
	assert.Equal(t, "v2", cp.Code)

	// Stepping past the newest returns it and re-arms the head.
	cp, err = h.Redo()
	require.NoError(t, err)
	assert.Equal(t, "v3", cp.Code)
	assert.False(t, h.CanRedo())

	_, err = h.Redo()
	assert.ErrorIs(t, err, ErrNoFuture)
}

func TestCreateAfterUndoTruncatesFuture(t *testing.T) {
	h := New(0)
	h.Create("v1", nil, "", ChangeUser)
	h.Create("v2", nil, "", ChangeUser)
	h.Create("v3", nil, "", ChangeUser)

	_, err := h.Undo() // cursor on v2
	require.NoError(t, err)

	h.Create("v2b", nil, "branch", ChangeAI)

	assert.Equal(t, 3, h.Len(), "v3 was discarded")
	_, err = h.Redo()
	assert.ErrorIs(t, err, ErrNoFuture)

	codes := []string{}
	for _, cp := range h.All() {
		codes = append(codes, cp.Code)
	}
	assert.Equal(t, []string{"v1", "v2", "v2b"}, codes)
}

func TestCapacityEvictsOldest(t *testing.T) {
	h := New(3)
	for i := 1; i <= 5; i++ {
		h.Create(fmt.Sprintf("v%d", i), nil, "", ChangeUser)
	}
	require.Equal(t, 3, h.Len())
	all := h.All()
	assert.Equal(t, "v3", all[0].Code)
	assert.Equal(t, "v5", all[2].Code)
}

func TestRestoreTo(t *testing.T) {
	h := New(0)
	id1 := h.Create("v1", nil, "", ChangeUser)
	h.Create("v2", nil, "", ChangeUser)

	cp, err := h.RestoreTo(id1)
	require.NoError(t, err)
	assert.Equal(t, "v1", cp.Code)
	assert.True(t, h.CanRedo(), "cursor is positioned, redo possible")

	_, err = h.RestoreTo("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCurrentFollowsCursor(t *testing.T) {
	h := New(0)
	_, ok := h.Current()
	assert.False(t, ok)

	h.Create("v1", nil, "", ChangeUser)
	h.Create("v2", nil, "", ChangeUser)

	cp, ok := h.Current()
	require.True(t, ok)
	assert.Equal(t, "v2", cp.Code)

	_, err := h.Undo()
	require.NoError(t, err)
	cp, ok = h.Current()
	require.True(t, ok)
	assert.Equal(t, "v1", cp.Code)
}

func TestCheckpointKeepsDiagnosticsSnapshot(t *testing.T) {
	h := New(0)
	line := 3
	diags := []diag.Diagnostic{
		{Severity: diag.SeverityError, Line: &line, Message: "ERROR: bad, line 3"},
	}
	id := h.Create("broken();", diags, "", ChangeAI)

	diags[0].Message = "mutated"
	cp, ok := h.ByID(id)
	require.True(t, ok)
	assert.Equal(t, "ERROR: bad, line 3", cp.Diagnostics[0].Message)
}

func TestDiff(t *testing.T) {
	h := New(0)
	from := h.Create("cube([10, 10, 10]);\nsphere(5);\n", nil, "", ChangeUser)
	to := h.Create("cube([20, 10, 10]);\nsphere(5);\ncylinder(8);\n", nil, "", ChangeAI)

	d, err := h.Diff(from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, d.AddedLines)
	assert.Equal(t, 1, d.RemovedLines)
	assert.Contains(t, d.Unified, "-cube([10, 10, 10]);")
	assert.Contains(t, d.Unified, "+cube([20, 10, 10]);")
	assert.Contains(t, d.Unified, "+cylinder(8);")

	_, err = h.Diff(from, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.Diff("missing", to)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClear(t *testing.T) {
	h := New(0)
	h.Create("v1", nil, "", ChangeUser)
	h.Create("v2", nil, "", ChangeUser)
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.CanUndo())
	assert.False(t, h.CanRedo())
	_, err := h.Undo()
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestChangeTypeValid(t *testing.T) {
	for _, ct := range []ChangeType{ChangeUser, ChangeAI, ChangeFileLoad, ChangeUndo, ChangeRedo} {
		assert.True(t, ct.Valid())
	}
	assert.False(t, ChangeType("merge").Valid())
}
