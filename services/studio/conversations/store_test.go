// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)

	c := Conversation{
		ID:        "conv-1",
		Title:     "Gear design",
		Timestamp: 1000,
		Messages: []Message{
			{Role: "user", Content: "make a gear", Timestamp: 999},
			{Role: "assistant", Content: "done", Timestamp: 1000},
		},
	}
	require.NoError(t, s.Save(c))

	got, err := s.Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestSaveReplacesByID(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(Conversation{ID: "c", Title: "old", Timestamp: 1}))
	require.NoError(t, s.Save(Conversation{ID: "c", Title: "new", Timestamp: 2}))

	got, err := s.Get("c")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Conversation{ID: "a", Timestamp: 100}))
	require.NoError(t, s.Save(Conversation{ID: "b", Timestamp: 300}))
	require.NoError(t, s.Save(Conversation{ID: "c", Timestamp: 200}))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Conversation{ID: "gone", Timestamp: 1}))
	require.NoError(t, s.Delete("gone"))

	_, err := s.Get("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing id is a no-op.
	require.NoError(t, s.Delete("never-existed"))
}

func TestSaveRequiresID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Save(Conversation{Title: "untitled"}))
}
