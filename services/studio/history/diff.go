// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff is a display-only comparison between two checkpoints.
type Diff struct {
	FromID       string `json:"from_id"`
	ToID         string `json:"to_id"`
	Unified      string `json:"unified"`
	AddedLines   int    `json:"added_lines"`
	RemovedLines int    `json:"removed_lines"`
}

// Diff renders a unified diff between two checkpoints' code, identified
// by id, with added/removed line counts. Returns ErrNotFound if either
// id is unknown.
func (h *History) Diff(fromID, toID string) (Diff, error) {
	from, ok := h.ByID(fromID)
	if !ok {
		return Diff{}, fmt.Errorf("from %q: %w", fromID, ErrNotFound)
	}
	to, ok := h.ByID(toID)
	if !ok {
		return Diff{}, fmt.Errorf("to %q: %w", toID, ErrNotFound)
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(from.Code),
		B:        difflib.SplitLines(to.Code),
		FromFile: from.ID,
		ToFile:   to.ID,
		Context:  3,
	})
	if err != nil {
		return Diff{}, fmt.Errorf("generate diff: %w", err)
	}

	added, removed := countChanges(unified)
	return Diff{
		FromID:       fromID,
		ToID:         toID,
		Unified:      unified,
		AddedLines:   added,
		RemovedLines: removed,
	}, nil
}

// countChanges tallies +/- lines, skipping the file headers.
func countChanges(unified string) (added, removed int) {
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
