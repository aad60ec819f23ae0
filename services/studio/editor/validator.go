// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package editor

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLinesChanged caps the size of a single edit. Touching exactly this
// many lines is allowed; one more is rejected.
const MaxLinesChanged = 120

var (
	// ErrNotFound means old text does not occur in the document.
	ErrNotFound = errors.New("old text not found")
	// ErrNotUnique means old text occurs more than once.
	ErrNotUnique = errors.New("old text is not unique")
	// ErrTooLarge means the edit touches more than MaxLinesChanged lines.
	ErrTooLarge = errors.New("edit too large")
)

// ValidationResult reports whether an edit would apply cleanly.
//
// LinesChanged is max(lines(old), lines(new)) and is populated on every
// result, including failures. Occurrences is only meaningful for
// ErrNotUnique. Err carries the sentinel for errors.Is; Error carries
// the message shown to the model.
type ValidationResult struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	LinesChanged int    `json:"lines_changed"`
	Occurrences  int    `json:"occurrences,omitempty"`

	Err error `json:"-"`
}

// Validate checks an old->new replacement against current without
// modifying anything. Checks run in order: existence, uniqueness, size.
func Validate(current, oldText, newText string) ValidationResult {
	lines := linesChanged(oldText, newText)

	count := strings.Count(current, oldText)
	if count == 0 {
		return ValidationResult{
			Error:        "The text to replace was not found in the current code. Make sure it matches exactly, including whitespace.",
			LinesChanged: lines,
			Err:          ErrNotFound,
		}
	}
	if count > 1 {
		return ValidationResult{
			Error:        fmt.Sprintf("The text to replace appears %d times in the current code. Provide more surrounding context to make it unique.", count),
			LinesChanged: lines,
			Occurrences:  count,
			Err:          ErrNotUnique,
		}
	}
	if lines > MaxLinesChanged {
		return ValidationResult{
			Error:        fmt.Sprintf("This edit touches %d lines, above the %d-line limit. Split it into smaller edits.", lines, MaxLinesChanged),
			LinesChanged: lines,
			Err:          ErrTooLarge,
		}
	}

	return ValidationResult{OK: true, LinesChanged: lines, Occurrences: 1}
}

// linesChanged sizes an edit as the larger of the two sides' line
// counts.
func linesChanged(oldText, newText string) int {
	return max(countLines(oldText), countLines(newText))
}

// countLines counts lines the way a text editor shows them: no trailing
// phantom line after a final newline, and zero lines for "".
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
