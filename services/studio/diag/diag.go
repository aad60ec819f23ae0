// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diag defines the diagnostic model shared by the editor, the
// renderer, and the AI tools, plus the parser that turns OpenSCAD stderr
// into structured diagnostics.
package diag

import (
	"fmt"
	"strings"
)

// Severity classifies a diagnostic. It is a closed set; anything else is
// rejected at construction.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Valid reports whether s is one of the three known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ParseSeverity converts a string into a Severity, case-insensitively.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(raw))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}

// Diagnostic is a single message from the OpenSCAD compiler.
//
// Line is 1-based and nil when the source line could not be determined.
// Col is carried for wire-format stability but is never populated by the
// stderr parser; OpenSCAD does not report columns.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Line     *int     `json:"line,omitempty"`
	Col      *int     `json:"col,omitempty"`
	Message  string   `json:"message"`
}

// CountErrors returns how many diagnostics carry error severity. The edit
// pipeline's regression gate compares these counts.
func CountErrors(diags []Diagnostic) int {
	n := 0
	for _, d := range diags {
		if d.Severity == SeverityError {
			n++
		}
	}
	return n
}

// HasErrors reports whether any diagnostic carries error severity.
func HasErrors(diags []Diagnostic) bool {
	return CountErrors(diags) > 0
}

// FormatList renders diagnostics one per line for tool results and error
// messages, e.g. "[error] line 5: unexpected token".
func FormatList(diags []Diagnostic) string {
	if len(diags) == 0 {
		return "No diagnostics."
	}
	var b strings.Builder
	for i, d := range diags {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte('[')
		b.WriteString(string(d.Severity))
		b.WriteByte(']')
		if d.Line != nil {
			fmt.Fprintf(&b, " line %d", *d.Line)
		}
		b.WriteString(": ")
		b.WriteString(d.Message)
	}
	return b.String()
}
