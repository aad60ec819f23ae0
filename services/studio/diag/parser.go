// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diag

import (
	"regexp"
	"strconv"
	"strings"
)

// prefixRe matches diagnostic lines case-insensitively. Group 1 is the
// kind, group 2 the remainder after the colon.
var prefixRe = regexp.MustCompile(`(?i)^(ERROR|WARNING|ECHO):\s*(.*)`)

// lineRe captures the first "line <N>" occurrence in the remainder.
var lineRe = regexp.MustCompile(`line\s+(\d+)`)

// ParseStderr converts raw OpenSCAD stderr output into diagnostics.
//
// Contract, relied on by the edit pipeline and its tests:
//   - Only lines starting with ERROR:, WARNING:, or ECHO: (any case)
//     produce a diagnostic; everything else is ignored.
//   - ECHO lines map to info severity.
//   - An optional source line number is taken from the first "line <N>"
//     in the remainder; a column is never reported.
//   - Message is the full trimmed line, prefix included.
func ParseStderr(stderr string) []Diagnostic {
	var diags []Diagnostic
	for _, raw := range strings.Split(stderr, "\n") {
		line := strings.TrimSpace(raw)
		m := prefixRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		var severity Severity
		switch strings.ToUpper(m[1]) {
		case "ERROR":
			severity = SeverityError
		case "WARNING":
			severity = SeverityWarning
		default:
			severity = SeverityInfo
		}

		var lineNum *int
		if lm := lineRe.FindStringSubmatch(m[2]); lm != nil {
			if n, err := strconv.Atoi(lm[1]); err == nil {
				lineNum = &n
			}
		}

		diags = append(diags, Diagnostic{
			Severity: severity,
			Line:     lineNum,
			Message:  line,
		})
	}
	return diags
}
