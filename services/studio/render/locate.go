// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotLocated means no OpenSCAD executable could be found.
var ErrNotLocated = errors.New("OpenSCAD not found; install it from https://openscad.org/ or set the path explicitly")

// Locate finds the OpenSCAD executable.
//
// An explicit path, when given, must exist; no fallback runs in that
// case. Otherwise PATH is searched, then well-known install locations
// for the current OS.
func Locate(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("provided path does not exist: %s", explicitPath)
		}
		return explicitPath, nil
	}

	exeName := "openscad"
	if runtime.GOOS == "windows" {
		exeName = "openscad.exe"
	}
	if path, err := exec.LookPath(exeName); err == nil {
		return path, nil
	}

	for _, candidate := range fallbackPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if runtime.GOOS == "darwin" {
		if path, ok := scanApplications(); ok {
			return path, nil
		}
	}

	return "", ErrNotLocated
}

func fallbackPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/OpenSCAD.app/Contents/MacOS/OpenSCAD",
			"/Applications/OpenSCAD-2021.01.app/Contents/MacOS/OpenSCAD",
			"/Applications/OpenSCAD-2024.12.app/Contents/MacOS/OpenSCAD",
			"/Applications/OpenSCAD-nightly.app/Contents/MacOS/OpenSCAD",
			"/opt/homebrew/bin/openscad",
			"/usr/local/bin/openscad",
		}
	case "windows":
		return []string{
			`C:\Program Files\OpenSCAD\openscad.exe`,
			`C:\Program Files (x86)\OpenSCAD\openscad.exe`,
		}
	default:
		return []string{
			"/usr/bin/openscad",
			"/usr/local/bin/openscad",
		}
	}
}

// scanApplications looks for any versioned OpenSCAD*.app bundle.
func scanApplications() (string, bool) {
	entries, err := os.ReadDir("/Applications")
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "OpenSCAD") || !strings.HasSuffix(name, ".app") {
			continue
		}
		exe := filepath.Join("/Applications", name, "Contents/MacOS/OpenSCAD")
		if _, err := os.Stat(exe); err == nil {
			return exe, true
		}
	}
	return "", false
}
