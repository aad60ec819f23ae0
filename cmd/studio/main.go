// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command studio runs the OpenSCAD studio backend.
//
// The server owns the live document, its checkpoint history, the render
// pipeline, and the AI editing agent, and exposes them over HTTP under
// /v1/studio with a websocket event stream at /v1/studio/events.
//
// Usage:
//
//	studio serve
//	studio serve --config studio.yaml
//	studio render model.scad --format stl --out model.stl
//	studio locate
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
