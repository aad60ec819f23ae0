// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
)

// fakeTool writes a shell script standing in for the openscad binary.
// It copies its -o argument into existence (unless told to fail) and
// prints the given stderr.
func fakeTool(t *testing.T, stderr string, createOutput bool) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub requires a POSIX shell")
	}
	script := "#!/bin/sh\n"
	if createOutput {
		script += "out=\"$2\"\nprintf 'solid' > \"$out\"\n"
	}
	if stderr != "" {
		script += "cat >&2 <<'EOF'\n" + stderr + "\nEOF\n"
	}
	path := filepath.Join(t.TempDir(), "openscad")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestPreviewRendersAndCaches(t *testing.T) {
	cache := NewCache()
	r := NewRenderer(cache, t.TempDir(), nil)
	tool := fakeTool(t, "WARNING: variable x undefined, line 2", true)

	req := PreviewRequest{Source: "cube([10,10,10]);"}
	res, err := r.Preview(context.Background(), tool, req)
	require.NoError(t, err)
	assert.Equal(t, KindPNG, res.Kind)
	assert.FileExists(t, res.Path)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.SeverityWarning, res.Diagnostics[0].Severity)

	// Second call must be served from cache even with a broken tool.
	broken := fakeTool(t, "ERROR: should never run", false)
	cached, err := r.Preview(context.Background(), broken, req)
	require.NoError(t, err)
	assert.Equal(t, res.Path, cached.Path)
}

func TestPreviewMeshUsesSTL(t *testing.T) {
	r := NewRenderer(NewCache(), t.TempDir(), nil)
	tool := fakeTool(t, "", true)

	res, err := r.Preview(context.Background(), tool, PreviewRequest{
		Source:     "cube(1);",
		RenderMesh: true,
	})
	require.NoError(t, err)
	assert.Equal(t, KindMesh, res.Kind)
	assert.Equal(t, ".stl", filepath.Ext(res.Path))
}

func TestPreviewCompileErrorCarriesDiagnostics(t *testing.T) {
	r := NewRenderer(NewCache(), t.TempDir(), nil)
	tool := fakeTool(t, "ERROR: Parser error: syntax error in line 3", false)

	_, err := r.Preview(context.Background(), tool, PreviewRequest{Source: "cube(;"})
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Diagnostics, 1)
	require.NotNil(t, ce.Diagnostics[0].Line)
	assert.Equal(t, 3, *ce.Diagnostics[0].Line)
}

func TestPreviewMissingOutputWithoutErrorsIsUnknownFailure(t *testing.T) {
	r := NewRenderer(NewCache(), t.TempDir(), nil)
	tool := fakeTool(t, "Current top level object is not a 2D object.", false)

	_, err := r.Preview(context.Background(), tool, PreviewRequest{
		Source: "cube(1);",
		View:   View2D,
	})
	require.Error(t, err)
	var ce *CompileError
	assert.False(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "2D")
}

func TestExportValidatesExtension(t *testing.T) {
	r := NewRenderer(NewCache(), t.TempDir(), nil)

	_, err := r.Export(context.Background(), "openscad", ExportRequest{
		Source:  "cube(1);",
		Format:  FormatSTL,
		OutPath: filepath.Join(t.TempDir(), "out.obj"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".stl")

	_, err = r.Export(context.Background(), "openscad", ExportRequest{
		Source:  "cube(1);",
		Format:  ExportFormat("step"),
		OutPath: "out.step",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown export format")
}

func TestExportWritesArtifact(t *testing.T) {
	r := NewRenderer(NewCache(), t.TempDir(), nil)
	tool := fakeTool(t, "", true)
	out := filepath.Join(t.TempDir(), "part.stl")

	res, err := r.Export(context.Background(), tool, ExportRequest{
		Source:  "cube(1);",
		Format:  FormatSTL,
		OutPath: out,
	})
	require.NoError(t, err)
	assert.Equal(t, out, res.Path)
	assert.FileExists(t, out)
}

func TestCompileCheckReturnsDiagnostics(t *testing.T) {
	r := NewRenderer(NewCache(), t.TempDir(), nil)
	tool := fakeTool(t, "ERROR: broken in line 1\nWARNING: also this, line 2", true)

	diags, err := r.CompileCheck(context.Background(), tool, "bad(;")
	require.NoError(t, err)
	require.Len(t, diags, 2)
	assert.Equal(t, 1, diag.CountErrors(diags))
}

func TestCompileCheckMissingTool(t *testing.T) {
	r := NewRenderer(NewCache(), t.TempDir(), nil)
	_, err := r.CompileCheck(context.Background(), filepath.Join(t.TempDir(), "missing"), "cube(1);")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute")
}
