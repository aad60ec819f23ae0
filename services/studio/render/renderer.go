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
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
)

// Backend selects the OpenSCAD geometry engine.
type Backend string

const (
	BackendAuto     Backend = "auto"
	BackendManifold Backend = "manifold"
	BackendCGAL     Backend = "cgal"
)

// View selects 2D or 3D rendering.
type View string

const (
	View3D View = "3d"
	View2D View = "2d"
)

// Size is an image size in pixels.
type Size struct {
	W uint `json:"w"`
	H uint `json:"h"`
}

// PreviewRequest asks for a quick preview artifact.
//
// WorkingDir, when set, is where OpenSCAD runs and where the temp .scad
// file is written, so relative imports in the source resolve.
type PreviewRequest struct {
	Source     string  `json:"source"`
	Backend    Backend `json:"backend,omitempty"`
	View       View    `json:"view,omitempty"`
	Size       *Size   `json:"size,omitempty"`
	RenderMesh bool    `json:"render_mesh,omitempty"`
	WorkingDir string  `json:"working_dir,omitempty"`
}

// PreviewResult describes the produced artifact.
type PreviewResult struct {
	Kind        Kind              `json:"kind"`
	Path        string            `json:"path"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

// ExportFormat is a full-quality export target.
type ExportFormat string

const (
	FormatSTL ExportFormat = "stl"
	FormatOBJ ExportFormat = "obj"
	FormatAMF ExportFormat = "amf"
	Format3MF ExportFormat = "3mf"
	FormatPNG ExportFormat = "png"
	FormatSVG ExportFormat = "svg"
	FormatDXF ExportFormat = "dxf"
)

var threeDFormats = map[ExportFormat]bool{
	FormatSTL: true, FormatOBJ: true, FormatAMF: true, Format3MF: true,
}

var twoDFormats = map[ExportFormat]bool{
	FormatSVG: true, FormatDXF: true,
}

// Valid reports whether f is a known export format.
func (f ExportFormat) Valid() bool {
	return threeDFormats[f] || twoDFormats[f] || f == FormatPNG
}

// ExportRequest asks for a full-quality export to OutPath.
type ExportRequest struct {
	Source     string       `json:"source"`
	Format     ExportFormat `json:"format"`
	OutPath    string       `json:"out_path"`
	Backend    Backend      `json:"backend,omitempty"`
	WorkingDir string       `json:"working_dir,omitempty"`
}

// ExportResult reports where the export landed.
type ExportResult struct {
	Path        string            `json:"path"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

// BackendInfo is the result of probing an OpenSCAD executable.
type BackendInfo struct {
	Version     string `json:"version"`
	HasManifold bool   `json:"has_manifold"`
}

// CompileError carries the diagnostics of a render that produced no
// artifact because the source has errors.
type CompileError struct {
	Diagnostics []diag.Diagnostic
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("render failed due to errors:\n")
	for _, d := range e.Diagnostics {
		if d.Severity != diag.SeverityError {
			continue
		}
		if d.Line != nil {
			fmt.Fprintf(&b, "line %d: %s\n", *d.Line, d.Message)
		} else {
			b.WriteString(d.Message)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Renderer shells out to OpenSCAD and caches preview results.
type Renderer struct {
	cache    *Cache
	cacheDir string
	logger   *slog.Logger
}

// NewRenderer builds a Renderer writing temp and artifact files under
// cacheDir. A nil logger falls back to slog.Default.
func NewRenderer(cache *Cache, cacheDir string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{cache: cache, cacheDir: cacheDir, logger: logger}
}

// Cache exposes the underlying result cache.
func (r *Renderer) Cache() *Cache { return r.cache }

// Preview renders a quick preview, consulting the cache first.
//
// Description:
//
//	Mesh previews export STL; otherwise 3d renders a PNG with --preview
//	and 2d renders an SVG. A successful render populates the cache. A
//	missing artifact with error diagnostics returns *CompileError; a
//	missing artifact without any is an unknown failure carrying the raw
//	stderr.
func (r *Renderer) Preview(ctx context.Context, toolPath string, req PreviewRequest) (*PreviewResult, error) {
	view := req.View
	if view == "" {
		view = View3D
	}
	backend := req.Backend
	if backend == "" {
		backend = BackendAuto
	}

	key := Key(req.Source, string(backend), string(view), req.RenderMesh)
	if entry, ok := r.cache.Get(key); ok {
		r.logger.Debug("render cache hit", "key", key[:16])
		return &PreviewResult{
			Kind:        entry.Kind,
			Path:        entry.OutputPath,
			Diagnostics: entry.Diagnostics,
		}, nil
	}
	r.logger.Debug("render cache miss", "key", key[:16])

	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	scadPath := filepath.Join(r.cacheDir, "preview.scad")
	if req.WorkingDir != "" {
		scadPath = filepath.Join(req.WorkingDir, ".openscad_temp_preview.scad")
	}
	if err := os.WriteFile(scadPath, []byte(req.Source), 0o644); err != nil {
		return nil, fmt.Errorf("write temp scad file: %w", err)
	}

	var kind Kind
	switch {
	case req.RenderMesh && view == View3D:
		kind = KindMesh
	case view == View2D:
		kind = KindSVG
	default:
		kind = KindPNG
	}
	ext := string(kind)
	if kind == KindMesh {
		ext = "stl"
	}
	outPath := filepath.Join(r.cacheDir, fmt.Sprintf("render_%s.%s", key[:16], ext))

	args := []string{"-o", outPath, scadPath}
	args = appendBackendFlag(args, backend)
	if kind == KindPNG {
		if req.Size != nil {
			args = append(args, fmt.Sprintf("--imgsize=%d,%d", req.Size.W, req.Size.H))
		} else {
			args = append(args, "--imgsize=800,600")
		}
		args = append(args, "--preview")
	}

	stderr, err := r.run(ctx, toolPath, args, req.WorkingDir)
	if err != nil {
		return nil, err
	}
	diags := diag.ParseStderr(stderr)
	rendersTotal.WithLabelValues(string(kind)).Inc()

	if !artifactExists(outPath) {
		renderFailures.Inc()
		if diag.HasErrors(diags) {
			return nil, &CompileError{Diagnostics: diags}
		}
		return nil, unknownFailure(view, stderr)
	}

	r.cache.Set(key, outPath, kind, diags)
	return &PreviewResult{Kind: kind, Path: outPath, Diagnostics: diags}, nil
}

// Export runs a full-quality render to req.OutPath.
func (r *Renderer) Export(ctx context.Context, toolPath string, req ExportRequest) (*ExportResult, error) {
	if !req.Format.Valid() {
		return nil, fmt.Errorf("unknown export format %q", req.Format)
	}
	if !strings.HasSuffix(req.OutPath, "."+string(req.Format)) {
		return nil, fmt.Errorf("output path must end with .%s for this format", req.Format)
	}
	if parent := filepath.Dir(req.OutPath); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	scadPath := filepath.Join(r.cacheDir, "export.scad")
	if req.WorkingDir != "" {
		scadPath = filepath.Join(req.WorkingDir, ".openscad_temp_export.scad")
	} else if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(scadPath, []byte(req.Source), 0o644); err != nil {
		return nil, fmt.Errorf("write temp scad file: %w", err)
	}

	args := []string{"-o", req.OutPath, scadPath}
	args = appendBackendFlag(args, req.Backend)
	if req.Format == FormatPNG {
		args = append(args, "--imgsize=1920,1440", "--preview")
	}

	stderr, err := r.run(ctx, toolPath, args, req.WorkingDir)
	if err != nil {
		return nil, err
	}
	diags := diag.ParseStderr(stderr)
	rendersTotal.WithLabelValues("export").Inc()

	if !artifactExists(req.OutPath) {
		renderFailures.Inc()
		if diag.HasErrors(diags) {
			return nil, &CompileError{Diagnostics: diags}
		}
		return nil, exportFailure(req.Format, stderr)
	}

	return &ExportResult{Path: req.OutPath, Diagnostics: diags}, nil
}

// CompileCheck compiles source without keeping any artifact and returns
// its diagnostics. This is the edit pipeline's verifier.
func (r *Renderer) CompileCheck(ctx context.Context, toolPath, source string) ([]diag.Diagnostic, error) {
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	scadPath := filepath.Join(r.cacheDir, "check.scad")
	outPath := filepath.Join(r.cacheDir, "check.stl")
	if err := os.WriteFile(scadPath, []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("write temp scad file: %w", err)
	}
	defer os.Remove(scadPath)
	defer os.Remove(outPath)

	stderr, err := r.run(ctx, toolPath, []string{"-o", outPath, scadPath}, "")
	if err != nil {
		return nil, err
	}
	return diag.ParseStderr(stderr), nil
}

// DetectBackend probes the executable for its version and Manifold
// support. Support is inferred from --backend=manifold being accepted.
func (r *Renderer) DetectBackend(ctx context.Context, toolPath string) (BackendInfo, error) {
	out, err := exec.CommandContext(ctx, toolPath, "--version").CombinedOutput()
	if err != nil {
		return BackendInfo{}, fmt.Errorf("execute %s --version: %w", toolPath, err)
	}
	version := "unknown"
	if lines := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2); lines[0] != "" {
		version = lines[0]
	}

	probe := exec.CommandContext(ctx, toolPath, "--backend=manifold", "--help")
	hasManifold := probe.Run() == nil

	return BackendInfo{Version: version, HasManifold: hasManifold}, nil
}

// run executes the tool and returns its stderr. The tool failing with a
// nonzero exit is not an error here; diagnostics parsing decides what
// it meant.
func (r *Renderer) run(ctx context.Context, toolPath string, args []string, workingDir string) (string, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, toolPath, args...)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	err := cmd.Run()
	renderDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("execute %s: %w (is OpenSCAD installed?)", toolPath, err)
		}
	}
	r.logger.Debug("openscad run finished",
		"args", strings.Join(args, " "),
		"duration", time.Since(start))
	return stderr.String(), nil
}

func artifactExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func appendBackendFlag(args []string, backend Backend) []string {
	switch backend {
	case BackendManifold:
		return append(args, "--backend=manifold")
	case BackendCGAL:
		return append(args, "--backend=cgal")
	}
	return args
}

// unknownFailure explains a missing artifact with no parsed errors,
// usually a 2D/3D geometry mismatch.
func unknownFailure(view View, stderr string) error {
	switch {
	case view == View2D && (strings.Contains(stderr, "3D object") || strings.Contains(stderr, "not a 2D object")):
		return fmt.Errorf("cannot render 3D objects in 2D mode; switch to 3D mode or use a 2D shape")
	case view == View3D && (strings.Contains(stderr, "not a 3D object") || strings.Contains(stderr, "2D object")):
		return fmt.Errorf("cannot render 2D objects in 3D mode; switch to 2D mode or use a 3D shape")
	case strings.Contains(stderr, "WARNING: Can't convert"):
		return fmt.Errorf("OpenSCAD cannot convert this geometry; try switching between 2D and 3D modes")
	}
	return fmt.Errorf("OpenSCAD produced no output file; the geometry may not match the current mode. Output:\n%s", truncate(stderr, 1000))
}

func exportFailure(format ExportFormat, stderr string) error {
	switch {
	case twoDFormats[format] && (strings.Contains(stderr, "3D object") || strings.Contains(stderr, "not a 2D object")):
		return fmt.Errorf("cannot export 3D objects as %s; use a 2D shape or a 3D export format", strings.ToUpper(string(format)))
	case threeDFormats[format] && (strings.Contains(stderr, "not a 3D object") || strings.Contains(stderr, "2D object")):
		return fmt.Errorf("cannot export 2D objects as %s; use a 3D shape or a 2D export format", strings.ToUpper(string(format)))
	}
	return fmt.Errorf("OpenSCAD produced no output file. Output:\n%s", truncate(stderr, 1000))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...\n(output truncated)"
}
