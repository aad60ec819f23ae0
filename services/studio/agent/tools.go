// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent runs the streaming AI loop: it sends the conversation
// to a provider, executes the tool calls the model makes against the
// editor, and feeds results back until the model stops asking.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
	"github.com/zacharyfmarion/openscad-studio/services/studio/editor"
	"github.com/zacharyfmarion/openscad-studio/services/studio/events"
)

// ParamDef describes one tool parameter.
type ParamDef struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ToolDefinition describes a tool in provider-neutral form; each
// provider client converts it to its own schema shape.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]ParamDef
	Required    []string
}

// InputSchema renders the definition as a JSON-schema object.
func (d ToolDefinition) InputSchema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	for name, p := range d.Parameters {
		props[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
	}
	required := d.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Toolbox executes the model-facing tools against the live editor.
type Toolbox struct {
	editor  *editor.Editor
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewToolbox wires a Toolbox. A nil logger falls back to slog.Default.
func NewToolbox(ed *editor.Editor, emitter *events.Emitter, logger *slog.Logger) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{editor: ed, emitter: emitter, logger: logger}
}

// Definitions lists every tool exposed to the model.
func (t *Toolbox) Definitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "get_current_code",
			Description: "Get the current OpenSCAD code from the editor buffer",
		},
		{
			Name:        "get_preview_screenshot",
			Description: "Get the file path to the current 3D/2D preview render. Use this to see what the design looks like.",
		},
		{
			Name: "apply_edit",
			Description: "Apply code changes by replacing an exact substring with new content. " +
				"The old text must exist exactly once in the code. Max 120 lines changed. " +
				"The code will be test-compiled with OpenSCAD and rolled back if validation fails or new errors are introduced.",
			Parameters: map[string]ParamDef{
				"old_string": {Type: "string", Description: "The exact text to find and replace. Must be unique in the file."},
				"new_string": {Type: "string", Description: "The replacement text"},
				"rationale":  {Type: "string", Description: "Brief explanation of what this change accomplishes"},
			},
			Required: []string{"old_string", "new_string", "rationale"},
		},
		{
			Name:        "get_diagnostics",
			Description: "Get current compilation errors and warnings from OpenSCAD",
		},
		{
			Name:        "trigger_render",
			Description: "Manually trigger a render to update the preview pane with the latest code changes",
		},
	}
}

// Execute runs one tool call and returns the text fed back to the
// model. Unknown tools and missing arguments return an error; tool
// outcomes such as a rejected edit are reported in the result text.
func (t *Toolbox) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t.logger.Debug("executing tool", "tool", name)

	switch name {
	case "get_current_code":
		code := t.editor.Document().Text()
		if code == "" {
			return "// Empty file", nil
		}
		return code, nil

	case "get_preview_screenshot":
		path := t.editor.Document().LastPreviewPath()
		if path == "" {
			return "No preview has been rendered yet. Use trigger_render first.", nil
		}
		return fmt.Sprintf("Preview image saved at: %s\n\nThis shows the current rendered output of the OpenSCAD code.", path), nil

	case "apply_edit":
		oldString, err := stringArg(args, "old_string")
		if err != nil {
			return "", err
		}
		newString, err := stringArg(args, "new_string")
		if err != nil {
			return "", err
		}
		rationale, err := stringArg(args, "rationale")
		if err != nil {
			return "", err
		}
		return t.applyEdit(ctx, oldString, newString, rationale), nil

	case "get_diagnostics":
		diags := t.editor.Document().Diagnostics()
		if len(diags) == 0 {
			return "No errors or warnings. The code compiles successfully.", nil
		}
		return "Current diagnostics:\n\n" + formatDiagnostics(diags), nil

	case "trigger_render":
		t.emitter.Emit(events.TypeRenderRequested, nil)
		return "Render triggered. Check the preview pane for the updated output.", nil
	}

	return "", fmt.Errorf("unknown tool: %s", name)
}

// applyEdit runs the fast validation first so malformed edits come back
// without a compile, then the transactional apply.
func (t *Toolbox) applyEdit(ctx context.Context, oldString, newString, rationale string) string {
	if v := t.editor.Validate(oldString, newString); !v.OK {
		return fmt.Sprintf(
			"Failed to apply edit: %s\n\nRationale: %s\n\nNo changes were made. Please fix the problem and try again.",
			v.Error, rationale)
	}

	result := t.editor.Apply(ctx, oldString, newString)
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "Unknown error"
		}
		var diagText string
		if len(result.Diagnostics) > 0 {
			diagText = "\n\nCompilation errors after applying edit:\n" + formatDiagnostics(result.Diagnostics)
		}
		return fmt.Sprintf(
			"Failed to apply edit: %s%s\n\nRationale: %s\n\nThe edit was rolled back. No changes were made. Please fix the errors and try again.",
			msg, diagText, rationale)
	}

	return fmt.Sprintf(
		"Edit applied successfully. The code compiles without new errors and the preview has been updated.\n\nRationale: %s\n\n[CHECKPOINT:%s]",
		rationale, result.CheckpointID)
}

func formatDiagnostics(diags []diag.Diagnostic) string {
	lines := make([]string, 0, len(diags))
	for _, d := range diags {
		var location string
		if d.Line != nil {
			if d.Col != nil {
				location = fmt.Sprintf(" (line %d, col %d)", *d.Line, *d.Col)
			} else {
				location = fmt.Sprintf(" (line %d)", *d.Line)
			}
		}
		lines = append(lines, fmt.Sprintf("[%s]%s: %s", d.Severity, location, d.Message))
	}
	return strings.Join(lines, "\n")
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}
