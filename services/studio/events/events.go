// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events carries the studio's notification bus. The editor,
// history, renderer, and AI agent publish here; the websocket endpoint
// and tests subscribe.
package events

import (
	"github.com/zacharyfmarion/openscad-studio/services/studio/history"
)

// Type names an event stream.
type Type string

const (
	// TypeDocumentChanged fires after a committed edit replaces the
	// document text.
	TypeDocumentChanged Type = "document-changed"
	// TypeRenderRequested fires after TypeDocumentChanged, asking the
	// frontend to refresh its preview.
	TypeRenderRequested Type = "render-requested"
	// TypeHistoryRestored fires after undo, redo, or restore-to, with
	// the full checkpoint that became current.
	TypeHistoryRestored Type = "history-restored"
	// TypeAIStream carries incremental agent output.
	TypeAIStream Type = "ai-stream"
)

// Event is the envelope delivered to handlers and websocket clients.
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// DocumentChanged is the payload for TypeDocumentChanged.
type DocumentChanged struct {
	Code string `json:"code"`
}

// HistoryRestored is the payload for TypeHistoryRestored.
type HistoryRestored struct {
	Checkpoint history.Checkpoint `json:"checkpoint"`
}

// AIStreamKind discriminates the ai-stream payload.
type AIStreamKind string

const (
	StreamText       AIStreamKind = "text"
	StreamToolCall   AIStreamKind = "tool-call"
	StreamToolResult AIStreamKind = "tool-result"
	StreamError      AIStreamKind = "error"
	StreamDone       AIStreamKind = "done"
)

// AIStream is the payload for TypeAIStream. Content holds text deltas,
// tool results, or the error message depending on Kind.
type AIStream struct {
	Kind     AIStreamKind `json:"kind"`
	Content  string       `json:"content,omitempty"`
	ToolName string       `json:"tool_name,omitempty"`
	ToolArgs string       `json:"tool_args,omitempty"`
}
