// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zacharyfmarion/openscad-studio/services/studio/events"
	"github.com/zacharyfmarion/openscad-studio/services/studio/keys"
)

// Provider selects the model API.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Default models per provider, used when a query names none.
const (
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o"
)

// maxTurns bounds tool-call round trips in one query so a confused
// model cannot loop forever.
const maxTurns = 25

// Message is one conversation turn as the HTTP API sees it.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrBusy means a query is already streaming.
var ErrBusy = errors.New("an AI query is already running")

// Agent owns the streaming loop and its cancellation.
//
// # Thread Safety
//
// One query runs at a time; Start returns ErrBusy while one is live.
// Cancel is safe from any goroutine and stops the stream at the next
// chunk or turn boundary. Edits already committed stay committed.
type Agent struct {
	keys    keys.Store
	toolbox *Toolbox
	emitter *events.Emitter
	limiter *rate.Limiter
	client  *http.Client
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewAgent wires an Agent. A nil logger falls back to slog.Default.
func NewAgent(ks keys.Store, toolbox *Toolbox, emitter *events.Emitter, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		keys:    ks,
		toolbox: toolbox,
		emitter: emitter,
		// Two requests burst, then one every 500ms, to stay under
		// provider rate limits during long tool-call chains.
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}
}

// Running reports whether a query is in flight.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start launches a query on its own goroutine. Output arrives as
// ai-stream events; the goroutine always finishes with a done or error
// event.
func (a *Agent) Start(messages []Message, provider Provider, model string) error {
	if len(messages) == 0 {
		return errors.New("no messages to send")
	}
	if provider == "" {
		provider = ProviderAnthropic
	}
	if provider != ProviderAnthropic && provider != ProviderOpenAI {
		return fmt.Errorf("unknown provider %q", provider)
	}
	apiKey, err := a.keys.Get(string(provider))
	if err != nil {
		return fmt.Errorf("no API key for %s: %w", provider, err)
	}
	if model == "" {
		if provider == ProviderAnthropic {
			model = DefaultAnthropicModel
		} else {
			model = DefaultOpenAIModel
		}
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			a.mu.Lock()
			a.running = false
			a.cancel = nil
			a.mu.Unlock()
		}()

		a.logger.Info("AI query started", "provider", provider, "model", model)
		var err error
		switch provider {
		case ProviderAnthropic:
			err = a.runAnthropic(ctx, apiKey, model, messages)
		case ProviderOpenAI:
			err = a.runOpenAI(ctx, apiKey, model, messages)
		}

		switch {
		case errors.Is(err, context.Canceled):
			a.logger.Info("AI query cancelled")
			a.emitter.Emit(events.TypeAIStream, events.AIStream{
				Kind: events.StreamDone, Content: "cancelled",
			})
		case err != nil:
			a.logger.Error("AI query failed", "error", err)
			a.emitter.Emit(events.TypeAIStream, events.AIStream{
				Kind: events.StreamError, Content: err.Error(),
			})
		default:
			a.logger.Info("AI query finished")
			a.emitter.Emit(events.TypeAIStream, events.AIStream{Kind: events.StreamDone})
		}
	}()
	return nil
}

// Cancel stops the in-flight query, if any.
func (a *Agent) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// emitText forwards a streamed text delta.
func (a *Agent) emitText(text string) {
	if text == "" {
		return
	}
	a.emitter.Emit(events.TypeAIStream, events.AIStream{
		Kind: events.StreamText, Content: text,
	})
}

// emitToolCall announces a tool invocation before it executes.
func (a *Agent) emitToolCall(name, args string) {
	a.emitter.Emit(events.TypeAIStream, events.AIStream{
		Kind: events.StreamToolCall, ToolName: name, ToolArgs: args,
	})
}

// emitToolResult forwards a tool's output.
func (a *Agent) emitToolResult(name, result string) {
	a.emitter.Emit(events.TypeAIStream, events.AIStream{
		Kind: events.StreamToolResult, ToolName: name, Content: result,
	})
}

// systemPrompt is sent on every query.
func systemPrompt() string {
	return `## OpenSCAD AI Assistant

You are an expert OpenSCAD assistant helping users design and modify 3D models. You have access to tools that let you see the current code, view the rendered preview, and make targeted code changes.

### Your Capabilities:
- **View code**: Use get_current_code to see what you're working with
- **See the design**: Use get_preview_screenshot to see the rendered output
- **Check for errors**: Use get_diagnostics to check compilation errors and warnings
- **Make changes**: Use apply_edit to modify the code with exact string replacement
- **Update preview**: Use trigger_render to manually refresh the preview

### Critical Rules for Editing:
1. ALWAYS use exact string replacement. Never output full file replacements; use apply_edit with exact substrings.
2. The old_string must match exactly (including whitespace and indentation) and must be unique in the file.
3. Keep changes small: maximum 120 lines changed per edit. Break large changes into multiple steps.
4. apply_edit validates the edit and test-compiles the code before applying. If validation fails, the error is returned and no changes are made.
5. Make old_string large enough to be unique; include surrounding lines if needed.

### Recommended Workflow:
1. Start by calling get_current_code to understand what exists
2. Optionally use get_preview_screenshot to see the rendered output
3. For fixes, use get_diagnostics to see what errors exist
4. Use apply_edit with the exact old text, new replacement, and a rationale explaining the change
5. The preview updates automatically after successful edits

### OpenSCAD Quick Reference:

3D primitives: cube([x, y, z]); sphere(r); cylinder(h, r1, r2);
2D primitives: circle(r); square([x, y]); polygon(points);
Transformations: translate([x, y, z]) rotate([rx, ry, rz]) scale([sx, sy, sz]) mirror([x, y, z])
Boolean operations: union() difference() intersection()
2D to 3D: linear_extrude(height) rotate_extrude(angle)
Modifiers: # debug, % background, * disable, ! show only
Control: for (i = [start:end]) { ... }, if (condition) { ... }, x = 10;, function name(params) = expression;`
}
