// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL   = "https://api.anthropic.com/v1/messages"
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 8192
)

// Anthropic messages API wire types. Content is heterogeneous: text,
// tool_use, and tool_result blocks share one struct with optional
// fields.
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
}

// sseEvent mirrors the streaming event envelope. Only the fields the
// state machine needs are declared.
type sseEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// runAnthropic drives the tool-call loop against the Anthropic
// streaming API.
//
// Description:
//
//	Each turn opens one SSE stream. Text deltas are forwarded as they
//	arrive. Tool-use blocks accumulate their input JSON across
//	input_json_delta events and execute when the block closes; the
//	results become the next turn's user message. The loop ends on a
//	turn with no tool use, on cancellation, or at maxTurns.
func (a *Agent) runAnthropic(ctx context.Context, apiKey, model string, history []Message) error {
	messages := make([]anthropicMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicBlock{{Type: "text", Text: m.Content}},
		})
	}

	tools := make([]anthropicTool, 0)
	for _, d := range a.toolbox.Definitions() {
		tools = append(tools, anthropicTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema(),
		})
	}

	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}

		assistant, toolResults, err := a.streamAnthropicTurn(ctx, apiKey, model, messages, tools)
		if err != nil {
			return err
		}
		if len(toolResults) == 0 {
			return nil
		}

		messages = append(messages,
			anthropicMessage{Role: "assistant", Content: assistant},
			anthropicMessage{Role: "user", Content: toolResults},
		)
	}
	return fmt.Errorf("query exceeded %d tool-call turns", maxTurns)
}

// streamAnthropicTurn runs one SSE stream and returns the assistant's
// content blocks plus the tool results to feed back, empty when the
// model made no tool calls.
func (a *Agent) streamAnthropicTurn(
	ctx context.Context,
	apiKey, model string,
	messages []anthropicMessage,
	tools []anthropicTool,
) ([]anthropicBlock, []anthropicBlock, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: anthropicMaxTokens,
		System:    systemPrompt(),
		Messages:  messages,
		Tools:     tools,
		Stream:    true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, nil, fmt.Errorf("anthropic API returned %d: %s", resp.StatusCode, string(data))
	}

	var (
		assistant   []anthropicBlock
		toolResults []anthropicBlock
		textBuf     strings.Builder

		inToolUse bool
		toolID    string
		toolName  string
		argsBuf   strings.Builder
	)

	flushText := func() {
		if textBuf.Len() > 0 {
			assistant = append(assistant, anthropicBlock{Type: "text", Text: textBuf.String()})
			textBuf.Reset()
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			a.logger.Debug("skipping undecodable stream event", "error", err)
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				inToolUse = true
				toolID = ev.ContentBlock.ID
				toolName = ev.ContentBlock.Name
				argsBuf.Reset()
			}

		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				textBuf.WriteString(ev.Delta.Text)
				a.emitText(ev.Delta.Text)
			case "input_json_delta":
				argsBuf.WriteString(ev.Delta.PartialJSON)
			}

		case "content_block_stop":
			if !inToolUse {
				continue
			}
			flushText()

			rawArgs := argsBuf.String()
			if rawArgs == "" {
				rawArgs = "{}"
			}
			assistant = append(assistant, anthropicBlock{
				Type:  "tool_use",
				ID:    toolID,
				Name:  toolName,
				Input: json.RawMessage(rawArgs),
			})

			result := a.executeTool(ctx, toolName, rawArgs)
			toolResults = append(toolResults, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: toolID,
				Content:   result.content,
				IsError:   result.isError,
			})
			inToolUse = false

		case "message_stop":
			// Stream is over; fall through to scanner exhaustion.

		case "error":
			return nil, nil, fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, fmt.Errorf("read stream: %w", err)
	}

	flushText()
	return assistant, toolResults, nil
}

type toolOutcome struct {
	content string
	isError bool
}

// executeTool decodes arguments, runs the tool, and emits the stream
// events around it. Failures are returned to the model rather than
// aborting the query.
func (a *Agent) executeTool(ctx context.Context, name, rawArgs string) toolOutcome {
	a.emitToolCall(name, rawArgs)

	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		msg := fmt.Sprintf("invalid tool arguments: %v", err)
		a.emitToolResult(name, msg)
		return toolOutcome{content: msg, isError: true}
	}

	result, err := a.toolbox.Execute(ctx, name, args)
	if err != nil {
		msg := fmt.Sprintf("tool failed: %v", err)
		a.emitToolResult(name, msg)
		return toolOutcome{content: msg, isError: true}
	}
	a.emitToolResult(name, result)
	return toolOutcome{content: result}
}
