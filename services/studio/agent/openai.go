// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// runOpenAI drives the tool-call loop against the OpenAI chat API.
// Same shape as the Anthropic loop; tool-call arguments arrive as
// fragments keyed by index and are stitched together before execution.
func (a *Agent) runOpenAI(ctx context.Context, apiKey, model string, history []Message) error {
	client := openai.NewClient(apiKey)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt()},
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var tools []openai.Tool
	for _, d := range a.toolbox.Definitions() {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema(),
			},
		})
	}

	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}

		toolCalls, content, err := a.streamOpenAITurn(ctx, client, model, messages, tools)
		if err != nil {
			return err
		}
		if len(toolCalls) == 0 {
			return nil
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
		})
		for _, call := range toolCalls {
			outcome := a.executeTool(ctx, call.Function.Name, call.Function.Arguments)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    outcome.content,
			})
		}
	}
	return fmt.Errorf("query exceeded %d tool-call turns", maxTurns)
}

// streamOpenAITurn runs one streaming completion, forwarding text
// deltas and accumulating tool-call fragments.
func (a *Agent) streamOpenAITurn(
	ctx context.Context,
	client *openai.Client,
	model string,
	messages []openai.ChatCompletionMessage,
	tools []openai.Tool,
) ([]openai.ToolCall, string, error) {
	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, "", fmt.Errorf("openai request: %w", err)
	}
	defer stream.Close()

	var (
		content string
		calls   []openai.ToolCall
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			return nil, "", fmt.Errorf("read stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			content += delta.Content
			a.emitText(delta.Content)
		}

		for _, fragment := range delta.ToolCalls {
			idx := 0
			if fragment.Index != nil {
				idx = *fragment.Index
			}
			for idx >= len(calls) {
				calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
			}
			if fragment.ID != "" {
				calls[idx].ID = fragment.ID
			}
			if fragment.Function.Name != "" {
				calls[idx].Function.Name = fragment.Function.Name
			}
			calls[idx].Function.Arguments += fragment.Function.Arguments
		}
	}

	// Normalize empty argument payloads so execution always sees JSON.
	for i := range calls {
		if calls[i].Function.Arguments == "" {
			calls[i].Function.Arguments = "{}"
		} else if !json.Valid([]byte(calls[i].Function.Arguments)) {
			return nil, "", fmt.Errorf("model produced invalid tool arguments for %s", calls[i].Function.Name)
		}
	}
	return calls, content, nil
}
