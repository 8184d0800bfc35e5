package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/scribehq/scribe/src/conversation"
	"github.com/scribehq/scribe/src/llm"
	"github.com/scribehq/scribe/src/wire"
)

// runTurn drives the tool loop for one turn: request a provider stream,
// forward text deltas in order, execute requested tools and feed their
// results back, until the provider stops asking for tools, the round budget
// runs out, or the turn is cancelled. It returns the accumulated assistant
// text and the summed usage across all rounds. Cancellation is not an error.
func (e *Engine) runTurn(ctx context.Context, c *conversation.Conversation, emit Emit) (string, llm.Usage, error) {
	history := providerHistory(c)
	var transcript strings.Builder
	var usage llm.Usage

	for round := 0; round < e.maxToolRounds; round++ {
		if ctx.Err() != nil {
			return transcript.String(), usage, nil
		}

		req := &llm.Request{Messages: history, SystemPrompt: e.systemPrompt}
		if e.toolbox != nil {
			req.Tools = e.toolbox.Defs()
		}

		stream, err := e.client.StreamChat(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return transcript.String(), usage, nil
			}
			return transcript.String(), usage, fmt.Errorf("provider request: %w", err)
		}

		roundText, toolCalls, roundUsage, err := e.consumeStream(ctx, c.ID, stream, emit, &transcript)
		usage = usage.Add(roundUsage)
		if err != nil {
			return transcript.String(), usage, err
		}
		if ctx.Err() != nil || len(toolCalls) == 0 || e.toolbox == nil {
			return transcript.String(), usage, nil
		}

		if roundText != "" {
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: roundText})
		}
		history = e.invokeTools(ctx, c.ID, toolCalls, emit, history)
		if ctx.Err() != nil {
			return transcript.String(), usage, nil
		}
	}

	return transcript.String(), usage, nil
}

// consumeStream forwards text deltas as they arrive and collects tool-call
// events. It always closes the stream.
func (e *Engine) consumeStream(ctx context.Context, conversationID string, stream llm.Stream, emit Emit, transcript *strings.Builder) (string, []llm.Event, llm.Usage, error) {
	defer stream.Close()

	var roundText strings.Builder
	var toolCalls []llm.Event

	for {
		if ctx.Err() != nil {
			// Stop consuming immediately; the provider's remaining output is
			// discarded.
			return roundText.String(), nil, stream.Usage(), nil
		}

		ev, err := stream.Read()
		if errors.Is(err, io.EOF) {
			return roundText.String(), toolCalls, stream.Usage(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return roundText.String(), nil, stream.Usage(), nil
			}
			return roundText.String(), nil, stream.Usage(), fmt.Errorf("provider stream: %w", err)
		}

		switch ev.Kind {
		case llm.EventText:
			roundText.WriteString(ev.Text)
			transcript.WriteString(ev.Text)
			e.send(emit, wire.TextDelta{Conversation: conversationID, Text: ev.Text})
		case llm.EventToolCall:
			toolCalls = append(toolCalls, *ev)
		}
	}
}

// invokeTools runs each requested tool in order. Every tool_start gets a
// matching tool_result unless the turn is cancelled while the tool runs, in
// which case the late result is not forwarded. Results are appended to the
// provider history for the next round.
func (e *Engine) invokeTools(ctx context.Context, conversationID string, toolCalls []llm.Event, emit Emit, history []llm.Message) []llm.Message {
	for _, call := range toolCalls {
		if ctx.Err() != nil {
			return history
		}

		e.send(emit, wire.ToolStart{
			Conversation: conversationID,
			ToolUseID:    call.ToolUseID,
			Name:         call.ToolName,
			Input:        decodeJSONValue(call.ToolInput),
		})

		result := e.toolbox.Invoke(ctx, call.ToolName, call.ToolInput)
		if ctx.Err() != nil {
			return history
		}

		e.send(emit, wire.ToolResult{
			Conversation: conversationID,
			ToolUseID:    call.ToolUseID,
			Output:       decodeJSONValue(result.Output),
			IsError:      result.IsError,
		})

		history = append(history, llm.Message{Role: llm.RoleTool, Content: string(result.Output)})
	}
	return history
}

func providerHistory(c *conversation.Conversation) []llm.Message {
	stored := c.Messages()
	history := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content, CreatedAt: m.Timestamp})
	}
	return history
}

// decodeJSONValue turns raw JSON into the value carried on the wire. Raw text
// that is not valid JSON is carried as a string rather than dropped.
func decodeJSONValue(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
