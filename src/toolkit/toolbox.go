// Package toolkit adapts named tools with JSON-schema inputs to the response
// engine. The engine only ever sees the Toolbox surface: a tool catalog and
// an invoke call that reports failure in-band instead of aborting the turn.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	jsonschema "github.com/swaggest/jsonschema-go"

	"github.com/scribehq/scribe/src/llm"
)

// Result is the outcome of one tool invocation. Output is always a valid
// JSON value.
type Result struct {
	IsError bool
	Output  json.RawMessage
}

// Tool is a single named tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() *jsonschema.Schema
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Toolbox holds the registered tool set.
type Toolbox struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewToolbox creates an empty toolbox.
func NewToolbox(logger *slog.Logger) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Names must be unique and non-empty.
func (tb *Toolbox) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := tb.tools[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}
	tb.tools[name] = tool
	tb.order = append(tb.order, name)
	return nil
}

// Defs returns the tool catalog in registration order.
func (tb *Toolbox) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(tb.order))
	for _, name := range tb.order {
		tool := tb.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Parameters(),
		})
	}
	return defs
}

// Has reports whether a tool with the given name is registered.
func (tb *Toolbox) Has(name string) bool {
	_, ok := tb.tools[name]
	return ok
}

// Invoke runs the named tool. Failures of any kind, including an unknown tool
// name, come back as an error result rather than a Go error so that a bad
// tool call never aborts the calling turn.
func (tb *Toolbox) Invoke(ctx context.Context, name string, input json.RawMessage) *Result {
	tool, ok := tb.tools[name]
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool %q", name))
	}

	result, err := tool.Execute(ctx, input)
	if err != nil {
		tb.logger.Warn("tool execution failed", "tool", name, "error", err)
		return errorResult(fmt.Sprintf("tool %s failed: %v", name, err))
	}
	if result == nil {
		return errorResult(fmt.Sprintf("tool %s returned no result", name))
	}
	return result
}

func errorResult(message string) *Result {
	output, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		output = json.RawMessage(`{"error":"internal tool error"}`)
	}
	return &Result{IsError: true, Output: output}
}
