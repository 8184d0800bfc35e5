package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	jsonschema "github.com/swaggest/jsonschema-go"
)

// FuncTool is a type-safe tool whose input schema is reflected from its
// input struct.
type FuncTool[TIn any, TOut any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     func(ctx context.Context, input TIn) (TOut, error)
}

// NewFunc creates a tool from a typed handler. The input type must be a
// struct; its JSON schema is generated from field tags.
func NewFunc[TIn any, TOut any](name, description string, handler func(ctx context.Context, input TIn) (TOut, error)) (Tool, error) {
	var input TIn
	inputType := reflect.TypeOf(input)
	if inputType.Kind() == reflect.Ptr {
		inputType = inputType.Elem()
	}
	if inputType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("tool input type must be a struct, got %s", inputType.Kind())
	}

	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", name, err)
	}

	return &FuncTool[TIn, TOut]{
		name:        name,
		description: description,
		schema:      &schema,
		handler:     handler,
	}, nil
}

// MustNewFunc creates a tool from a typed handler and panics on error.
func MustNewFunc[TIn any, TOut any](name, description string, handler func(ctx context.Context, input TIn) (TOut, error)) Tool {
	tool, err := NewFunc(name, description, handler)
	if err != nil {
		panic(fmt.Sprintf("failed to create tool %s: %v", name, err))
	}
	return tool
}

func (t *FuncTool[TIn, TOut]) Name() string                   { return t.name }
func (t *FuncTool[TIn, TOut]) Description() string            { return t.description }
func (t *FuncTool[TIn, TOut]) Parameters() *jsonschema.Schema { return t.schema }

// Execute parses the input, runs the handler, and marshals the output.
// Handler failures become error results, not Go errors.
func (t *FuncTool[TIn, TOut]) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in TIn
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return errorResult(fmt.Sprintf("failed to parse input: %v", err)), nil
		}
	}

	out, err := t.handler(ctx, in)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	output, err := json.Marshal(out)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return &Result{Output: output}, nil
}
