package wire

import (
	"encoding/json"
	"fmt"
)

// ParseClient decodes one client frame. It returns ErrMalformedJSON when text
// is not valid JSON and a *SchemaError when the value does not match exactly
// one ClientMessage variant. Unknown extra fields are dropped.
func ParseClient(text string) (ClientMessage, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return nil, err
	}
	tag, err := requireString(obj, "type")
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeChat:
		id, err := requireString(obj, "conversationId")
		if err != nil {
			return nil, err
		}
		msg, err := requireString(obj, "message")
		if err != nil {
			return nil, err
		}
		return Chat{ConversationID: id, Message: msg}, nil
	case TypeCancel:
		id, err := requireString(obj, "conversationId")
		if err != nil {
			return nil, err
		}
		return Cancel{ConversationID: id}, nil
	case TypeNewConversation:
		return NewConversation{}, nil
	default:
		return nil, schemaErrorf("unknown client message type %q", tag)
	}
}

// ParseServer decodes one server frame under the same rules as ParseClient.
func ParseServer(text string) (ServerMessage, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return nil, err
	}
	tag, err := requireString(obj, "type")
	if err != nil {
		return nil, err
	}
	id, err := requireString(obj, "conversationId")
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeTextDelta:
		delta, err := requireString(obj, "text")
		if err != nil {
			return nil, err
		}
		return TextDelta{Conversation: id, Text: delta}, nil
	case TypeToolStart:
		toolUseID, err := requireString(obj, "toolUseId")
		if err != nil {
			return nil, err
		}
		name, err := requireString(obj, "name")
		if err != nil {
			return nil, err
		}
		input, err := requireAny(obj, "input")
		if err != nil {
			return nil, err
		}
		return ToolStart{Conversation: id, ToolUseID: toolUseID, Name: name, Input: input}, nil
	case TypeToolResult:
		toolUseID, err := requireString(obj, "toolUseId")
		if err != nil {
			return nil, err
		}
		output, err := requireAny(obj, "output")
		if err != nil {
			return nil, err
		}
		isError, err := requireBool(obj, "isError")
		if err != nil {
			return nil, err
		}
		return ToolResult{Conversation: id, ToolUseID: toolUseID, Output: output, IsError: isError}, nil
	case TypeComplete:
		usage, err := requireUsage(obj, "usage")
		if err != nil {
			return nil, err
		}
		return Complete{Conversation: id, Usage: usage}, nil
	case TypeError:
		msg, err := requireString(obj, "message")
		if err != nil {
			return nil, err
		}
		code, err := optionalString(obj, "code")
		if err != nil {
			return nil, err
		}
		return Error{Conversation: id, Message: msg, Code: code}, nil
	case TypeConnected:
		return Connected{Conversation: id}, nil
	default:
		return nil, schemaErrorf("unknown server message type %q", tag)
	}
}

// EncodeClient serializes a client message to one JSON frame.
func EncodeClient(m ClientMessage) (string, error) {
	switch v := m.(type) {
	case Chat:
		return marshalFrame(struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversationId"`
			Message        string `json:"message"`
		}{TypeChat, v.ConversationID, v.Message})
	case Cancel:
		return marshalFrame(struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversationId"`
		}{TypeCancel, v.ConversationID})
	case NewConversation:
		return marshalFrame(struct {
			Type string `json:"type"`
		}{TypeNewConversation})
	default:
		return "", fmt.Errorf("unsupported client message %T", m)
	}
}

// EncodeServer serializes a server message to one JSON frame. Optional fields
// that are unset are omitted, never serialized as null; required payload
// fields (tool input and output) are serialized even when null.
func EncodeServer(m ServerMessage) (string, error) {
	switch v := m.(type) {
	case TextDelta:
		return marshalFrame(struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversationId"`
			Text           string `json:"text"`
		}{TypeTextDelta, v.Conversation, v.Text})
	case ToolStart:
		return marshalFrame(struct {
			Type           string      `json:"type"`
			ConversationID string      `json:"conversationId"`
			ToolUseID      string      `json:"toolUseId"`
			Name           string      `json:"name"`
			Input          interface{} `json:"input"`
		}{TypeToolStart, v.Conversation, v.ToolUseID, v.Name, v.Input})
	case ToolResult:
		return marshalFrame(struct {
			Type           string      `json:"type"`
			ConversationID string      `json:"conversationId"`
			ToolUseID      string      `json:"toolUseId"`
			Output         interface{} `json:"output"`
			IsError        bool        `json:"isError"`
		}{TypeToolResult, v.Conversation, v.ToolUseID, v.Output, v.IsError})
	case Complete:
		return marshalFrame(struct {
			Type           string    `json:"type"`
			ConversationID string    `json:"conversationId"`
			Usage          usageWire `json:"usage"`
		}{TypeComplete, v.Conversation, usageWire{v.Usage.InputTokens, v.Usage.OutputTokens}})
	case Error:
		return marshalFrame(struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversationId"`
			Message        string `json:"message"`
			Code           string `json:"code,omitempty"`
		}{TypeError, v.Conversation, v.Message, v.Code})
	case Connected:
		return marshalFrame(struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversationId"`
		}{TypeConnected, v.Conversation})
	default:
		return "", fmt.Errorf("unsupported server message %T", m)
	}
}

type usageWire struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

func marshalFrame(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return string(data), nil
}

func decodeObject(text string) (map[string]json.RawMessage, error) {
	data := []byte(text)
	if !json.Valid(data) {
		return nil, ErrMalformedJSON
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, schemaErrorf("frame is not a JSON object")
	}
	if obj == nil {
		return nil, schemaErrorf("frame is not a JSON object")
	}
	return obj, nil
}

func requireString(obj map[string]json.RawMessage, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", schemaErrorf("missing field %q", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", schemaErrorf("field %q must be a string", key)
	}
	return s, nil
}

func optionalString(obj map[string]json.RawMessage, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", schemaErrorf("field %q must be a string", key)
	}
	return s, nil
}

func requireBool(obj map[string]json.RawMessage, key string) (bool, error) {
	raw, ok := obj[key]
	if !ok {
		return false, schemaErrorf("missing field %q", key)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, schemaErrorf("field %q must be a boolean", key)
	}
	return b, nil
}

// requireAny decodes a field that may hold any JSON value, including null.
// The key itself must be present.
func requireAny(obj map[string]json.RawMessage, key string) (interface{}, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, schemaErrorf("missing field %q", key)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, schemaErrorf("field %q is not a JSON value", key)
	}
	return v, nil
}

func requireUsage(obj map[string]json.RawMessage, key string) (Usage, error) {
	raw, ok := obj[key]
	if !ok {
		return Usage{}, schemaErrorf("missing field %q", key)
	}
	var fields map[string]json.Number
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Usage{}, schemaErrorf("field %q must be an object of numbers", key)
	}
	input, err := usageCount(fields, "inputTokens")
	if err != nil {
		return Usage{}, err
	}
	output, err := usageCount(fields, "outputTokens")
	if err != nil {
		return Usage{}, err
	}
	return Usage{InputTokens: input, OutputTokens: output}, nil
}

func usageCount(fields map[string]json.Number, key string) (int, error) {
	num, ok := fields[key]
	if !ok {
		return 0, schemaErrorf("usage is missing %q", key)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, schemaErrorf("usage field %q must be an integer", key)
	}
	if n < 0 {
		return 0, schemaErrorf("usage field %q must not be negative", key)
	}
	return int(n), nil
}
