package wire

import (
	"errors"
	"fmt"
)

// ErrMalformedJSON indicates a frame that is not syntactically valid JSON.
var ErrMalformedJSON = errors.New("malformed json")

// SchemaError indicates a frame that is valid JSON but does not match any
// message variant: missing or unknown type tag, missing required field, or a
// field of the wrong type.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation: %s", e.Reason)
}

// InvalidIDError indicates a conversation id that does not match the wire
// format. Distinct from "valid format, not found", which belongs to the
// conversation store.
type InvalidIDError struct {
	ID string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid conversation id: %q", e.ID)
}

func schemaErrorf(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}
