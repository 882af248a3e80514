package webservice

import (
	"errors"
	"fmt"

	"github.com/RobertWHurst/jamn"
)

var (
	ErrUnknownPath   = errors.New("unsupported web service path")
	ErrDuplicatePath = errors.New("web service path already registered")
	ErrNilHandler    = errors.New("web service handler is nil")
)

// M is shorthand for a map[string]any.
type M map[string]any

// A FieldError names a request field that failed validation. Attached to a
// StatusError, the error body of a JSON service becomes
// {"error": "...", "fields": [{"<field>": "<error>"}]}.
type FieldError struct {
	Field string
	Error string
}

// StatusError is returned by service functions to answer with a specific
// status. Any other error answers 500.
type StatusError struct {
	Status  jamn.Status
	Message string
	Fields  []FieldError
}

// Errorf creates a StatusError with a formatted message.
func Errorf(status jamn.Status, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// ValidationError creates a 400 StatusError listing the failed fields.
func ValidationError(fields ...FieldError) *StatusError {
	return &StatusError{Status: jamn.StatusBadRequest, Message: "Validation error", Fields: fields}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", int(e.Status), e.Message)
}

func (e *StatusError) body() M {
	body := M{"error": e.Message}
	if len(e.Fields) > 0 {
		fields := make([]M, 0, len(e.Fields))
		for _, field := range e.Fields {
			fields = append(fields, M{field.Field: field.Error})
		}
		body["fields"] = fields
	}
	return body
}
