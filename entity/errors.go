package entity

import (
	"fmt"
	"strings"
)

// ValidationError reports a shape or semantic violation at ingress. It is
// terminal for the request and never retried.
type ValidationError struct {
	Message string
}

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid entity: %s", e.Message)
}

// SchemaError is a single structured schema failure.
type SchemaError struct {
	DataPath string `json:"dataPath"`
	Message  string `json:"message"`
}

// JsonValidationError carries the ordered list of schema failures produced
// while validating a data entry against its registered type schema.
type JsonValidationError struct {
	Errors []SchemaError
}

func (e *JsonValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, se := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s %s", se.DataPath, se.Message))
	}
	return fmt.Sprintf("invalid data: %s", strings.Join(parts, "; "))
}
