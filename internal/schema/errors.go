package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no schema is registered for an event name.
	ErrNotFound = errors.New("schema not found")
	// ErrAlreadyExists is returned when registering a duplicate key.
	ErrAlreadyExists = errors.New("schema already exists")
)

// ValidationError is one shape violation, addressed by dotted path
// (e.g. "ecommerce.purchase.products[0].id").
type ValidationError struct {
	Event        string `json:"event"`
	Version      int    `json:"version"`
	Path         string `json:"path,omitempty"`
	Message      string `json:"message"`
	ExpectedType string `json:"expected_type,omitempty"`
	ActualType   string `json:"actual_type,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// MultiValidationError aggregates shape violations from one validation pass.
type MultiValidationError struct {
	Errors []*ValidationError
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// NewTypeMismatchError creates an error for type mismatches.
func NewTypeMismatchError(event string, version int, path, expected, actual string) *ValidationError {
	return &ValidationError{
		Event:        event,
		Version:      version,
		Path:         path,
		Message:      fmt.Sprintf("expected %s, got %s", expected, actual),
		ExpectedType: expected,
		ActualType:   actual,
	}
}

// NewRequiredFieldError creates an error for missing required fields.
func NewRequiredFieldError(event string, version int, path string) *ValidationError {
	return &ValidationError{
		Event:   event,
		Version: version,
		Path:    path,
		Message: "required field is missing",
	}
}
