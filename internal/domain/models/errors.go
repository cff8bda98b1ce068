package models

import "fmt"

// ValidationError reports malformed or misaligned input. It is raised at the
// boundary before any fitting or filtering starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

// NewValidationError creates a validation error for a named field.
func NewValidationError(field, format string, a ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, a...)}
}
