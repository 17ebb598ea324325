package content

import (
	"errors"
	"fmt"

	"github.com/gillohner/pubky-nexus/internal/uri"
)

// ValidationError reports a payload that cannot be normalized: missing
// required fields, wrong types, or out-of-range values. It is permanent;
// redelivering the same payload fails the same way.
type ValidationError struct {
	Kind   uri.Kind
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("VALIDATION: %s.%s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("VALIDATION: %s: %s", e.Kind, e.Reason)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(kind uri.Kind, field, reason string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Reason: reason}
}
