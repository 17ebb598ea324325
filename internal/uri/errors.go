package uri

import (
	"errors"
	"fmt"
)

// ParseError reports a malformed content URI.
type ParseError struct {
	URI    string
	Reason string
}

func newParseError(raw, reason string) *ParseError {
	return &ParseError{URI: raw, Reason: reason}
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("REFERENCE_PARSE: %s (uri=%q)", e.Reason, e.URI)
}

// KindMismatchError reports a well-formed URI that encodes a different
// resource kind than the caller required.
type KindMismatchError struct {
	URI      string
	Expected Kind
	Got      Kind
}

// Error implements the error interface.
func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("REFERENCE_KIND_MISMATCH: expected %s, got %s (uri=%q)", e.Expected, e.Got, e.URI)
}

// IsReferenceError reports whether err is a parse or kind-mismatch
// error. Uses errors.As to handle wrapped errors.
func IsReferenceError(err error) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return true
	}
	var ke *KindMismatchError
	return errors.As(err, &ke)
}
