package indexer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gillohner/pubky-nexus/internal/uri"
)

// ProcessorError reports how an event failed and what the caller should
// do with it.
type ProcessorError struct {
	// Code identifies the error category.
	Code ProcessorErrorCode

	// Message is a human-readable description.
	Message string

	// URI is the object the event is about.
	URI string

	// FlowToken identifies the processing attempt in logs.
	FlowToken string

	// Keys lists the dependencies a MISSING_DEPENDENCY event waits on.
	Keys []uri.DependencyKey

	// Err is the underlying cause, if any.
	Err error
}

// ProcessorErrorCode categorizes processor errors.
type ProcessorErrorCode string

const (
	// ErrCodeMissingDependency means a referenced object is not indexed
	// yet. The event should be redelivered once the keys appear.
	ErrCodeMissingDependency ProcessorErrorCode = "MISSING_DEPENDENCY"

	// ErrCodeSkipIndexing means the event can never be indexed and must
	// be dropped.
	ErrCodeSkipIndexing ProcessorErrorCode = "SKIP_INDEXING"

	// ErrCodeIndexWriteFailed means the graph write committed but the
	// cache could not be updated.
	ErrCodeIndexWriteFailed ProcessorErrorCode = "INDEX_WRITE_FAILED"
)

// Error implements the error interface.
func (e *ProcessorError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if len(e.Keys) > 0 {
		keys := make([]string, len(e.Keys))
		for i, k := range e.Keys {
			keys[i] = k.String()
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(keys, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.URI != "" {
		fmt.Fprintf(&b, " (uri=%s)", e.URI)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ProcessorError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ProcessorErrorCode) bool {
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsRetryable returns true if the event should be redelivered later.
func IsRetryable(err error) bool {
	return hasCode(err, ErrCodeMissingDependency)
}

// IsSkip returns true if the event must be dropped.
func IsSkip(err error) bool {
	return hasCode(err, ErrCodeSkipIndexing)
}

// IsIndexWriteFailed returns true if only the cache update failed.
func IsIndexWriteFailed(err error) bool {
	return hasCode(err, ErrCodeIndexWriteFailed)
}

// DependencyKeys returns the keys a retryable error waits on.
func DependencyKeys(err error) []uri.DependencyKey {
	var pe *ProcessorError
	if errors.As(err, &pe) && pe.Code == ErrCodeMissingDependency {
		return pe.Keys
	}
	return nil
}

func newMissingDependency(ref uri.Ref, flow string, keys []uri.DependencyKey) *ProcessorError {
	return &ProcessorError{
		Code:      ErrCodeMissingDependency,
		Message:   "dependencies not indexed",
		URI:       ref.String(),
		FlowToken: flow,
		Keys:      keys,
	}
}

func newSkip(ref uri.Ref, flow, msg string, cause error) *ProcessorError {
	return &ProcessorError{
		Code:      ErrCodeSkipIndexing,
		Message:   msg,
		URI:       ref.String(),
		FlowToken: flow,
		Err:       cause,
	}
}

func newIndexWriteFailed(ref uri.Ref, flow string, cause error) *ProcessorError {
	return &ProcessorError{
		Code:      ErrCodeIndexWriteFailed,
		Message:   "cache update failed",
		URI:       ref.String(),
		FlowToken: flow,
		Err:       cause,
	}
}
