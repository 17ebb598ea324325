package graph

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned when a required match found nothing: the author
// or a hard dependency of a mutation, or an endpoint of a relation, does
// not exist. Nothing was written.
var ErrNoMatch = errors.New("graph: required match returned no rows")

// QueryError wraps a store-level failure. It is fatal for the current
// attempt; recovery relies on redelivery.
type QueryError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("GRAPH_QUERY: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *QueryError) Unwrap() error { return e.Err }

// IsQueryError reports whether err is a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

func queryError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNoMatch) {
		return err
	}
	return &QueryError{Op: op, Err: err}
}
