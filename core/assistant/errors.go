package assistant

import "fmt"

// TransportError covers an unreachable backend and non-success statuses.
// StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("assistant transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means the backend answered but the body was not a response
// object.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("assistant parse error: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }
