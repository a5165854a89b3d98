package analysis

import (
	"errors"
	"fmt"
)

// ServiceError means the service answered but reported a failure.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string { return "analysis service: " + e.Message }

// TransportError means the service could not be reached or answered with a
// non-success status or an undecodable body.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AssistantError wraps any failure of a chat query.
type AssistantError struct {
	Err error
}

func (e *AssistantError) Error() string { return "assistant: " + e.Err.Error() }

func (e *AssistantError) Unwrap() error { return e.Err }

// IsScanFailure reports whether err ends a scan in the Failed phase.
func IsScanFailure(err error) bool {
	var se *ServiceError
	var te *TransportError
	return errors.As(err, &se) || errors.As(err, &te)
}

// UserMessage is the one-shot notice text for a failed scan.
func UserMessage(err error) string {
	var se *ServiceError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return "Server Error or Network Issue"
}
