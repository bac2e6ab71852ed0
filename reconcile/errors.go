package reconcile

import (
	"errors"
	"fmt"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
)

// ErrSessionClosed is returned by submissions on a disposed or terminal session.
var ErrSessionClosed = errors.New("reconcile: session closed")

// ValidationError is a local field check that failed before anything was sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NetworkError is a transient failure talking to the platform. Polling carries on.
type NetworkError struct {
	Op  string // "poll", "submit_3ds", "submit_new_card"
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError means the platform received a submission and refused it (wrong 3DS code,
// declined card). The remediation form stays open.
type RejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}

// UnknownStatusError reports a status string the classifier did not recognise.
type UnknownStatusError struct {
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown payment status %q", e.Status)
}

// submissionError sorts a platform error into RejectedError or NetworkError.
func submissionError(op string, err error) error {
	var se *platform.StatusError
	if errors.As(err, &se) && se.Rejected() {
		return &RejectedError{Op: op, StatusCode: se.StatusCode, Message: se.Message}
	}
	return &NetworkError{Op: op, Err: err}
}
