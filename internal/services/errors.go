package services

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrOrderNotFound is returned when no order carries the tracking code
var ErrOrderNotFound = errors.New("order not found")

// ErrSearchDisabled is returned by Search when no search index is configured
var ErrSearchDisabled = errors.New("order search is not configured")

// RejectionError is a user-facing refusal; the conversation stays on the same step
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// Reject builds a RejectionError
func Reject(format string, args ...interface{}) error {
	return &RejectionError{Message: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a user-facing rejection and returns it
func IsRejection(err error) (*RejectionError, bool) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

// ConfirmationError reports a confirmation that stopped at a dependent write
type ConfirmationError struct {
	Step         string
	OrderID      string
	TrackingCode string
	// HeaderSaved is true when the order header exists without its lines
	HeaderSaved bool
	Err         error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirmation failed at %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying write error
func (e *ConfirmationError) Unwrap() error {
	return e.Err
}
