package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrNegotiation        = errors.New("negotiation error")
	ErrTransportFailed    = errors.New("peer transport failed")

	ErrAlreadyStarted = errors.New("session already started")
	ErrSessionClosed  = errors.New("session closed")
	ErrOfferPending   = errors.New("offer already pending")
	ErrWrongRole      = errors.New("operation not allowed for this role")
)

// Error is a fatal session error. Kind is one of ErrCaptureUnavailable,
// ErrNegotiation or ErrTransportFailed; Err is the underlying cause.
type Error struct {
	Op      string
	Kind    error
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v: %v (%s)", e.Op, e.Kind, e.Err, e.Details)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kindName is the error type reported over telemetry.
func kindName(kind error) string {
	switch kind {
	case ErrCaptureUnavailable:
		return "capture-unavailable"
	case ErrNegotiation:
		return "negotiation"
	case ErrTransportFailed:
		return "transport"
	default:
		return "unknown"
	}
}
