package tracking

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFix      = errors.New("malformed location fix")
	ErrInvalidRoute      = errors.New("invalid ride route")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionNotFound   = errors.New("tracking session not found")
	ErrAlreadyTracking   = errors.New("ride is already being tracked")
	ErrRideCompleted     = errors.New("ride already completed")

	// GPS watch errors reported by the device. None of them stop a session.
	ErrPermissionDenied = errors.New("location permission denied")
	ErrGPSTimeout       = errors.New("location request timed out")
	ErrGPSUnavailable   = errors.New("location unavailable")

	ErrSourceClosed = errors.New("location source closed")
	ErrFeedFull     = errors.New("location feed full")
)

// UpstreamError marks a transient failure of an external collaborator.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *UpstreamError) Unwrap() error { return e.Err }

// LocationErrorFromCode maps a device geolocation error code
// (1 permission denied, 2 unavailable, 3 timeout) to a sentinel.
func LocationErrorFromCode(code int, msg string) error {
	var base error
	switch code {
	case 1:
		base = ErrPermissionDenied
	case 3:
		base = ErrGPSTimeout
	default:
		base = ErrGPSUnavailable
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}
