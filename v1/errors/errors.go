package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	// ErrUnavailable is returned when a backend answered with an unexpected
	// reply or could not be reached for a reason other than a timeout.
	ErrUnavailable = errors.New("backend unavailable")
)
