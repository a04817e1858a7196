package domain

import "errors"

var (
	// ErrSessionInvalid is returned when the console no longer accepts the session
	ErrSessionInvalid = errors.New("session invalid")

	// ErrWorkerNotStopped is returned for operations that need a stopped worker
	ErrWorkerNotStopped = errors.New("worker is not stopped")
)

// SessionError marks a failure that ends the whole worker run rather than
// a single job.
type SessionError struct {
	Reason string
	Err    error
}

func (e *SessionError) Error() string {
	return "session error: " + e.Reason
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new session-level error
func NewSessionError(reason string) error {
	return &SessionError{Reason: reason, Err: ErrSessionInvalid}
}
