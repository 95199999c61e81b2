package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/shehryarbajwa/sweetlink/internal/auth"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionNotOpen  = errors.New("session socket is not open")
	ErrTooManySessions = errors.New("session limit reached")
	ErrInvalidCommand  = errors.New("invalid command")
	// ErrSessionMismatch is returned when a session token is bound to a
	// different session id than the register frame names.
	ErrSessionMismatch = fmt.Errorf("%w: session token mismatch", auth.ErrAuth)
)

// CommandTimeoutError fails a command whose deadline passed before a
// result arrived
type CommandTimeoutError struct {
	CommandID string
	Timeout   time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %s timed out after %dms", e.CommandID, e.Timeout.Milliseconds())
}

// SessionEndedError fails every command still pending when its session is
// removed
type SessionEndedError struct {
	SessionID string
	CommandID string
	Reason    string
}

func (e *SessionEndedError) Error() string {
	return "session ended: " + e.Reason
}

// TransportSendError wraps a socket write failure for a command
type TransportSendError struct {
	CommandID string
	Err       error
}

func (e *TransportSendError) Error() string {
	return fmt.Sprintf("sending command %s: %v", e.CommandID, e.Err)
}

func (e *TransportSendError) Unwrap() error { return e.Err }

// IsSynchronous reports whether err was returned before any command was
// sent: the command was invalid, or the session did not exist or was not
// open.
func IsSynchronous(err error) bool {
	return errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionNotOpen)
}

// FailureResult renders an asynchronous command failure as a result the
// caller can display. It returns nil for errors that carry no command id.
func FailureResult(err error, elapsed time.Duration) *models.CommandResult {
	var commandID string
	var timeout *CommandTimeoutError
	var ended *SessionEndedError
	var transport *TransportSendError

	switch {
	case errors.As(err, &timeout):
		commandID = timeout.CommandID
	case errors.As(err, &ended):
		commandID = ended.CommandID
	case errors.As(err, &transport):
		commandID = transport.CommandID
	default:
		return nil
	}

	return &models.CommandResult{
		OK:         false,
		CommandID:  commandID,
		DurationMs: float64(elapsed.Milliseconds()),
		Error:      err.Error(),
	}
}
