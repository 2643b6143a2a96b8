package oracle

import "fmt"

// ErrorType categorizes session-terminal faults.
type ErrorType string

const (
	// ErrTransport covers channel dial failures and mid-session socket errors.
	ErrTransport ErrorType = "transport_error"
	// ErrRemote covers application-level errors reported by the oracle service.
	ErrRemote ErrorType = "remote_error"
)

// Error is a session fault with a user-visible message.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewTransportError creates a transport-level channel error.
func NewTransportError(message string, cause error) *Error {
	return &Error{Type: ErrTransport, Message: message, Cause: cause}
}

// NewRemoteError creates an error signaled by the remote service itself.
func NewRemoteError(message string) *Error {
	return &Error{Type: ErrRemote, Message: message}
}
