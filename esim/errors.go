package esim

import (
	"errors"
	"fmt"
)

// Error represents a download session error
type Error struct {
	// Type is the error type
	Type ErrorType

	// Message is a human-readable error message
	Message string

	// Err is the underlying cause, if any
	Err error
}

// ErrorType categorizes session errors
type ErrorType int

const (
	// ErrMalformedFrame indicates an inbound frame that is not valid JSON or
	// does not match the protocol schema
	ErrMalformedFrame ErrorType = iota

	// ErrServer indicates an error reported by the server in an error frame.
	// The session passes it to OnError when the attempt fails.
	ErrServer

	// ErrTransport indicates a channel-level failure
	ErrTransport

	// ErrDisconnected indicates the channel closed before the download
	// finished. The session passes it to OnError.
	ErrDisconnected

	// ErrNoTarget indicates a download was requested without a resolved modem
	ErrNoTarget

	// ErrInvalidCommand indicates an outbound command that cannot be encoded
	ErrInvalidCommand

	// ErrSessionClosed indicates an operation on a torn-down session
	ErrSessionClosed

	// ErrInvalidActivationCode indicates an unparseable activation code or SM-DP+ address
	ErrInvalidActivationCode
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("esim %s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("esim %s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (t ErrorType) String() string {
	switch t {
	case ErrMalformedFrame:
		return "malformed frame"
	case ErrServer:
		return "server error"
	case ErrTransport:
		return "transport error"
	case ErrDisconnected:
		return "disconnected"
	case ErrNoTarget:
		return "no target"
	case ErrInvalidCommand:
		return "invalid command"
	case ErrSessionClosed:
		return "session closed"
	case ErrInvalidActivationCode:
		return "invalid activation code"
	default:
		return "unknown error"
	}
}

// NewError creates a new session error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// WrapError creates a new session error with an underlying cause
func WrapError(errType ErrorType, message string, err error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

func isType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsMalformed checks if an error reports a malformed inbound frame
func IsMalformed(err error) bool {
	return isType(err, ErrMalformedFrame)
}

// IsServer checks if an error was reported by the server
func IsServer(err error) bool {
	return isType(err, ErrServer)
}

// IsTransport checks if an error is a channel-level failure
func IsTransport(err error) bool {
	return isType(err, ErrTransport)
}

// IsDisconnected checks if an error indicates an unexpected close
func IsDisconnected(err error) bool {
	return isType(err, ErrDisconnected)
}

// IsNoTarget checks if an error indicates a missing modem ID
func IsNoTarget(err error) bool {
	return isType(err, ErrNoTarget)
}

// IsSessionClosed checks if an error indicates a torn-down session
func IsSessionClosed(err error) bool {
	return isType(err, ErrSessionClosed)
}
