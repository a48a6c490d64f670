package protocol

import (
	"errors"
	"fmt"
)

// Reserved backend error codes.
const (
	CodeGeneric          = -32000
	CodeConnectionClosed = -32001
	CodeStub             = -32015
)

var (
	ErrInvalidMessage       = errors.New("protocol: invalid message")
	ErrInvalidQualifiedName = errors.New("protocol: invalid qualified name")
	ErrCompressedPayload    = errors.New("protocol: invalid compressed payload")
)

// Error is the error object carried by a response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data == "" {
		return fmt.Sprintf("protocol: code=%d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("protocol: code=%d: %s (%s)", e.Code, e.Message, e.Data)
}

// Benign reports whether the code is one of the reserved codes that callers
// expect during normal teardown and that are not worth logging.
func (e *Error) Benign() bool {
	if e == nil {
		return true
	}
	switch e.Code {
	case CodeStub, CodeGeneric, CodeConnectionClosed:
		return true
	default:
		return false
	}
}

// ConnectionClosedError is synthesized for calls issued without a live router.
func ConnectionClosedError(method string) *Error {
	return &Error{
		Code:    CodeConnectionClosed,
		Message: fmt.Sprintf("Connection is closed, can't dispatch pending call to %s", method),
	}
}

// SessionUnregisteringError is synthesized for calls still pending when their
// session goes away.
func SessionUnregisteringError(method string) *Error {
	return &Error{
		Code:    CodeStub,
		Message: fmt.Sprintf("Session is unregistering, can't dispatch pending call to %s", method),
	}
}
