package blkio

import (
	"errors"
	"fmt"
)

// RetCode classifies errors returned by capabilities
type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: operation succeeded
	RetCInternalError                       // 1: backend failure
	RetCUnsupportedOperation                // 2: the backend does not implement the operation
	RetCInvalidOperation                    // 3: the operation is not valid in the current state
	RetCQueueFull                           // 4: a destination queue refused the message
	RetCOutOfRange                          // 5: the access lies outside of the backing store
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCQueueFull:
		return "QueueFull"
	case RetCOutOfRange:
		return "OutOfRange"
	default:
		return "Unknown"
	}
}

// Error wraps a return code and a message
type Error struct {
	Code RetCode
	Msg  string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("blkio error (code %s): %s", e.Code, e.Msg)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrUnsupported)
// holds for every unsupported-operation error regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates an error with the given code and message
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

var (
	ErrUnsupported = NewError(RetCUnsupportedOperation, "operation is not supported")
	ErrQueueFull   = NewError(RetCQueueFull, "destination queue is full")
	ErrOutOfRange  = NewError(RetCOutOfRange, "access out of range")
	ErrClosed      = NewError(RetCInvalidOperation, "capability is closed")
)
