package astimuxer

import (
	"errors"
	"fmt"
)

// ErrorCode represents a result code
type ErrorCode int

// Error codes
const (
	ErrorCodeNone             ErrorCode = 0
	ErrorCodeInvalidParameter ErrorCode = -1
	ErrorCodeInvalidState     ErrorCode = -2
	ErrorCodeInvalidPath      ErrorCode = -3
	ErrorCodeOutOfMemory      ErrorCode = -4
	ErrorCodeResourceLimit    ErrorCode = -5
	ErrorCodeInvalidOperation ErrorCode = -6
	ErrorCodeNotSupported     ErrorCode = -7
	ErrorCodePermissionDenied ErrorCode = -8
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeNone:
		return "none"
	case ErrorCodeInvalidParameter:
		return "invalid parameter"
	case ErrorCodeInvalidState:
		return "invalid state"
	case ErrorCodeInvalidPath:
		return "invalid path"
	case ErrorCodeOutOfMemory:
		return "out of memory"
	case ErrorCodeResourceLimit:
		return "resource limit"
	case ErrorCodeInvalidOperation:
		return "invalid operation"
	case ErrorCodeNotSupported:
		return "not supported"
	case ErrorCodePermissionDenied:
		return "permission denied"
	default:
		return fmt.Sprintf("unknown (%d)", int(c))
	}
}

// Sentinel errors, to be used with errors.Is
var (
	ErrInvalidOperation = &Error{Code: ErrorCodeInvalidOperation}
	ErrInvalidParameter = &Error{Code: ErrorCodeInvalidParameter}
	ErrInvalidPath      = &Error{Code: ErrorCodeInvalidPath}
	ErrInvalidState     = &Error{Code: ErrorCodeInvalidState}
	ErrNotSupported     = &Error{Code: ErrorCodeNotSupported}
	ErrOutOfMemory      = &Error{Code: ErrorCodeOutOfMemory}
	ErrPermissionDenied = &Error{Code: ErrorCodePermissionDenied}
	ErrResourceLimit    = &Error{Code: ErrorCodeResourceLimit}
)

// Error carries a result code along with its cause
type Error struct {
	Code ErrorCode
	Err  error
	Msg  string
}

func newError(c ErrorCode, err error, format string, args ...interface{}) *Error {
	return &Error{
		Code: c,
		Err:  err,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("astimuxer: %s: %s", msg, e.Err)
	}
	return "astimuxer: " + msg
}

// Unwrap implements the standard error interface
func (e *Error) Unwrap() error { return e.Err }

// Is returns true if err is an *Error with the same code
func (e *Error) Is(err error) bool {
	a, ok := err.(*Error)
	if !ok {
		return false
	}
	return a.Code == e.Code
}

// Code returns the code of the outermost *Error in err's chain
func Code(err error) ErrorCode {
	if err == nil {
		return ErrorCodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorCodeInvalidOperation
}

// ResultCode returns err's code as an integer, 0 on success
func ResultCode(err error) int { return int(Code(err)) }

func errInvalidState(op string, s State) *Error {
	return newError(ErrorCodeInvalidState, nil, "%s is not allowed in state %s", op, s)
}
