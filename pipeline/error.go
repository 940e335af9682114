package astipipeline

import (
	"fmt"
	"io/fs"
	"syscall"

	"github.com/pkg/errors"
)

// ErrorDomain represents the category an error belongs to
type ErrorDomain string

// Error domains
const (
	ErrorDomainCore     ErrorDomain = "core"
	ErrorDomainLibrary  ErrorDomain = "library"
	ErrorDomainResource ErrorDomain = "resource"
	ErrorDomainStream   ErrorDomain = "stream"
)

// ErrorCode represents a domain specific error code
type ErrorCode int

// Core error codes
const (
	CoreErrorFailed ErrorCode = iota + 1
	CoreErrorMissingPlugin
	CoreErrorNegotiation
	CoreErrorPad
	CoreErrorStateChange
)

// Library error codes
const (
	LibraryErrorFailed ErrorCode = iota + 1
	LibraryErrorEncode
)

// Resource error codes
const (
	ResourceErrorFailed ErrorCode = iota + 1
	ResourceErrorClose
	ResourceErrorNoSpaceLeft
	ResourceErrorNotAuthorized
	ResourceErrorNotFound
	ResourceErrorOpenWrite
	ResourceErrorSeek
	ResourceErrorWrite
)

// Stream error codes
const (
	StreamErrorFailed ErrorCode = iota + 1
	StreamErrorEOS
	StreamErrorFlushing
	StreamErrorFormat
	StreamErrorMux
)

// Error represents a pipeline error
type Error struct {
	Code   ErrorCode
	Domain ErrorDomain
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("astipipeline: %s error %d: %s", e.Domain, e.Code, e.Err)
}

// Unwrap implements the standard error interface
func (e *Error) Unwrap() error { return e.Err }

// Cause implements the pkg/errors causer interface
func (e *Error) Cause() error { return e.Err }

// Is returns true if err is a pipeline error with the same domain and code
func (e *Error) Is(err error) bool {
	a, ok := err.(*Error)
	if !ok {
		return false
	}
	return a.Domain == e.Domain && a.Code == e.Code
}

func newError(d ErrorDomain, c ErrorCode, err error) *Error {
	return &Error{
		Code:   c,
		Domain: d,
		Err:    err,
	}
}

func newCoreError(c ErrorCode, format string, args ...interface{}) *Error {
	return newError(ErrorDomainCore, c, errors.Errorf(format, args...))
}

func newStreamError(c ErrorCode, format string, args ...interface{}) *Error {
	return newError(ErrorDomainStream, c, errors.Errorf(format, args...))
}

// newResourceError classifies an I/O error
func newResourceError(err error, fallback ErrorCode, format string, args ...interface{}) *Error {
	c := fallback
	switch {
	case errors.Is(err, syscall.ENOSPC):
		c = ResourceErrorNoSpaceLeft
	case errors.Is(err, fs.ErrPermission):
		c = ResourceErrorNotAuthorized
	case errors.Is(err, fs.ErrNotExist):
		c = ResourceErrorNotFound
	}
	return newError(ErrorDomainResource, c, errors.Wrapf(err, format, args...))
}

// toError makes sure err is a pipeline error
func toError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(ErrorDomainStream, StreamErrorFailed, err)
}

// ErrorOf returns the pipeline error contained in err if any
func ErrorOf(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
