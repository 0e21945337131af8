// Package ecode defines the numeric error taxonomy shared across the
// link protocol stack. The codes are part of the wire-adjacent ABI
// (status bytes returned to the remote, counters keyed by code) so
// their values must never be renumbered.
package ecode

import "fmt"

// Code is one of the protocol's well-known error numbers.
type Code int

const (
	Success              Code = 0
	Unspecified          Code = 1
	NotEnoughMemory      Code = 2
	NotSupported         Code = 3
	IO                   Code = 4
	ParameterInvalid     Code = 5
	InvalidMessageLength Code = 8
	MessageIntegrity     Code = 9
	SyntaxError          Code = 10
	TimedOut             Code = 11
	Full                 Code = 12
	Empty                Code = 13
	TooSmall             Code = 14
	TooBig               Code = 15
	NotFound             Code = 16
	AlreadyExists        Code = 17
	Busy                 Code = 19
	Unavailable          Code = 20
	Closed               Code = 22
	Sequence             Code = 23
	Aborted              Code = 24
	Synchronization      Code = 25
)

var names = map[Code]string{
	Success:              "SUCCESS",
	Unspecified:          "UNSPECIFIED",
	NotEnoughMemory:      "NOT_ENOUGH_MEMORY",
	NotSupported:         "NOT_SUPPORTED",
	IO:                   "IO",
	ParameterInvalid:     "PARAMETER_INVALID",
	InvalidMessageLength: "INVALID_MESSAGE_LENGTH",
	MessageIntegrity:     "MESSAGE_INTEGRITY",
	SyntaxError:          "SYNTAX_ERROR",
	TimedOut:             "TIMED_OUT",
	Full:                 "FULL",
	Empty:                "EMPTY",
	TooSmall:             "TOO_SMALL",
	TooBig:               "TOO_BIG",
	NotFound:             "NOT_FOUND",
	AlreadyExists:        "ALREADY_EXISTS",
	Busy:                 "BUSY",
	Unavailable:          "UNAVAILABLE",
	Closed:               "CLOSED",
	Sequence:             "SEQUENCE",
	Aborted:              "ABORTED",
	Synchronization:      "SYNCHRONIZATION",
}

// String returns the ABI name of the code, e.g. "TIMED_OUT".
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// Error is a Code paired with a human-readable detail message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error carrying the same Code, so
// callers can use errors.Is(err, ecode.New(ecode.NotFound, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// New builds an *Error for the given code and detail message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
