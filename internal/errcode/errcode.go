// Package errcode implements the stable error-code registry of spec §7: a
// closed set of error kinds, each carrying a stable code string surfaced to
// operators, and the exit-code mapping of spec §6.
package errcode

import "fmt"

// Code identifies one error kind. Values are stable across releases once
// assigned — the CLI keys human messages off this string (spec §7:
// "Every error carries a stable code").
type Code string

const (
	NotARepository      Code = "E1001"
	RepositoryCorrupt   Code = "E1002"
	ObjectNotFound      Code = "E2001"
	ObjectCorrupt       Code = "E2002"
	NonFastForward      Code = "E3001"
	MergeConflict       Code = "E3002"
	LockConflict        Code = "E4001"
	InvalidArgument     Code = "E5001"
	PathOutsideRepo     Code = "E5002"
	InvalidReferenceName Code = "E5003"
	IoError             Code = "E6001"
	NetworkError        Code = "E7001"
	Timeout             Code = "E7002"
	AuthRequired        Code = "E8001"
	AuthFailed          Code = "E8002"
	PermissionDenied    Code = "E8003"
	QuotaExceeded       Code = "E9001"
	Cancelled           Code = "E9002"
	Unsupported         Code = "E9003"
)

// ExitCode maps a Code to the process-level exit code of spec §6.
func (c Code) ExitCode() int {
	switch c {
	case NotARepository, RepositoryCorrupt, ObjectNotFound, ObjectCorrupt:
		return 5
	case NonFastForward:
		return 1
	case MergeConflict:
		return 7
	case LockConflict:
		return 6
	case InvalidArgument, PathOutsideRepo, InvalidReferenceName:
		return 2
	case AuthRequired, AuthFailed, PermissionDenied:
		return 3
	case NetworkError, Timeout:
		return 4
	case Cancelled:
		return 1
	default:
		return 1
	}
}

// Error wraps an underlying cause with a stable Code, the shape every core
// operation returns per spec §7.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a stable code to an underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}
