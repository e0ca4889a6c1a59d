// Package errors carries the coded error taxonomy shared by the worktree
// tools. Every error that reaches the tool boundary is rendered from these
// codes and details into a text report.
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode classifies a failure.
type ErrorCode string

const (
	// ErrCodeContext means the repository context could not be resolved.
	ErrCodeContext ErrorCode = "CONTEXT"
	// ErrCodeConflict means a destination or branch collision was detected.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeCommandFailed means a git or terminal subprocess failed.
	ErrCodeCommandFailed ErrorCode = "COMMAND_FAILED"
	// ErrCodeDrift means a mapping no longer matches the filesystem or git.
	ErrCodeDrift ErrorCode = "DRIFT"
	// ErrCodeNotFound means no mapping matched a reference.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeStore means the mapping store failed.
	ErrCodeStore ErrorCode = "STORE"
	// ErrCodeSession means the host session API could not produce a session.
	ErrCodeSession ErrorCode = "SESSION"
	// ErrCodeInvalidInput means a caller supplied an unusable argument.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Detail is one key/value pair attached to an Error. Details keep insertion
// order so reports list them the way they were added.
type Detail struct {
	Key   string
	Value string
}

// Error is a structured error with a code and ordered details.
type Error struct {
	Code    ErrorCode
	Message string
	Details []Detail
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail appends a detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	e.Details = append(e.Details, Detail{Key: key, Value: value})
	return e
}

// Detail returns the value of the first detail with the given key.
func (e *Error) Detail(key string) (string, bool) {
	for _, d := range e.Details {
		if d.Key == key {
			return d.Value, true
		}
	}
	return "", false
}

// New creates an Error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// CommandFailed builds the error for a failed subprocess. The captured
// stderr is the message; fallback is used when stderr is empty.
func CommandFailed(stderr, fallback string) *Error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = fallback
	}
	return New(ErrCodeCommandFailed, msg)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// GetCode extracts the code from err, or "" when it carries none.
func GetCode(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
