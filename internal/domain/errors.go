package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures returned by the session and list engines.
type ErrorCode string

const (
	// CodeInvalidTransition indicates the session state machine was violated.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// CodeNotAuthorized indicates a role or ownership check failed.
	CodeNotAuthorized ErrorCode = "NOT_AUTHORIZED"

	// CodeUnknownCandidate indicates the candidate is not part of the session
	// or has already been eliminated.
	CodeUnknownCandidate ErrorCode = "UNKNOWN_CANDIDATE"

	// CodeSessionNotJoinable indicates no joinable session carries the code.
	CodeSessionNotJoinable ErrorCode = "SESSION_NOT_JOINABLE"

	// CodeInvalidOrExpiredLink indicates no shareable list carries the link id.
	CodeInvalidOrExpiredLink ErrorCode = "INVALID_OR_EXPIRED_LINK"

	// CodeConcurrentModification indicates optimistic-concurrency retries ran out.
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"

	// CodeCodeGenerationExhausted indicates every generated join code collided.
	CodeCodeGenerationExhausted ErrorCode = "CODE_GENERATION_EXHAUSTED"

	// CodeNotFound indicates the addressed session, list, or item does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidArgument indicates malformed input.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is. Matching compares codes only, so
// errors.Is(err, ErrNotAuthorized) holds for any *Error carrying that code.
var (
	ErrInvalidTransition       = &Error{Code: CodeInvalidTransition}
	ErrNotAuthorized           = &Error{Code: CodeNotAuthorized}
	ErrUnknownCandidate        = &Error{Code: CodeUnknownCandidate}
	ErrSessionNotJoinable      = &Error{Code: CodeSessionNotJoinable}
	ErrInvalidOrExpiredLink    = &Error{Code: CodeInvalidOrExpiredLink}
	ErrConcurrentModification  = &Error{Code: CodeConcurrentModification}
	ErrCodeGenerationExhausted = &Error{Code: CodeCodeGenerationExhausted}
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrInvalidArgument         = &Error{Code: CodeInvalidArgument}
)

// Error is a typed engine failure. Every validation failure is returned
// synchronously as an *Error and never partially applied.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the engine operation that failed (e.g. "session.eliminate").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Errorf builds an *Error for op with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error for op that carries cause.
func Wrap(code ErrorCode, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// CodeOf extracts the ErrorCode from err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsInvalidTransition returns true if err is a state machine violation.
func IsInvalidTransition(err error) bool {
	return CodeOf(err) == CodeInvalidTransition
}

// IsNotAuthorized returns true if err is a failed role or ownership check.
func IsNotAuthorized(err error) bool {
	return CodeOf(err) == CodeNotAuthorized
}

// IsNotFound returns true if err reports a missing session, list, or item.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsConcurrentModification returns true if optimistic retries were exhausted.
func IsConcurrentModification(err error) bool {
	return CodeOf(err) == CodeConcurrentModification
}
