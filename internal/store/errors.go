package store

import (
	"errors"
	"strings"
)

// Code is the stable, machine-readable kind of a store failure. Callers above
// the store (HTTP handlers, the CLI) map codes to status codes or exit codes.
type Code string

// Error codes.
const (
	CodeConflict              Code = "CONFLICT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeLock                  Code = "LOCK_TIMEOUT"
	CodeDuplicateEmail        Code = "DUPLICATE_EMAIL"
	CodeDuplicateMemberNumber Code = "DUPLICATE_MEMBER_NUMBER"
	CodeValidation            Code = "VALIDATION"
)

// Sentinels for [errors.Is]. An *Error matches the sentinel with the same
// code regardless of message:
//
//	if errors.Is(err, store.ErrConflict) { ... }
var (
	ErrConflict              = &Error{Code: CodeConflict, Message: "slot conflict"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrLock                  = &Error{Code: CodeLock, Message: "lock not acquired"}
	ErrDuplicateEmail        = &Error{Code: CodeDuplicateEmail, Message: "email already registered"}
	ErrDuplicateMemberNumber = &Error{Code: CodeDuplicateMemberNumber, Message: "member number already taken"}
	ErrValidation            = &Error{Code: CodeValidation, Message: "invalid input"}
)

// Error is the uniform error type returned by the repositories.
//
// The message comes first, followed by the underlying cause when there is
// one:
//
//	slot conflict: court-1 2026-02-10 10:30-11:30 overlaps 0194f0c2-... (10:00-11:00)
//	lock not acquired: lock timeout: data/members.json.lock still held after 5s
//
// Use [errors.As] to read the code, or [CodeOf]:
//
//	var sErr *store.Error
//	if errors.As(err, &sErr) && sErr.Code == store.CodeConflict { ... }
type Error struct {
	Code    Code
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder

	b.WriteString(e.Message)

	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}

		b.WriteString(e.Err.Error())
	}

	if b.Len() == 0 {
		return string(e.Code)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}

	return e.Code == t.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" when err
// is nil or not a store error.
func CodeOf(err error) Code {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Code
	}

	return ""
}

func newError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}
