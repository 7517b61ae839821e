package hr

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure for callers deciding whether to retry or surface it.
type ErrorClass string

const (
	// ErrorClassNotFound means a mutation targeted a case that does not exist
	// and creation was not implied.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassPersistence means the store transaction failed. The cache was not touched.
	ErrorClassPersistence ErrorClass = "persistence"

	// ErrorClassAudit means the consistency sweep itself failed.
	ErrorClassAudit ErrorClass = "audit"

	// ErrorClassEvaluation means policy evaluation failed internally.
	// The engine absorbs these into a fail-open decision.
	ErrorClassEvaluation ErrorClass = "evaluation"

	// ErrorClassValidation means the caller supplied malformed input.
	ErrorClassValidation ErrorClass = "validation"
)

// Sentinels for errors.Is. Only the class is compared.
var (
	ErrNotFound    = &Error{Class: ErrorClassNotFound}
	ErrPersistence = &Error{Class: ErrorClassPersistence}
	ErrAudit       = &Error{Class: ErrorClassAudit}
	ErrEvaluation  = &Error{Class: ErrorClassEvaluation}
	ErrValidation  = &Error{Class: ErrorClassValidation}
)

// Error is a classified error carrying the case key and operation it concerns.
type Error struct {
	Class   ErrorClass
	Message string
	Op      string
	Key     Key
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Class)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key.SiteKey != "" || e.Key.TorrentID != "" {
		msg = fmt.Sprintf("%s (case=%s)", msg, e.Key)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NotFound builds a not-found error for key.
func NotFound(op string, key Key) *Error {
	return &Error{Class: ErrorClassNotFound, Message: "case not found", Op: op, Key: key}
}

// Persistence wraps a store failure.
func Persistence(op string, key Key, err error) *Error {
	return &Error{Class: ErrorClassPersistence, Message: "store write failed", Op: op, Key: key, Err: err}
}

// Validation reports malformed input.
func Validation(op, message string) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Op: op}
}

// IsNotFound reports whether err is classified as not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPersistence reports whether err is classified as a persistence failure.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// ClassOf returns the class of the first *Error in err's chain, or "" if none.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
