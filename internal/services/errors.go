package services

import (
	"errors"
	"fmt"

	"github.com/shopfront/apiserver/internal/auth"
)

// ErrorKind classifies a workflow failure for the transport layer.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindConflict     ErrorKind = "conflict"
)

// Error is a classified workflow failure. Message is safe to show callers.
type Error struct {
	Kind    ErrorKind
	Message string
	// Details carries per-row failures of a bulk import.
	Details []RowError
	Err     error
}

// RowError lists the problems found in one row of a bulk import.
type RowError struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func notFoundError(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func unauthorizedError(format string, args ...any) *Error {
	return newError(KindUnauthorized, format, args...)
}

func forbiddenError(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

func conflictError(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

var errAdminRequired = forbiddenError("admin access required")

func requireAdmin(identity auth.Identity) error {
	if !identity.IsAdmin() {
		return errAdminRequired
	}
	return nil
}
