// Package domainerrors centralizes the service-layer error taxonomy.
//
// Infrastructure layers (stores, caches, external collaborators) return
// pkg/sentinel errors or raw errors; services translate those into a
// domainerrors.Error at the boundary so every caller-visible failure
// carries one of the closed Code kinds below. Metadata attachment is
// restricted to non-security kinds: unauthenticated, permission_denied
// and precondition_failed (from WebAuthn) must surface a generic message
// with no metadata to the caller, per the propagation policy.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is the closed set of error kinds a caller may observe.
type Code string

const (
	CodeInvalidInput         Code = "invalid_input"
	CodeNotFound             Code = "not_found"
	CodeConflict             Code = "conflict"
	CodeUnauthenticated      Code = "unauthenticated"
	CodePermissionDenied     Code = "permission_denied"
	CodePreconditionFailed   Code = "precondition_failed"
	CodeRateLimited          Code = "rate_limited"
	CodeIntegrityViolation   Code = "integrity_violation"
	CodeDependencyUnavailable Code = "dependency_unavailable"
	CodeInternal             Code = "internal"

	// CodeBadRequest is an alias kept for parity with the teacher's
	// call sites (`dErrors.CodeBadRequest`); it maps to the same kind as
	// CodeInvalidInput.
	CodeBadRequest = CodeInvalidInput
)

// securityKinds never carry metadata in their public projection.
var securityKinds = map[Code]bool{
	CodeUnauthenticated:    true,
	CodePermissionDenied:   true,
	CodePreconditionFailed: true,
}

// Error is the concrete error type returned across service boundaries.
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]any
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the error's kind.
func (e *Error) Code() Code { return e.code }

// Metadata returns additional detail, empty for security-relevant kinds.
func (e *Error) Metadata() map[string]any {
	if securityKinds[e.code] {
		return nil
	}
	return e.metadata
}

// New builds a domain error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// NewWithMetadata builds a domain error carrying structured detail. The
// metadata is dropped at read time for security-relevant kinds.
func NewWithMetadata(code Code, message string, metadata map[string]any) *Error {
	return &Error{code: code, message: message, metadata: metadata}
}

// Wrap annotates an underlying error with a domain error kind.
func Wrap(err error, code Code, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// HasCode reports whether err is a domain error of the given code, walking
// the unwrap chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.code == code
	}
	return false
}

// CodeOf extracts the code from err, or CodeInternal if err isn't a
// domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// IsSecurityKind reports whether code requires a generic caller-visible
// message and an audit event with full internal detail, per spec.
func IsSecurityKind(code Code) bool {
	return securityKinds[code]
}
