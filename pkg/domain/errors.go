package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a DomainError for transport mapping.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindForbidden    ErrorKind = "forbidden"
	KindInvalidState ErrorKind = "invalid_state"
	KindExternal     ErrorKind = "external"
	KindInternal     ErrorKind = "internal"
)

// DomainError is a typed failure returned to callers at an operation boundary.
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return e.Message
}

// Is matches two domain errors by kind and code, so sentinel errors work with errors.Is.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// NewValidationError reports malformed or out-of-range input.
func NewValidationError(message string) *DomainError {
	return &DomainError{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: message}
}

// NewNotFoundError reports an unknown entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", entity, id),
	}
}

// NewConflictError reports a write that collides with current state.
func NewConflictError(message string) *DomainError {
	return &DomainError{Kind: KindConflict, Code: "CONFLICT", Message: message}
}

// NewConflictCodeError is a conflict with a stable, caller-visible code.
func NewConflictCodeError(code, message string) *DomainError {
	return &DomainError{Kind: KindConflict, Code: code, Message: message}
}

// NewForbiddenError reports an identity that does not own the resource.
func NewForbiddenError(message string) *DomainError {
	return &DomainError{Kind: KindForbidden, Code: "FORBIDDEN", Message: message}
}

// NewInvalidStateError reports a state machine transition that is not allowed.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{
		Kind:    KindInvalidState,
		Code:    "INVALID_STATE",
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// NewExternalError reports a failed call to an upstream collaborator.
func NewExternalError(message string) *DomainError {
	return &DomainError{Kind: KindExternal, Code: "EXTERNAL_ERROR", Message: message}
}

// KindOf returns the kind of err, or KindInternal if err is not a DomainError.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found domain error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict domain error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }
