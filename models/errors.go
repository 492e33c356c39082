package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every terminal error the engine surfaces to callers.
type ErrorKind string

const (
	ErrKindNotFound          ErrorKind = "not_found"
	ErrKindPermissionDenied  ErrorKind = "permission_denied"
	ErrKindValidation        ErrorKind = "validation_error"
	ErrKindRetrieval         ErrorKind = "retrieval_error"
	ErrKindBlending          ErrorKind = "blending_error"
	ErrKindIntegrityFailure  ErrorKind = "integrity_check_failure"
	ErrKindOperationConflict ErrorKind = "operation_conflict"
	ErrKindTimeout           ErrorKind = "timeout"
)

// CoreError is the engine's terminal error carrier: a machine-readable kind,
// a human message, and an ordered remediation list.
type CoreError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Remediation []string  `json:"remediation,omitempty"`
	Err         error     `json:"-"`
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewNotFoundError reports an absent bot, snapshot, operation, or model.
func NewNotFoundError(resource string, id interface{}) *CoreError {
	return &CoreError{
		Kind:    ErrKindNotFound,
		Message: fmt.Sprintf("%s %v not found", resource, id),
	}
}

// NewPermissionDeniedError reports a caller lacking ownership or role.
func NewPermissionDeniedError(action string) *CoreError {
	return &CoreError{
		Kind:    ErrKindPermissionDenied,
		Message: fmt.Sprintf("permission denied: %s", action),
	}
}

// NewValidationError reports bad input rejected at the API surface.
func NewValidationError(msg string) *CoreError {
	return &CoreError{Kind: ErrKindValidation, Message: msg}
}

// NewRetrievalError reports a final vector-search failure after the
// threshold cascade is exhausted.
func NewRetrievalError(msg string, err error) *CoreError {
	return &CoreError{Kind: ErrKindRetrieval, Message: msg, Err: err}
}

// NewBlendingError reports that both the LLM and retrieval sides were empty.
func NewBlendingError(msg string) *CoreError {
	return &CoreError{Kind: ErrKindBlending, Message: msg}
}

// NewIntegrityError reports a CRITICAL issue found during verification.
func NewIntegrityError(msg string) *CoreError {
	return &CoreError{Kind: ErrKindIntegrityFailure, Message: msg}
}

// NewConflictError reports a duplicate operation or a full queue.
func NewConflictError(msg string) *CoreError {
	return &CoreError{Kind: ErrKindOperationConflict, Message: msg}
}

// NewTimeoutError reports an exceeded deadline.
func NewTimeoutError(msg string, err error) *CoreError {
	return &CoreError{Kind: ErrKindTimeout, Message: msg, Err: err}
}

// KindOf extracts the taxonomy kind from any error in the chain, or "" when
// the error is untyped.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var ke *APIKeyError
	if errors.As(err, &ke) {
		return ErrorKind("api_key." + string(ke.Type))
	}
	return ""
}

func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

func IsValidation(err error) bool {
	return KindOf(err) == ErrKindValidation
}

func IsConflict(err error) bool {
	return KindOf(err) == ErrKindOperationConflict
}

func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}
