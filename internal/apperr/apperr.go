// Package apperr defines the stable error taxonomy surfaced to callers.
// Every error carries a machine-matchable code plus a human message and,
// for validation failures, the field and an actionable suggestion.
package apperr

import (
	"errors"
	"fmt"
)

// Code is the stable discriminator callers may match on.
type Code string

const (
	CodeValidation            Code = "validation"
	CodeConflict              Code = "conflict"
	CodeNotFound              Code = "not_found"
	CodeReferential           Code = "referential"
	CodeStoreUnavailable      Code = "store_unavailable"
	CodeRendering             Code = "rendering"
	CodeBackupFailed          Code = "backup_failed"
	CodeFilesystemFailed      Code = "filesystem_failed"
	CodeResolverUnavailable   Code = "resolver_unavailable"
	CodeResolverRejectedConf  Code = "resolver_rejected_config"
	CodeTimeout               Code = "timeout"
	CodeRollbackSucceeded     Code = "rollback_succeeded"
	CodeFatal                 Code = "fatal"
	CodeRateLimited           Code = "rate_limited"
	CodePermissionDenied      Code = "permission_denied"
)

// Error is the structured error type used across the control plane.
type Error struct {
	Code       Code   `json:"error_code"`
	Field      string `json:"field,omitempty"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion,omitempty"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a field-level validation error with a suggestion.
func Validation(field, reason, suggestion string) *Error {
	return &Error{Code: CodeValidation, Field: field, Reason: reason, Suggestion: suggestion}
}

// Conflict reports a uniqueness violation on field.
func Conflict(field, reason string) *Error {
	return &Error{Code: CodeConflict, Field: field, Reason: reason}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return &Error{Code: CodeNotFound, Reason: fmt.Sprintf("%s %q not found", entity, id)}
}

// Referential reports a parent/child integrity violation.
func Referential(parent, child string) *Error {
	return &Error{
		Code:   CodeReferential,
		Reason: fmt.Sprintf("%s still references %s", child, parent),
	}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf extracts the taxonomy code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is lets errors.Is match on codes: errors.Is(err, &Error{Code: CodeNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}
