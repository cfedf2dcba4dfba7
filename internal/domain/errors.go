package domain

import (
	"errors"
	"fmt"
)

// Code classifies an error for API mapping and event metadata.
type Code string

// Error codes surfaced by the command processor.
const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeForbidden  Code = "FORBIDDEN"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Conflict rules give callers a machine-readable reason alongside the code.
const (
	RuleNameTaken         = "name_taken"
	RuleCircularDep       = "circular_dependency"
	RuleActiveDeployment  = "active_deployment_exists"
	RuleDependentsExist   = "dependents_exist"
	RuleIllegalTransition = "illegal_transition"
	RuleVersionMismatch   = "version_mismatch"
	RuleProjectArchived   = "project_archived"
	RuleDuplicateEdge     = "duplicate_relationship"
)

// Error is the domain error carried across the processor boundary.
type Error struct {
	Code    Code
	Rule    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Rule, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// NewValidation builds a validation error.
func NewValidation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound reports a missing resource.
func NewNotFound(resource, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// NewConflict reports an invariant violation with its rule.
func NewConflict(rule, format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// NewForbidden reports an ownership violation.
func NewForbidden(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// NewInternal wraps a collaborator failure.
func NewInternal(err error, format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the domain code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// RuleOf extracts the conflict rule, if any.
func RuleOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Rule
	}
	return ""
}
