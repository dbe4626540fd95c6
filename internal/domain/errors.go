// Package domain defines core types, interfaces, and errors for the query guard.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// PolicyViolationError indicates that execution was refused because the
// query review produced blocking findings.
type PolicyViolationError struct {
	Message  string
	Findings []Finding
}

func (e *PolicyViolationError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrPolicyViolation creates a PolicyViolationError carrying the findings
// that caused the refusal.
func ErrPolicyViolation(findings []Finding, format string, args ...interface{}) *PolicyViolationError {
	return &PolicyViolationError{Message: fmt.Sprintf(format, args...), Findings: findings}
}
