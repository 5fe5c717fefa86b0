package models

import "fmt"

// ValidationError reports malformed caller input. No state is mutated.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, a ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, a...)}
}

// IllegalTransitionError reports an operation that is not valid for the
// issue's current status. State is left unchanged.
type IllegalTransitionError struct {
	Op     string
	Status IssueStatus
	Detail string
}

func (e *IllegalTransitionError) Error() string {
	s := fmt.Sprintf("%s is not allowed while issue is %s", e.Op, e.Status)
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

// SequenceViolationError reports a day update submitted out of order.
type SequenceViolationError struct {
	Got      int
	Expected int
}

func (e *SequenceViolationError) Error() string {
	return fmt.Sprintf("day %d update out of order: expected day %d next", e.Got, e.Expected)
}

// NotFoundError reports an unknown issue id or tracking code.
type NotFoundError struct {
	Kind string // "issue", "department", "tracking code"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

// ConfigurationError reports an operational gap, such as a classifier label
// with no registered department. These are surfaced loudly, never swallowed.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }
