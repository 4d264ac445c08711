package resolver

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a resolution failure for reporting and retry
// decisions. Only conflicts carry a built-in retry (the bounded upload
// poll); everything else is surfaced to the caller immediately.
type ErrorClass string

const (
	// ErrorClassMalformed indicates an unparseable import reference:
	// unknown query parameter, invalid or blank version specifier.
	ErrorClassMalformed ErrorClass = "malformed"

	// ErrorClassNotFound indicates the plugin or blueprint is absent
	// from both the catalog and the marketplace for the requested
	// constraints and distribution.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassTransport indicates a network error or non-success
	// HTTP status against the catalog or the marketplace.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassConflict indicates the bounded poll after a concurrent
	// upload was exhausted without the competing artifact appearing.
	ErrorClassConflict ErrorClass = "conflict"
)

// ResolutionError is a classified import resolution failure carrying
// enough structured detail to be rendered to an operator.
type ResolutionError struct {
	// Class is the failure classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable failure message.
	Message string `json:"message"`

	// Plugin is the plugin name being resolved, if applicable.
	Plugin string `json:"plugin,omitempty"`

	// Constraint is the version constraint that was searched for.
	Constraint string `json:"constraint,omitempty"`

	// Distribution is the target distribution that was searched for.
	Distribution string `json:"distribution,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Plugin != "" {
		msg += fmt.Sprintf(" (plugin=%s", e.Plugin)
		if e.Constraint != "" {
			msg += fmt.Sprintf(", version=%s", e.Constraint)
		}
		if e.Distribution != "" {
			msg += fmt.Sprintf(", distribution=%s", e.Distribution)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithPlugin adds plugin context to the error.
func (e *ResolutionError) WithPlugin(name string) *ResolutionError {
	e.Plugin = name
	return e
}

// WithConstraint adds the searched version constraint to the error.
func (e *ResolutionError) WithConstraint(constraint string) *ResolutionError {
	e.Constraint = constraint
	return e
}

// WithDistribution adds the searched distribution to the error.
func (e *ResolutionError) WithDistribution(distribution string) *ResolutionError {
	e.Distribution = distribution
	return e
}

// NewMalformedError creates a malformed-reference error.
func NewMalformedError(message string, err error) *ResolutionError {
	return &ResolutionError{Class: ErrorClassMalformed, Message: message, Err: err}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *ResolutionError {
	return &ResolutionError{Class: ErrorClassNotFound, Message: message, Err: err}
}

// NewTransportError creates a transport-failure error.
func NewTransportError(message string, err error) *ResolutionError {
	return &ResolutionError{Class: ErrorClassTransport, Message: message, Err: err}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, err error) *ResolutionError {
	return &ResolutionError{Class: ErrorClassConflict, Message: message, Err: err}
}

// IsMalformed returns true if the error is a malformed-reference error.
func IsMalformed(err error) bool {
	return hasClass(err, ErrorClassMalformed)
}

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool {
	return hasClass(err, ErrorClassNotFound)
}

// IsTransport returns true if the error is a transport failure.
func IsTransport(err error) bool {
	return hasClass(err, ErrorClassTransport)
}

// IsConflict returns true if the error is an exhausted-conflict error.
func IsConflict(err error) bool {
	return hasClass(err, ErrorClassConflict)
}

func hasClass(err error, class ErrorClass) bool {
	var e *ResolutionError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}
