package optimization

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the optimizer wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	// ErrConfigMismatch: weights/targets length mismatch, or the space
	// adapter was built for a different parameter space.
	ErrConfigMismatch = errors.New("configuration mismatch")
	// ErrTargetMismatch: registered performance columns differ from the
	// declared optimization targets.
	ErrTargetMismatch = errors.New("optimization target mismatch")
	// ErrContextConsistency: context must always be given or never be given.
	ErrContextConsistency = errors.New("context must always be added or never be added")
	// ErrRowCountMismatch: config/performance/context/metadata row counts disagree.
	ErrRowCountMismatch = errors.New("row count mismatch")
	// ErrShapeMismatch: configuration columns do not match a parameter space.
	ErrShapeMismatch = errors.New("configuration shape mismatch")
	// ErrEmptyHistory: no observations registered yet.
	ErrEmptyHistory = errors.New("no observations registered yet")
	// ErrInvalidValue: a value outside its declared domain.
	ErrInvalidValue = errors.New("invalid value")
	// ErrNotSupported: a strategy declines an operation.
	ErrNotSupported = errors.New("operation not supported")
	// ErrContextUnsupported is a warning, never a returned failure: context
	// or metadata was supplied to a strategy that ignores it.
	ErrContextUnsupported = errors.New("not implemented: ignoring context")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error kind or cause.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if prefix != "" {
		if msg == "" {
			msg = prefix
		} else {
			msg = prefix + ": " + msg
		}
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// Errorf creates an error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     kind,
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Kind returns the sentinel kind wrapped by err, or nil when err does not
// carry one of the optimizer's kinds.
func Kind(err error) error {
	for _, k := range []error{
		ErrConfigMismatch, ErrTargetMismatch, ErrContextConsistency,
		ErrRowCountMismatch, ErrShapeMismatch, ErrEmptyHistory,
		ErrInvalidValue, ErrNotSupported, ErrContextUnsupported,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
