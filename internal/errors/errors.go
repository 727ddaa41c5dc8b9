// Package errors provides the service's error type: a stack-capturing
// error that knows its HTTP status and a stable machine-readable code.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/autotune/internal/optimization"
)

// Service level kinds. Optimizer kinds live in the optimization package.
var (
	ErrNotFound     = stderrors.New("not found")
	ErrBadRequest   = stderrors.New("bad request")
	ErrSessionLimit = stderrors.New("session limit reached")
)

// Error represents an error with context and stack trace.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// Status overrides the HTTP status derived from Err when non-zero.
	Status int
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Component != "" {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("component=")
		builder.WriteString(e.Component)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithMessage adds a message to the error.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithStatus pins the HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{
		Err:     kind,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...interface{}) *Error {
	return &Error{
		Err:     kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Wrap wraps an error with additional context. An existing *Error keeps
// its stack and only has its message replaced.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		e = &Error{
			Err:   err,
			Stack: getStackTrace(),
		}
	}

	if msg != "" {
		e.Message = msg
	}

	return e
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

type kindInfo struct {
	kind   error
	status int
	code   string
}

var kinds = []kindInfo{
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{ErrSessionLimit, http.StatusTooManyRequests, "session_limit"},
	{optimization.ErrConfigMismatch, http.StatusBadRequest, "config_mismatch"},
	{optimization.ErrTargetMismatch, http.StatusBadRequest, "target_mismatch"},
	{optimization.ErrRowCountMismatch, http.StatusBadRequest, "row_count_mismatch"},
	{optimization.ErrShapeMismatch, http.StatusBadRequest, "shape_mismatch"},
	{optimization.ErrInvalidValue, http.StatusUnprocessableEntity, "invalid_value"},
	{optimization.ErrContextConsistency, http.StatusConflict, "context_consistency"},
	{optimization.ErrEmptyHistory, http.StatusConflict, "empty_history"},
	{optimization.ErrNotSupported, http.StatusNotImplemented, "not_supported"},
	{optimization.ErrContextUnsupported, http.StatusNotImplemented, "context_unsupported"},
}

func lookup(err error) (kindInfo, bool) {
	for _, k := range kinds {
		if Is(err, k.kind) {
			return k, true
		}
	}
	return kindInfo{}, false
}

// StatusCode maps err onto an HTTP status. Unknown errors are 500.
func StatusCode(err error) int {
	var e *Error
	if As(err, &e) && e.Status != 0 {
		return e.Status
	}
	if k, ok := lookup(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// Code returns a stable identifier for the error kind, "internal" when
// the kind is unknown.
func Code(err error) string {
	if k, ok := lookup(err); ok {
		return k.code
	}
	return "internal"
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's
// type contains an Unwrap method returning error.
// Otherwise, Unwrap returns nil.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
