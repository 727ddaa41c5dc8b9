package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/autotune/internal/logging"
	"github.com/copyleftdev/autotune/internal/optimization"
)

func TestErrorFormatting(t *testing.T) {
	err := Errorf(ErrNotFound, "session %s", "abc").WithOperation("GetSession").WithComponent("server")
	assert.Equal(t, "session abc: operation=GetSession, component=server: not found", err.Error())
	assert.NotEmpty(t, err.StackTrace())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))
	assert.Nil(t, Wrapf(nil, "x %d", 1))

	base := stderrors.New("disk full")
	w := Wrapf(base, "write %s", "log")
	assert.Equal(t, "write log: disk full", w.Error())
	assert.True(t, Is(w, base))

	again := Wrap(w, "retry")
	assert.Same(t, w, again, "an *Error is annotated in place")
	assert.Equal(t, "retry: disk full", again.Error())
}

func TestIsAsUnwrap(t *testing.T) {
	inner := optimization.Errorf(optimization.ErrShapeMismatch, "3 columns").WithOperation("Register")
	err := fmt.Errorf("session x: %w", Wrap(inner, "register"))

	assert.True(t, Is(err, optimization.ErrShapeMismatch))
	assert.False(t, Is(err, ErrNotFound))

	var e *Error
	require.True(t, As(err, &e))
	assert.Equal(t, "register", e.Message)

	var oe *optimization.Error
	require.True(t, As(err, &oe))
	assert.Equal(t, "Register", oe.Op)

	assert.Equal(t, e, Unwrap(err))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{New(ErrNotFound, "x"), http.StatusNotFound, "not_found"},
		{New(ErrSessionLimit, "x"), http.StatusTooManyRequests, "session_limit"},
		{optimization.Errorf(optimization.ErrTargetMismatch, "x"), http.StatusBadRequest, "target_mismatch"},
		{optimization.Errorf(optimization.ErrInvalidValue, "x"), http.StatusUnprocessableEntity, "invalid_value"},
		{optimization.WrapError(optimization.Errorf(optimization.ErrEmptyHistory, "x"), "best"), http.StatusConflict, "empty_history"},
		{optimization.Errorf(optimization.ErrNotSupported, "x"), http.StatusNotImplemented, "not_supported"},
		{Wrap(optimization.Errorf(optimization.ErrShapeMismatch, "x"), "").WithStatus(http.StatusTeapot), http.StatusTeapot, "shape_mismatch"},
		{stderrors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusCode(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)

	h := ErrorHandler(logger)(RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("strategy exploded")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": {"code": "internal", "message": "Internal Server Error"}}`, rec.Body.String())
	assert.Contains(t, buf.String(), "Recovered from panic")
	assert.Contains(t, buf.String(), "strategy exploded")
	assert.Contains(t, buf.String(), "Request error")
}
