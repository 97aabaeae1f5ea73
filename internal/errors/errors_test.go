package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Database("failed to load session", cause)

	assert.Equal(t, "DATABASE_ERROR: failed to load session (cause: connection refused)", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "NOT_FOUND: session not found", NotFound("session").Error())
}

func TestAsAppError_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("accept: %w", InvalidState("session is not waiting"))

	appErr, ok := AsAppError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrCodeInvalidState, appErr.Code)
	assert.True(t, IsCode(wrapped, ErrCodeInvalidState))
	assert.False(t, IsCode(wrapped, ErrCodeConflict))

	_, ok = AsAppError(errors.New("plain"))
	assert.False(t, ok)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeInvalidToken, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeInvalidState, http.StatusConflict},
		{ErrCodeOutsideWorkingHours, http.StatusServiceUnavailable},
		{ErrCodeHandoffDisabled, http.StatusServiceUnavailable},
		{ErrCodeTransport, http.StatusBadGateway},
		{ErrCodeDatabase, http.StatusInternalServerError},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestWithDetails(t *testing.T) {
	err := Conflict("active session exists").WithDetails(map[string]string{"sessionId": "s1"})
	assert.Equal(t, map[string]string{"sessionId": "s1"}, err.Details)
}
