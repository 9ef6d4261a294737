package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Account not found")
		assert.Equal(t, "NOT_FOUND: Account not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("connection reset by peer")
		err := Wrap(ErrCodeNetworkFailure, "issue token: request failed", cause)
		assert.Contains(t, err.Error(), "NETWORK_FAILURE")
		assert.Contains(t, err.Error(), "issue token")
		assert.Contains(t, err.Error(), "connection reset by peer")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]int{"iErrCode": 1001}
		err := New(ErrCodeProtocolFailure, "login rejected").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"NotFound", func() *AppError { return NotFound("Account") }, ErrCodeNotFound},
		{"NotConfigured", func() *AppError { return NotConfigured("no interval") }, ErrCodeNotConfigured},
		{"AccountDisabled", func() *AppError { return AccountDisabled() }, ErrCodeAccountDisabled},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("interval", "must be positive") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("interval_minutes") }, ErrCodeMissingRequired},
		{"NetworkFailure", func() *AppError { return NetworkFailure("captcha", cause) }, ErrCodeNetworkFailure},
		{"ProtocolFailure", func() *AppError { return ProtocolFailure("token", "iErrCode=3") }, ErrCodeProtocolFailure},
		{"CaptchaInvalid", func() *AppError { return CaptchaInvalid("short") }, ErrCodeCaptchaInvalid},
		{"KeyError", func() *AppError { return KeyError(cause) }, ErrCodeKeyError},
		{"Exhausted", func() *AppError { return Exhausted(5) }, ErrCodeExhausted},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestExternal(t *testing.T) {
	t.Run("wraps external service error", func(t *testing.T) {
		cause := errors.New("timeout")
		err := External("OCR", cause)
		assert.Equal(t, ErrCodeExternal, err.Code)
		assert.Contains(t, err.Message, "OCR")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeNotFound, "Account not found")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("extracts AppError through fmt wrapping", func(t *testing.T) {
		original := CaptchaInvalid("bad")
		extracted, ok := AsAppError(fmt.Errorf("resolve: %w", original))
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := New(ErrCodeKeyError, "test")
		assert.Equal(t, ErrCodeKeyError, GetCode(err))
		assert.True(t, HasCode(err, ErrCodeKeyError))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
		assert.False(t, HasCode(err, ErrCodeNetworkFailure))
	})
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(Exhausted(5)))
	assert.False(t, IsAppError(errors.New("standard error")))
}
