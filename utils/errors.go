package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable reason codes returned to callers. Internal detail (which exact
// check failed) is logged but never leaks through the reason code.
const (
	ReasonValidation        = "validation_error"
	ReasonAuth              = "auth_error"
	ReasonScope             = "scope_error"
	ReasonCapExceeded       = "cap_exceeded"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonToken             = "token_error"
)

// AppError represents an application error with a stable reason code.
type AppError struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code int, reason, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// ValidationError creates a malformed-input error (bad PIN format, bad
// member id, non-positive points).
func ValidationError(message string, err error) *AppError {
	return NewAppError(http.StatusBadRequest, ReasonValidation, message, err)
}

// AuthError creates an authentication/session error. The message is kept
// generic so "account not found" and "wrong PIN" are indistinguishable.
func AuthError(message string, err error) *AppError {
	return NewAppError(http.StatusUnauthorized, ReasonAuth, message, err)
}

// ScopeError creates a subject/merchant mismatch or inactive-entity error.
func ScopeError(message string, err error) *AppError {
	return NewAppError(http.StatusForbidden, ReasonScope, message, err)
}

// CapExceededError creates a promotion-cap error.
func CapExceededError(message string, err error) *AppError {
	return NewAppError(http.StatusConflict, ReasonCapExceeded, message, err)
}

// InsufficientFundsError creates an over-redemption error.
func InsufficientFundsError(message string, err error) *AppError {
	return NewAppError(http.StatusConflict, ReasonInsufficientFunds, message, err)
}

// TokenError creates a token verification/consumption error.
func TokenError(message string, err error) *AppError {
	return NewAppError(http.StatusUnauthorized, ReasonToken, message, err)
}

// GetAppError returns the AppError if the error wraps one
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasReason checks whether an error carries the given reason code
func HasReason(err error, reason string) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Reason == reason
	}
	return false
}

// WrapError wraps an error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
