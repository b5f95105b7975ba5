package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeLocked       ErrorType = "LOCKED"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeAccountLocked      ErrorCode = "ACCOUNT_LOCKED"
	ErrCodeAccountBlocked     ErrorCode = "ACCOUNT_BLOCKED"
	ErrCodeSessionInvalidated ErrorCode = "SESSION_INVALIDATED"
	ErrCodeTokenMalformed     ErrorCode = "TOKEN_MALFORMED"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	ErrCodePermissionDenied   ErrorCode = "PERMISSION_DENIED"

	ErrCodeCycleDetected        ErrorCode = "CYCLE_DETECTED"
	ErrCodeInvalidLevelOrdering ErrorCode = "INVALID_LEVEL_ORDERING"
	ErrCodeImmutableEntity      ErrorCode = "IMMUTABLE_ENTITY"
	ErrCodePartialBatchRejected ErrorCode = "PARTIAL_BATCH_REJECTED"

	ErrCodeRoleNotFound    ErrorCode = "ROLE_NOT_FOUND"
	ErrCodeAppNotFound     ErrorCode = "APP_NOT_FOUND"
	ErrCodeFeatureNotFound ErrorCode = "FEATURE_NOT_FOUND"
	ErrCodeAppInactive     ErrorCode = "APP_INACTIVE"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match sentinel AppErrors by code so that wrapped or
// detail-enriched copies still compare equal to the sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	clone := *e
	clone.Cause = cause
	return &clone
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Messages() string {
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// LockoutDetails rides on ACCOUNT_LOCKED errors so callers get the retry
// window without parsing the message.
type LockoutDetails struct {
	Stage      int       `json:"stage"`
	RetryAfter time.Time `json:"retry_after"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewLockedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeLocked,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusLocked,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

var (
	// Credential and lockout failures share one response shape: a caller must
	// not be able to tell a missing identifier from a wrong password.
	ErrInvalidCredentials = NewUnauthorizedError("invalid identifier or password", ErrCodeInvalidCredentials)
	ErrAccountBlocked     = NewLockedError("account is blocked, contact an administrator", ErrCodeAccountBlocked)
	ErrSessionInvalidated = NewUnauthorizedError("session is no longer active", ErrCodeSessionInvalidated)
	ErrTokenMalformed     = NewUnauthorizedError("token is malformed", ErrCodeTokenMalformed)
	ErrTokenExpired       = NewUnauthorizedError("token has expired", ErrCodeTokenExpired)
	ErrPermissionDenied   = NewForbiddenError("permission denied", ErrCodePermissionDenied)

	ErrCycleDetected        = NewConflictError("hierarchy edge would create a cycle", ErrCodeCycleDetected)
	ErrInvalidLevelOrdering = NewValidationError("child role level must not outrank parent", ErrCodeInvalidLevelOrdering)
	ErrImmutableEntity      = NewConflictError("system entity cannot be modified", ErrCodeImmutableEntity)
	ErrPartialBatchRejected = NewValidationError("bulk mapping rejected, no rows written", ErrCodePartialBatchRejected)

	ErrRoleNotFound    = NewNotFoundError("role not found", ErrCodeRoleNotFound)
	ErrAppNotFound     = NewNotFoundError("app not found", ErrCodeAppNotFound)
	ErrFeatureNotFound = NewNotFoundError("feature not found", ErrCodeFeatureNotFound)
	ErrAppInactive     = NewValidationError("app is inactive", ErrCodeAppInactive)
)

// NewAccountLockedError builds an ACCOUNT_LOCKED error carrying the stage and
// retry window.
func NewAccountLockedError(stage int, retryAfter time.Time) *AppError {
	return NewLockedError("account temporarily locked", ErrCodeAccountLocked).
		WithDetails(LockoutDetails{Stage: stage, RetryAfter: retryAfter})
}

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
