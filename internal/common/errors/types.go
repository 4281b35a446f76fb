package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConfiguration represents missing or invalid secrets and settings
	ErrTypeConfiguration ErrorType = "configuration"
	// ErrTypeCSRF represents an OAuth state that does not match the stored one
	ErrTypeCSRF ErrorType = "csrf_validation"
	// ErrTypeProviderHTTP represents a non-retryable provider response
	ErrTypeProviderHTTP ErrorType = "provider_http"
	// ErrTypeRateLimit represents provider throttling that outlived the retries
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeTokenExpired represents a token the provider no longer accepts
	ErrTypeTokenExpired ErrorType = "token_expired"
	// ErrTypeEncryption represents a vault failure (wrong key, corrupted data)
	ErrTypeEncryption ErrorType = "encryption"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(contextParts)
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ConfigurationError creates a new configuration error
func ConfigurationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfiguration,
		Message: msg,
	}
}

// CSRFError creates a new state validation error
func CSRFError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeCSRF,
		Message: msg,
	}
}

// ProviderHTTPError creates an error for a provider response that must not be retried
func ProviderHTTPError(status int, msg string) *AppError {
	return &AppError{
		Type:    ErrTypeProviderHTTP,
		Message: msg,
		Code:    fmt.Sprintf("%d", status),
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// TokenExpiredError creates an error that requires the user to reconnect
func TokenExpiredError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeTokenExpired,
		Message: msg,
	}
}

// EncryptionError creates a new vault error
func EncryptionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeEncryption,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error, or any error it wraps, is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	for e := err; stderrors.As(e, &appErr); e = appErr.Cause {
		if appErr.Type == errType {
			return true
		}
		if appErr.Cause == nil {
			break
		}
	}
	return false
}

// GetType returns the type of the outermost AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// Message returns the user-facing message of an AppError, or err.Error()
func Message(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// HTTPStatus returns the provider status carried by a provider_http error,
// or 0 when err is not one.
func HTTPStatus(err error) int {
	var appErr *AppError
	if !stderrors.As(err, &appErr) || appErr.Type != ErrTypeProviderHTTP {
		return 0
	}
	status, convErr := strconv.Atoi(appErr.Code)
	if convErr != nil {
		return 0
	}
	return status
}
