package errors

import (
	"errors"
	"fmt"
)

var (
	// Payment errors
	ErrConfigurationMissing = errors.New("no processor configuration for merchant")
	ErrGatewayRejection     = errors.New("payment rejected by gateway")
	ErrConfirmationTimeout  = errors.New("payment confirmation timed out")
	ErrOrderNotFound        = errors.New("order not found")
	ErrRunNotFound          = errors.New("workflow run not found")

	// Provider errors
	ErrProviderNotFound    = errors.New("payment provider not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderTimeout     = errors.New("provider request timeout")

	// Webhook errors
	ErrInvalidWebhookURL = errors.New("invalid webhook url")
	ErrInvalidPayload    = errors.New("webhook payload is not valid json")
	ErrAttemptNotFound   = errors.New("webhook attempt not found")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
