// Package domain defines the core domain models for ChatMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "CM-NODE-4090")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Node Lifecycle Errors (NODE)
// ============================================================================

var (
	// ErrNodeConflict indicates a re-initialization under a different identity.
	ErrNodeConflict = NewDomainError("CM-NODE-4090", "node already initialized with a different id")

	// ErrNodeNotInitialized indicates an operation before node initialization.
	ErrNodeNotInitialized = NewDomainError("CM-NODE-5030", "node not initialized")
)

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrStorageUnavailable indicates the persistence store is unreachable.
	ErrStorageUnavailable = NewDomainError("CM-STOR-5030", "storage unavailable")

	// ErrMessageNotFound indicates a lookup for an unknown message id.
	ErrMessageNotFound = NewDomainError("CM-STOR-4040", "message not found")
)

// ============================================================================
// Bus Errors (BUS)
// ============================================================================

var (
	// ErrBusUnavailable indicates the cluster pub/sub bus is unreachable.
	ErrBusUnavailable = NewDomainError("CM-BUS-5030", "bus unavailable")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrInvalidCredentials indicates the supplied credentials were rejected.
	ErrInvalidCredentials = NewDomainError("CM-AUTH-4010", "invalid credentials")

	// ErrTokenInvalid indicates the bearer token is missing or invalid.
	ErrTokenInvalid = NewDomainError("CM-AUTH-4011", "missing or invalid token")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates a malformed request payload or argument.
	ErrInvalidArgument = NewDomainError("CM-ARG-4001", "invalid argument")

	// ErrMessageValidation indicates message field validation failed.
	ErrMessageValidation = NewDomainError("CM-ARG-4002", "message validation failed")

	// ErrUserValidation indicates user field validation failed.
	ErrUserValidation = NewDomainError("CM-ARG-4003", "user validation failed")
)

// ============================================================================
// Server Errors (SRV)
// ============================================================================

var (
	// ErrRateLimited indicates too many requests from one client.
	ErrRateLimited = NewDomainError("CM-SRV-4290", "too many requests")

	// ErrInternalServer indicates an unexpected internal failure.
	ErrInternalServer = NewDomainError("CM-SRV-5000", "internal server error")
)
