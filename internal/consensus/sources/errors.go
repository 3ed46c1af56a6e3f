package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCategory defines the normalized failure taxonomy
type ErrorCategory string

const (
	// ErrorTimeout indicates the source took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the source returned invalid/malformed data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates credential or permission issues
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates the source is unavailable
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorNotFound indicates the requested record doesn't exist
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorInternal indicates an unexpected internal error
	ErrorInternal ErrorCategory = "internal"
)

// ProviderError wraps source failures with normalized categorization
type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
	Retryable  bool // Whether this error is worth retrying
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("source %s [%s]: %s: %v", e.ProviderID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("source %s [%s]: %s", e.ProviderID, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a new normalized source error
func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	retryable := category == ErrorTimeout ||
		category == ErrorProviderOutage ||
		category == ErrorRateLimited

	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// classifyStatus maps a non-2xx response to a category.
func classifyStatus(providerID string, status int) *ProviderError {
	msg := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return NewProviderError(ErrorAuthentication, providerID, msg, nil)
	case status == http.StatusNotFound:
		return NewProviderError(ErrorNotFound, providerID, msg, nil)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrorRateLimited, providerID, msg, nil)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return NewProviderError(ErrorTimeout, providerID, msg, nil)
	case status >= 500:
		return NewProviderError(ErrorProviderOutage, providerID, msg, nil)
	default:
		return NewProviderError(ErrorBadData, providerID, msg, nil)
	}
}

// classifyTransport maps a failed round trip to a category.
func classifyTransport(providerID string, err error) *ProviderError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewProviderError(ErrorTimeout, providerID, "request timed out", err)
	}
	return NewProviderError(ErrorProviderOutage, providerID, "request failed", err)
}
