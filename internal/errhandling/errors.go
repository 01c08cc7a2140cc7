// Package errhandling provides error types, classification, and retry utilities.
// This file defines error categories, their projection onto report error kinds,
// and the helpers collectors use to build classified failures.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/canectors/cdp-inventory/pkg/inventory"
)

// ErrorCategory represents the type/category of an error.
// Categories help determine the appropriate error handling strategy.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryNetwork represents network-related errors (timeout, connection refused, DNS).
	// Network errors are typically transient and retryable.
	CategoryNetwork ErrorCategory = "network"

	// CategoryAuthentication represents authentication and permission errors (401, 403).
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryValidation represents malformed requests, missing options and
	// incomplete credentials.
	CategoryValidation ErrorCategory = "validation"

	// CategoryRateLimit represents rate limiting errors (429).
	CategoryRateLimit ErrorCategory = "rate_limit"

	// CategoryServer represents upstream server errors (5xx).
	CategoryServer ErrorCategory = "server"

	// CategoryNotFound represents unknown objects or properties (404).
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryUnknown represents unclassified errors, including unforeseen
	// upstream response shapes.
	CategoryUnknown ErrorCategory = "unknown"
)

// Kind projects the category onto the coarse kind used in reports.
// Failures the caller can correct are validation-class; everything else is
// unexpected.
func (c ErrorCategory) Kind() inventory.ErrorKind {
	switch c {
	case CategoryAuthentication, CategoryValidation, CategoryNotFound:
		return inventory.KindValidation
	default:
		return inventory.KindUnexpected
	}
}

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Retryable indicates whether the error is transient and can be retried.
	Retryable bool

	// StatusCode is the upstream HTTP status code (0 if not an HTTP error).
	StatusCode int

	// Message is a human-readable error message.
	Message string

	// OriginalErr is the underlying error that was classified.
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Unwrap returns the original error for use with errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

// Kind returns the report kind of the error.
func (e *ClassifiedError) Kind() inventory.ErrorKind {
	return e.Category.Kind()
}

// httpStatusClasses maps well-known status codes to their classification.
var httpStatusClasses = map[int]struct {
	category  ErrorCategory
	retryable bool
	message   string
}{
	400: {CategoryValidation, false, "bad request"},
	401: {CategoryAuthentication, false, "unauthorized"},
	403: {CategoryAuthentication, false, "forbidden"},
	404: {CategoryNotFound, false, "not found"},
	422: {CategoryValidation, false, "unprocessable entity"},
	429: {CategoryRateLimit, true, "rate limited"},
	500: {CategoryServer, true, "internal server error"},
	502: {CategoryServer, true, "bad gateway"},
	503: {CategoryServer, true, "service unavailable"},
	504: {CategoryServer, true, "gateway timeout"},
}

// ClassifyHTTPStatus classifies an upstream HTTP failure based on status code.
// When detail is not empty it is appended to the generic status message so the
// upstream explanation reaches the report.
//
// Classification rules:
//   - 401, 403: Authentication errors (not retryable)
//   - 400, 422, other 4xx: Validation errors (not retryable)
//   - 404: Not found errors (not retryable)
//   - 429: Rate limit errors (retryable)
//   - 5xx: Server errors (retryable)
//   - Anything else: CategoryUnknown (retryable)
func ClassifyHTTPStatus(statusCode int, detail string) *ClassifiedError {
	classified := &ClassifiedError{StatusCode: statusCode}

	if class, ok := httpStatusClasses[statusCode]; ok {
		classified.Category = class.category
		classified.Retryable = class.retryable
		classified.Message = class.message
	} else {
		switch {
		case statusCode >= 500:
			classified.Category, classified.Retryable, classified.Message = CategoryServer, true, "server error"
		case statusCode >= 400:
			classified.Category, classified.Retryable, classified.Message = CategoryValidation, false, "client error"
		default:
			classified.Category, classified.Retryable, classified.Message = CategoryUnknown, true, "unexpected status"
		}
	}

	if detail = strings.TrimSpace(detail); detail != "" {
		classified.Message = classified.Message + ": " + detail
	}
	return classified
}

// ClassifyNetworkError classifies a transport-level error.
// Timeouts, refused connections, DNS and URL errors are retryable network
// errors; a canceled context is not retryable.
func ClassifyNetworkError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError("request timeout", err)
	}

	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{
			Category:    CategoryNetwork,
			Retryable:   false,
			Message:     "context canceled",
			OriginalErr: err,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewNetworkError(fmt.Sprintf("network error: %s %s", opErr.Op, opErr.Net), err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewNetworkError(fmt.Sprintf("DNS error: %s", dnsErr.Name), err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return NewNetworkError("request timeout", err)
		}
		return NewNetworkError(fmt.Sprintf("URL error: %s %s", urlErr.Op, urlErr.URL), err)
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return NewNetworkError("timeout", err)
	}

	return &ClassifiedError{
		Category:    CategoryUnknown,
		Retryable:   true,
		Message:     err.Error(),
		OriginalErr: err,
	}
}

// ClassifyError classifies any error into a ClassifiedError.
// Already classified errors are returned as is.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &urlErr) {
		return ClassifyNetworkError(err)
	}

	return &ClassifiedError{
		Category:    CategoryUnknown,
		Retryable:   true,
		Message:     err.Error(),
		OriginalErr: err,
	}
}

// IsRetryable returns true if the error is classified as retryable.
// Nil errors return false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Retryable
}

// GetErrorCategory returns the error category for a given error.
// Returns CategoryUnknown for nil or unclassified errors.
func GetErrorCategory(err error) ErrorCategory {
	var classified *ClassifiedError
	if err != nil && errors.As(err, &classified) {
		return classified.Category
	}
	return CategoryUnknown
}

// Describe converts a job failure into its report descriptor.
// Unexpected messages carry the UnexpectedPrefix.
func Describe(err error) inventory.ErrorDescriptor {
	if err == nil {
		return inventory.ErrorDescriptor{Kind: inventory.KindUnexpected, Message: inventory.UnexpectedPrefix + "nil error"}
	}

	var classified *ClassifiedError
	if !errors.As(err, &classified) {
		return inventory.ErrorDescriptor{Kind: inventory.KindUnexpected, Message: inventory.UnexpectedPrefix + err.Error()}
	}

	kind := classified.Kind()
	message := classified.Message
	if kind == inventory.KindUnexpected {
		message = inventory.UnexpectedPrefix + classified.Error()
	}
	return inventory.ErrorDescriptor{Kind: kind, Message: message}
}

// defaultRetryableStatusCodes is the list of HTTP status codes that are retryable by default.
var defaultRetryableStatusCodes = []int{429, 500, 502, 503, 504}

// DefaultRetryableStatusCodes returns a copy of the default retryable HTTP status codes.
func DefaultRetryableStatusCodes() []int {
	result := make([]int, len(defaultRetryableStatusCodes))
	copy(result, defaultRetryableStatusCodes)
	return result
}

// NewNetworkError creates a ClassifiedError for network errors.
func NewNetworkError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryNetwork,
		Retryable:   true,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewAuthenticationError creates a ClassifiedError for rejected credentials or denied permissions.
func NewAuthenticationError(statusCode int, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryAuthentication,
		StatusCode:  statusCode,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewValidationError creates a ClassifiedError for validation errors.
func NewValidationError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// Validationf formats a validation error message.
func Validationf(format string, args ...interface{}) *ClassifiedError {
	return NewValidationError(fmt.Sprintf(format, args...), nil)
}

// NewUnexpectedError creates a ClassifiedError for upstream responses that do
// not have the expected shape. They are not retried.
func NewUnexpectedError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryUnknown,
		Message:     message,
		OriginalErr: originalErr,
	}
}
