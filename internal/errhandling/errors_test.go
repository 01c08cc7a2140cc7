// Package errhandling provides error types and classification for upstream calls.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"

	"github.com/canectors/cdp-inventory/pkg/inventory"
)

// TestErrorCategory_Kind tests the projection of categories onto report kinds.
func TestErrorCategory_Kind(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		want     inventory.ErrorKind
	}{
		{CategoryNetwork, inventory.KindUnexpected},
		{CategoryAuthentication, inventory.KindValidation},
		{CategoryValidation, inventory.KindValidation},
		{CategoryRateLimit, inventory.KindUnexpected},
		{CategoryServer, inventory.KindUnexpected},
		{CategoryNotFound, inventory.KindValidation},
		{CategoryUnknown, inventory.KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			if got := tt.category.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestClassifiedError tests the ClassifiedError type.
func TestClassifiedError(t *testing.T) {
	t.Run("Error message formatting", func(t *testing.T) {
		err := &ClassifiedError{
			Category:    CategoryNetwork,
			Retryable:   true,
			Message:     "connection refused",
			OriginalErr: errors.New("dial tcp: connection refused"),
		}

		errorStr := err.Error()
		if !strings.Contains(errorStr, "network") || !strings.Contains(errorStr, "connection refused") {
			t.Errorf("Error() = %v, want to contain 'network' and 'connection refused'", errorStr)
		}
	})

	t.Run("Status code is included", func(t *testing.T) {
		err := ClassifyHTTPStatus(503, "")
		if !strings.Contains(err.Error(), "status 503") {
			t.Errorf("Error() = %v, want to contain status 503", err.Error())
		}
	})

	t.Run("errors.Is reaches original error", func(t *testing.T) {
		original := errors.New("original error")
		err := NewValidationError("bad request", original)
		wrapped := fmt.Errorf("collect: %w", err)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is() = false, want true")
		}
	})
}

// TestClassifyHTTPStatus tests HTTP status code classification.
func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status        int
		wantCategory  ErrorCategory
		wantRetryable bool
	}{
		{400, CategoryValidation, false},
		{401, CategoryAuthentication, false},
		{403, CategoryAuthentication, false},
		{404, CategoryNotFound, false},
		{409, CategoryValidation, false},
		{422, CategoryValidation, false},
		{429, CategoryRateLimit, true},
		{500, CategoryServer, true},
		{502, CategoryServer, true},
		{503, CategoryServer, true},
		{504, CategoryServer, true},
		{507, CategoryServer, true},
		{302, CategoryUnknown, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			got := ClassifyHTTPStatus(tt.status, "")
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %v, want %v", got.Category, tt.wantCategory)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
			if got.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.status)
			}
		})
	}
}

func TestClassifyHTTPStatus_Detail(t *testing.T) {
	got := ClassifyHTTPStatus(403, "  INSUFFICIENT_ACCESS  ")
	if got.Message != "forbidden: INSUFFICIENT_ACCESS" {
		t.Errorf("Message = %q, want %q", got.Message, "forbidden: INSUFFICIENT_ACCESS")
	}
}

// TestClassifyNetworkError tests network error classification.
func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCategory  ErrorCategory
		wantRetryable bool
	}{
		{"nil error", nil, CategoryUnknown, false},
		{"deadline exceeded", context.DeadlineExceeded, CategoryNetwork, true},
		{"canceled", context.Canceled, CategoryNetwork, false},
		{
			"connection refused",
			&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			CategoryNetwork, true,
		},
		{"dns", &net.DNSError{Name: "acme.my.salesforce.com", Err: "no such host"}, CategoryNetwork, true},
		{"url", &url.Error{Op: "Get", URL: "https://api.hubapi.com", Err: errors.New("eof")}, CategoryNetwork, true},
		{"plain", errors.New("something odd"), CategoryUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyNetworkError(tt.err)
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %v, want %v", got.Category, tt.wantCategory)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
		})
	}
}

// TestClassifyError tests generic classification.
func TestClassifyError(t *testing.T) {
	t.Run("already classified is returned as is", func(t *testing.T) {
		original := ClassifyHTTPStatus(404, "no such object")
		if got := ClassifyError(fmt.Errorf("wrap: %w", original)); got != original {
			t.Errorf("ClassifyError() = %v, want the original classified error", got)
		}
	})

	t.Run("wrapped deadline is network", func(t *testing.T) {
		got := ClassifyError(fmt.Errorf("query: %w", context.DeadlineExceeded))
		if got.Category != CategoryNetwork {
			t.Errorf("Category = %v, want %v", got.Category, CategoryNetwork)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if got := ClassifyError(nil); got.Retryable {
			t.Error("nil error must not be retryable")
		}
	})
}

// TestDescribe tests the conversion of job failures into report descriptors.
func TestDescribe(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    inventory.ErrorKind
		wantMessage string
	}{
		{
			name:        "validation keeps its message",
			err:         Validationf("object_name is required"),
			wantKind:    inventory.KindValidation,
			wantMessage: "object_name is required",
		},
		{
			name:        "permission denied is validation",
			err:         NewAuthenticationError(403, "permission denied for tickets", nil),
			wantKind:    inventory.KindValidation,
			wantMessage: "permission denied for tickets",
		},
		{
			name:        "server error is prefixed",
			err:         ClassifyHTTPStatus(502, "upstream down"),
			wantKind:    inventory.KindUnexpected,
			wantMessage: "Unexpected error: server error (status 502): bad gateway: upstream down",
		},
		{
			name:        "unclassified error is prefixed",
			err:         errors.New("index out of range"),
			wantKind:    inventory.KindUnexpected,
			wantMessage: "Unexpected error: index out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.err)
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestDefaultRetryableStatusCodes_ReturnsCopy(t *testing.T) {
	codes := DefaultRetryableStatusCodes()
	codes[0] = 0
	if DefaultRetryableStatusCodes()[0] != 429 {
		t.Error("DefaultRetryableStatusCodes() must return a copy")
	}
}
