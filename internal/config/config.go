package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/canectors/cdp-inventory/internal/errhandling"
)

// MaxRequestBytes bounds the size of a request document read from a stream.
const MaxRequestBytes = 1 << 20

// ReadRequest reads a JSON or YAML request from r and converts it.
// Failures are validation errors listing every problem found.
func ReadRequest(r io.Reader, format string) (*Request, error) {
	content, err := io.ReadAll(io.LimitReader(r, MaxRequestBytes+1))
	if err != nil {
		return nil, errhandling.NewValidationError("failed to read request body", err)
	}
	if len(content) > MaxRequestBytes {
		return nil, errhandling.Validationf("request body exceeds %d bytes", MaxRequestBytes)
	}
	result := LoadString(string(content), format)
	if !result.IsValid() {
		return nil, ResultError(result)
	}
	return result.Request, nil
}

// ResultError summarizes the errors of an invalid result as one validation
// error. It returns nil for a valid result.
func ResultError(result *Result) error {
	errs := result.AllErrors()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	kind := "invalid request"
	if len(result.ParseErrors) > 0 {
		kind = "malformed request"
	}
	return errhandling.NewValidationError(fmt.Sprintf("%s: %s", kind, strings.Join(msgs, "; ")), errs[0])
}
