package config

import (
	"fmt"
	"strings"

	"github.com/canectors/cdp-inventory/internal/collector"
)

// Request is a decoded inventory request.
type Request struct {
	// Connections are the caller's connection descriptors, in input order
	Connections []collector.Connection
	// Options is the shared option set of every connection
	Options collector.Options
}

// ParseResult is the outcome of reading one request document.
type ParseResult struct {
	// Data is the decoded document, with JSON-compatible values
	Data map[string]interface{}
	// Errors lists syntax, format and I/O failures
	Errors []ParseError
	// FilePath is empty when the document came from a string or a reader
	FilePath string
	// Format is "json" or "yaml"
	Format string
}

// IsValid reports whether the document was read without errors.
func (r *ParseResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ParseError is a failure to read a document, with its location when known.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Offset  int64
	Message string
	// Type is one of the ErrorType constants
	Type string
}

// Error implements the error interface.
func (e ParseError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&sb, ", column %d", e.Column)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationResult is the outcome of checking a document against the
// request schema.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError is a schema violation.
type ValidationError struct {
	// Path is the JSON pointer of the offending value (e.g. "/options/page_size")
	Path string
	// Type is a short violation class (required, type, range, ...)
	Type     string
	Expected string
	Actual   string
	Message  string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Result combines parsing, schema validation and conversion of a request.
type Result struct {
	Data             map[string]interface{}
	ParseErrors      []ParseError
	ValidationErrors []ValidationError
	FilePath         string
	Format           string

	// Request is set when the document is valid
	Request *Request
}

// IsValid reports whether the document parsed, validated and converted.
func (r *Result) IsValid() bool {
	return len(r.ParseErrors) == 0 && len(r.ValidationErrors) == 0
}

// AllErrors returns parse errors followed by validation errors.
func (r *Result) AllErrors() []error {
	errs := make([]error, 0, len(r.ParseErrors)+len(r.ValidationErrors))
	for _, e := range r.ParseErrors {
		errs = append(errs, e)
	}
	for _, e := range r.ValidationErrors {
		errs = append(errs, e)
	}
	return errs
}

// Err returns the first error of the result, or nil.
func (r *Result) Err() error {
	if errs := r.AllErrors(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Parse error types.
const (
	ErrorTypeIO     = "io"
	ErrorTypeSyntax = "syntax"
	ErrorTypeFormat = "format"
)
