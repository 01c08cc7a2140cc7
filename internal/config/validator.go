package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaURL = "https://canectors.io/schemas/inventory/v1/request-schema.json"

//go:embed schema/request-schema.json
var embeddedSchema []byte

var printer = message.NewPrinter(language.English)

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(embeddedSchema))
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, schemaInitErr = compiler.Compile(schemaURL)
		if schemaInitErr != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", schemaInitErr)
		}
	})
	return compiledSchema, schemaInitErr
}

// ValidateRequest checks a decoded request document against the schema.
func ValidateRequest(data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if data == nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "required",
			Message: "request is empty",
		})
		return result
	}

	schema, err := getCompiledSchema()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "schema",
			Message: fmt.Sprintf("failed to load schema: %v", err),
		})
		return result
	}

	if err := schema.Validate(data); err != nil {
		result.Valid = false
		var detailed *jsonschema.ValidationError
		if errors.As(err, &detailed) {
			result.Errors = flattenValidationError(detailed)
		}
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "/",
				Type:    "validation",
				Message: err.Error(),
			})
		}
	}
	return result
}

// flattenValidationError returns the leaf violations of err. Intermediate
// nodes only repeat their causes.
func flattenValidationError(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    errorType(err),
			Message: leafMessage(err),
		}}
	}
	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, flattenValidationError(cause)...)
	}
	return out
}

func leafMessage(err *jsonschema.ValidationError) string {
	if err.ErrorKind != nil {
		return err.ErrorKind.LocalizedString(printer)
	}
	return err.LocalizedError(printer)
}

func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

func errorType(err *jsonschema.ValidationError) string {
	msg := strings.ToLower(leafMessage(err))
	switch {
	case strings.Contains(msg, "missing propert"), strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "additional properties"), strings.Contains(msg, "additionalproperties"):
		return "additionalProperties"
	case strings.Contains(msg, "minimum"), strings.Contains(msg, "maximum"):
		return "range"
	case strings.Contains(msg, "length"):
		return "length"
	case strings.Contains(msg, "got ") && strings.Contains(msg, "want "):
		return "type"
	case strings.Contains(msg, "enum"), strings.Contains(msg, "must be one of"):
		return "enum"
	default:
		return "validation"
	}
}
