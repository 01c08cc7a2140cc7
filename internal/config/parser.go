// Package config reads inventory requests from JSON or YAML documents.
//
// A document is parsed, validated against the embedded request schema and
// converted into a Request. Credential values of the form "env:NAME" are
// replaced by the value of the environment variable NAME.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported document formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// LoadFile parses, validates and converts the request file at filepath.
// The format is detected from the extension, then from the content.
func LoadFile(filepath string) *Result {
	return load(ParseFile(filepath), os.LookupEnv)
}

// LoadString parses, validates and converts a request document. An empty
// format is detected from the content.
func LoadString(content, format string) *Result {
	return load(ParseString(content, format), os.LookupEnv)
}

func load(parsed *ParseResult, lookup LookupFunc) *Result {
	result := &Result{
		Data:        parsed.Data,
		ParseErrors: parsed.Errors,
		FilePath:    parsed.FilePath,
		Format:      parsed.Format,
	}
	if !parsed.IsValid() {
		return result
	}

	validation := ValidateRequest(parsed.Data)
	result.ValidationErrors = validation.Errors
	if !validation.Valid {
		return result
	}

	req, errs := ConvertToRequest(parsed.Data, lookup)
	if len(errs) > 0 {
		result.ValidationErrors = append(result.ValidationErrors, errs...)
		return result
	}
	result.Request = req
	return result
}

// ParseFile reads and decodes the document at filepath.
func ParseFile(filepath string) *ParseResult {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return &ParseResult{
			FilePath: filepath,
			Format:   DetectFormat(filepath),
			Errors: []ParseError{{
				Path:    filepath,
				Message: fmt.Sprintf("failed to read file: %v", err),
				Type:    ErrorTypeIO,
			}},
		}
	}

	result := ParseString(string(content), DetectFormat(filepath))
	result.FilePath = filepath
	for i := range result.Errors {
		if result.Errors[i].Path == "" {
			result.Errors[i].Path = filepath
		}
	}
	return result
}

// ParseString decodes a document. An empty format is detected from content.
func ParseString(content, format string) *ParseResult {
	if format == "" {
		switch {
		case IsJSON(content):
			format = FormatJSON
		case IsYAML(content):
			format = FormatYAML
		default:
			return &ParseResult{Errors: []ParseError{{
				Message: "unable to detect request format: not valid JSON or YAML",
				Type:    ErrorTypeFormat,
			}}}
		}
	}

	result := &ParseResult{Format: format}
	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("empty content: expected a %s document", strings.ToUpper(format)),
			Type:    ErrorTypeSyntax,
		})
		return result
	}

	var (
		data interface{}
		perr *ParseError
	)
	switch format {
	case FormatJSON:
		data, perr = decodeJSON(content)
	case FormatYAML:
		data, perr = decodeYAML(content)
	default:
		perr = &ParseError{Message: fmt.Sprintf("unsupported format: %s", format), Type: ErrorTypeFormat}
	}
	if perr != nil {
		result.Errors = append(result.Errors, *perr)
		return result
	}

	obj, ok := data.(map[string]interface{})
	if !ok {
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("invalid request: expected an object, got %s", typeName(data)),
			Type:    ErrorTypeFormat,
		})
		return result
	}
	result.Data = obj
	return result
}

func decodeJSON(content string) (interface{}, *ParseError) {
	var data interface{}
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		perr := jsonParseError(err, content)
		return nil, &perr
	}
	return data, nil
}

// decodeYAML decodes a YAML document and re-encodes it through JSON so that
// the data has the same shape as a decoded JSON document.
func decodeYAML(content string) (interface{}, *ParseError) {
	var raw interface{}
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		perr := yamlParseError(err)
		return nil, &perr
	}
	if raw == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, &ParseError{
			Message: fmt.Sprintf("YAML document cannot be represented as JSON: %v", err),
			Type:    ErrorTypeFormat,
		}
	}
	var data interface{}
	if err := json.Unmarshal(encoded, &data); err != nil {
		return nil, &ParseError{Message: err.Error(), Type: ErrorTypeFormat}
	}
	return data, nil
}

func jsonParseError(err error, content string) ParseError {
	perr := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		perr.Offset = syntaxErr.Offset
		perr.Line, perr.Column = offsetToLineColumn(content, syntaxErr.Offset)
		perr.Message = fmt.Sprintf("JSON syntax error at offset %d: %s", syntaxErr.Offset, syntaxErr.Error())
	}
	return perr
}

// offsetToLineColumn converts a byte offset to a 1-based line and column.
func offsetToLineColumn(content string, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset && i < int64(len(content)); i++ {
		if content[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}

func yamlParseError(err error) ParseError {
	perr := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		perr.Message = "YAML type error: " + strings.Join(typeErr.Errors, "; ")
	}

	// yaml.v3 reports locations as "yaml: line N: ..."
	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		perr.Line = line
	}
	return perr
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// DetectFormat returns the format implied by the extension of filepath, or "".
func DetectFormat(filepath string) string {
	switch strings.ToLower(path.Ext(filepath)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// IsJSON reports whether content looks like a JSON document.
func IsJSON(content string) bool {
	content = strings.TrimSpace(content)
	return strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")
}

// IsYAML reports whether content decodes as a non-empty YAML document.
// JSON content is YAML too.
func IsYAML(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	var data interface{}
	return yaml.Unmarshal([]byte(content), &data) == nil && data != nil
}
