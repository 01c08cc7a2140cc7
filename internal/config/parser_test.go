package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFile_JSON(t *testing.T) {
	result := ParseFile("testdata/request.json")

	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	if result.Format != FormatJSON {
		t.Errorf("Format = %q, want json", result.Format)
	}
	conns, ok := result.Data["connections"].([]interface{})
	if !ok || len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %v", result.Data["connections"])
	}
}

func TestParseFile_YAMLHasJSONShape(t *testing.T) {
	result := ParseFile("testdata/request.yaml")

	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	if result.Format != FormatYAML {
		t.Errorf("Format = %q, want yaml", result.Format)
	}
	opts := result.Data["options"].(map[string]interface{})
	views, ok := opts["metric_views"].([]interface{})
	if !ok || len(views) != 2 {
		t.Fatalf("expected 2 metric views, got %#v", opts["metric_views"])
	}
	fields := views[0].(map[string]interface{})["fields"]
	if _, ok := fields.([]interface{}); !ok {
		t.Errorf("fields decoded as %T, want []interface{}", fields)
	}
}

func TestParseFile_SyntaxErrorHasLocation(t *testing.T) {
	result := ParseFile("testdata/invalid-syntax.json")

	if result.IsValid() {
		t.Fatal("expected a syntax error")
	}
	err := result.Errors[0]
	if err.Type != ErrorTypeSyntax {
		t.Errorf("Type = %q, want syntax", err.Type)
	}
	if err.Line != 3 {
		t.Errorf("Line = %d, want 3", err.Line)
	}
	if err.Path != "testdata/invalid-syntax.json" {
		t.Errorf("Path = %q", err.Path)
	}
}

func TestParseFile_Missing(t *testing.T) {
	result := ParseFile("testdata/does-not-exist.json")

	if result.IsValid() || result.Errors[0].Type != ErrorTypeIO {
		t.Fatalf("expected an io error, got %v", result.Errors)
	}
}

func TestParseFile_DetectsFormatFromContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "request.txt")
	if err := os.WriteFile(path, []byte("connections:\n  - name: hubspot\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := ParseFile(path)

	if !result.IsValid() {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.Format != FormatYAML {
		t.Errorf("Format = %q, want yaml", result.Format)
	}
}

func TestParseString(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		format    string
		wantErr   string
		wantLine  int
		wantValid bool
	}{
		{name: "json object", content: `{"connections":[]}`, wantValid: true},
		{name: "yaml mapping", content: "connections: []\n", format: FormatYAML, wantValid: true},
		{name: "empty json", content: "  ", format: FormatJSON, wantErr: "empty content"},
		{name: "json array", content: `[1,2]`, wantErr: "expected an object, got array"},
		{name: "yaml scalar", content: "just text", format: FormatYAML, wantErr: "expected an object, got string"},
		{name: "yaml null", content: "# nothing\n~\n", format: FormatYAML, wantErr: "got null"},
		{name: "bad yaml", content: "a: [1, 2\nb: 3\n", format: FormatYAML, wantErr: "yaml:"},
		{name: "unknown format", content: `{}`, format: "toml", wantErr: "unsupported format"},
		{name: "undetectable", content: "", wantErr: "unable to detect"},
		{name: "json syntax", content: "{\n  \"a\": 1,\n}", wantErr: "JSON syntax error", wantLine: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseString(tt.content, tt.format)

			if tt.wantValid {
				if !result.IsValid() {
					t.Fatalf("unexpected errors: %v", result.Errors)
				}
				return
			}
			if result.IsValid() {
				t.Fatal("expected an error")
			}
			if !strings.Contains(result.Errors[0].Message, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", result.Errors[0].Message, tt.wantErr)
			}
			if tt.wantLine > 0 && result.Errors[0].Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", result.Errors[0].Line, tt.wantLine)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]string{
		"req.json":  FormatJSON,
		"req.JSON":  FormatJSON,
		"req.yaml":  FormatYAML,
		"req.yml":   FormatYAML,
		"req.txt":   "",
		"/dir/file": "",
	}
	for path, want := range cases {
		if got := DetectFormat(path); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseErrorString(t *testing.T) {
	err := ParseError{Path: "req.json", Line: 3, Column: 7, Message: "boom"}
	if got := err.Error(); got != "req.json: line 3, column 7: boom" {
		t.Errorf("Error() = %q", got)
	}
	if got := (ParseError{Message: "boom"}).Error(); got != "boom" {
		t.Errorf("Error() = %q", got)
	}
}
