// Package pathutil resolves local file paths named in connection descriptors.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths, null bytes and ".." segments.
// Segments are checked before cleaning: "keys/../../etc/shadow" cleans to a
// path without "..".
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(filePath, "\x00") {
		return fmt.Errorf("file path contains invalid characters")
	}
	for _, segment := range strings.Split(filepath.ToSlash(filePath), "/") {
		if segment == ".." {
			return fmt.Errorf("file path contains path traversal: %q", filePath)
		}
	}
	return nil
}

// ExpandHome replaces a leading "~" with the home directory of the user.
func ExpandHome(filePath string) (string, error) {
	if filePath != "~" && !strings.HasPrefix(filePath, "~/") {
		return filePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(filePath, "~")), nil
}

// Resolve validates filePath and expands a leading "~".
func Resolve(filePath string) (string, error) {
	if err := ValidateFilePath(filePath); err != nil {
		return "", err
	}
	return ExpandHome(filePath)
}
