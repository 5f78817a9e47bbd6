package common

import (
	"os"
	"path/filepath"
)

// ReadBlob reads a file and returns its contents as a string
func ReadBlob(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists checks if a regular file exists
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FirstExisting returns the first path in candidates that exists, or ""
func FirstExisting(candidates ...string) string {
	for _, path := range candidates {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// AbsClean returns the cleaned absolute form of path
func AbsClean(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
