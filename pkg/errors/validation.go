package errors

import (
	"strings"
	"unicode"
)

// ValidateSource validates a source location given on the command line.
// A source is either an http(s) URL or a local filesystem path.
//
// Validation rules:
//   - Source cannot be empty
//   - No null bytes or control characters
//   - URLs must use the http or https scheme
func ValidateSource(source string) error {
	if strings.TrimSpace(source) == "" {
		return New(ErrCodeInvalidInput, "source cannot be empty")
	}

	for _, r := range source {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "source contains invalid control characters")
		}
	}

	if strings.Contains(source, "://") {
		return ValidateURL(source)
	}
	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	// Simple scheme validation without full URL parsing
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	return nil
}

// ValidateJobID validates a job identifier derived from a source file name.
// The id names the working and output directories, so it must be a single
// path element.
func ValidateJobID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidInput, "job id cannot be empty")
	}

	const maxIDLength = 256
	if len(id) > maxIDLength {
		return New(ErrCodeInvalidInput, "job id too long (max %d characters)", maxIDLength)
	}

	for _, r := range id {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "job id contains invalid control characters")
		}
	}

	if strings.ContainsAny(id, "/\\") {
		return New(ErrCodeInvalidInput, "job id cannot contain path separators: %q", id)
	}

	return nil
}

// ValidateLabel validates a visualization label before it becomes part of
// an output file name. Labels come from directory names inside the source
// archive and are untrusted.
func ValidateLabel(label string) error {
	if label == "" {
		return New(ErrCodeInvalidInput, "label cannot be empty")
	}

	for _, r := range label {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "label contains invalid control characters")
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"/",    // Path separator
		"\\",   // Backslash (Windows path)
		"\x00", // Null byte
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(label, pattern) {
			return New(ErrCodeInvalidInput, "label contains invalid characters: %q", pattern)
		}
	}

	return nil
}
