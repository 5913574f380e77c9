// Package errors classifies cratepack failures by code.
//
// Every pipeline stage wraps what went wrong in an [*Error] carrying the
// code for that stage, so callers can tell a bad download from a broken
// archive without matching on text:
//
//	SOURCE_UNAVAILABLE  the batch root or an index page could not be listed
//	DOWNLOAD_FAILED     an archive could not be fetched
//	EXTRACTION_FAILED   an archive could not be unpacked
//	ARTIFACT_NOT_FOUND  strict discovery found an expected artifact missing
//	GRAPH_CONSISTENCY   a provenance graph broke one of its invariants
//	INVALID_INPUT       a flag, setting or name was rejected up front
//	INTERNAL_ERROR      anything else, e.g. a zip that could not be written
//
// Import it under another name to keep the standard errors package usable:
//
//	import apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
//
//	if apperrors.Is(err, apperrors.ErrCodeDownload) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Code is the machine-readable class of an [*Error].
type Code string

const (
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeSourceUnavailable Code = "SOURCE_UNAVAILABLE"
	ErrCodeDownload          Code = "DOWNLOAD_FAILED"
	ErrCodeExtraction        Code = "EXTRACTION_FAILED"
	ErrCodeArtifactNotFound  Code = "ARTIFACT_NOT_FOUND"
	ErrCodeGraphConsistency  Code = "GRAPH_CONSISTENCY"
	ErrCodeInternal          Code = "INTERNAL_ERROR"
)

// Error pairs a [Code] with a message and, when wrapping, the cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Code) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns an [*Error] with no cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an [*Error] whose cause is err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.Cause = err
	return e
}

// Is reports whether the outermost [*Error] in err's chain has code. A
// differently coded error further down the chain does not count.
func Is(err error, code Code) bool {
	return GetCode(err) == code && code != ""
}

// GetCode returns the code of the outermost [*Error] in err's chain, or ""
// when there is none.
func GetCode(err error) Code {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return ""
}

// UserMessage drops the code prefix and the cause, leaving the sentence a
// person should see. Errors from outside this package are returned whole.
func UserMessage(err error) string {
	if e, ok := asError(err); ok {
		return e.Message
	}
	return err.Error()
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
