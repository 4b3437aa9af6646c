// Package errors classifies failures so the CLI can pick an exit code and
// fill the JSON error envelope without string matching.
package errors

import (
	"errors"
	"fmt"
)

type Category string

const (
	// CategoryInvalidInput covers bad flags, paths, config, and bundle names.
	CategoryInvalidInput Category = "invalid_input"
	// CategoryVerification means evidence was read and found untrustworthy.
	CategoryVerification      Category = "verification_failed"
	CategoryDependencyMissing Category = "dependency_missing"
	CategoryIOFailure         Category = "io_failure"
	CategoryInternalFailure   Category = "internal_failure"
)

// Envelope is the machine-readable description of a failure.
type Envelope struct {
	Category  Category `json:"error_category"`
	Code      string   `json:"error_code"`
	Hint      string   `json:"hint"`
	Retryable bool     `json:"retryable"`
}

type classifiedError struct {
	Envelope
	cause error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a classification to cause. A nil cause stays nil.
func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		Envelope: Envelope{Category: category, Code: code, Hint: hint, Retryable: retryable},
		cause:    cause,
	}
}

// Newf builds a non-retryable classified error from a format string.
func Newf(category Category, code, hint, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), category, code, hint, false)
}

// Describe returns the outermost classification in err's chain and whether
// one was found.
func Describe(err error) (Envelope, bool) {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.Envelope, true
	}
	return Envelope{}, false
}

// Is reports whether err is classified under category.
func Is(err error, category Category) bool {
	envelope, ok := Describe(err)
	return ok && envelope.Category == category
}

func CategoryOf(err error) Category {
	envelope, _ := Describe(err)
	return envelope.Category
}

func CodeOf(err error) string {
	envelope, _ := Describe(err)
	return envelope.Code
}

func HintOf(err error) string {
	envelope, _ := Describe(err)
	return envelope.Hint
}

func RetryableOf(err error) bool {
	envelope, _ := Describe(err)
	return envelope.Retryable
}
