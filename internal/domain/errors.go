package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors raised by ingestion and review operations.
var (
	// ErrMissingHeaders indicates that a CSV batch lacks required columns.
	ErrMissingHeaders = errors.New("missing required headers")

	// ErrNoRowsAssembled indicates that every data row of a batch failed.
	ErrNoRowsAssembled = errors.New("no rows assembled")

	// ErrInvalidInput indicates structurally invalid top-level input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingID indicates a data row without an id value.
	ErrMissingID = errors.New("missing id")

	// ErrInvalidConfidence indicates a confidence level outside 1..5.
	ErrInvalidConfidence = errors.New("invalid confidence")

	// ErrUnknownSlot indicates a winner or label that names no row option.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrNotDecided indicates an adjustment to a row without a result.
	ErrNotDecided = errors.New("row not decided")

	// ErrRowNotFound indicates a row id absent from the batch.
	ErrRowNotFound = errors.New("row not found")
)

// MaxErrorSamples bounds the per-line reasons quoted in a BatchError.
const MaxErrorSamples = 5

// HeaderError reports the required headers a batch is missing.
type HeaderError struct {
	// Missing lists the required headers that were not found.
	Missing []string
}

// Error implements the error interface for HeaderError.
func (e *HeaderError) Error() string {
	return fmt.Sprintf("missing required headers: %s", strings.Join(e.Missing, ", "))
}

// Unwrap returns ErrMissingHeaders.
func (e *HeaderError) Unwrap() error { return ErrMissingHeaders }

// NewHeaderError creates a HeaderError for the given headers.
func NewHeaderError(missing ...string) *HeaderError {
	return &HeaderError{Missing: missing}
}

// RowError describes why one data row was skipped.
type RowError struct {
	// Line is the 1-based file line on which the row starts.
	Line int

	// Reason is the human-readable cause.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface for RowError.
func (e *RowError) Error() string {
	return fmt.Sprintf("Line %d: %s", e.Line, e.Reason)
}

// Unwrap returns the underlying error.
func (e *RowError) Unwrap() error { return e.Err }

// NewRowError creates a RowError whose reason is the message of err.
func NewRowError(line int, err error) *RowError {
	return &RowError{Line: line, Reason: err.Error(), Err: err}
}

// BatchError is the single terminal error raised when no row of a batch
// survived assembly.
type BatchError struct {
	// Total is the number of data rows that were attempted.
	Total int

	// Samples holds the first MaxErrorSamples row failures.
	Samples []*RowError
}

// Error implements the error interface for BatchError.
func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no valid rows found: %d of %d rows skipped", e.Total, e.Total)
	if len(e.Samples) > 0 {
		b.WriteString("; first errors: ")
		for i, s := range e.Samples {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(s.Error())
		}
	}
	return b.String()
}

// Unwrap returns ErrNoRowsAssembled.
func (e *BatchError) Unwrap() error { return ErrNoRowsAssembled }

// NewBatchError creates a BatchError keeping at most MaxErrorSamples
// samples.
func NewBatchError(total int, failures []*RowError) *BatchError {
	n := min(len(failures), MaxErrorSamples)
	return &BatchError{Total: total, Samples: append([]*RowError(nil), failures[:n]...)}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
