package domain

import (
	"errors"
	"fmt"
)

// Error codes carried on MatchError for API responses.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeExtraction   = "EXTRACTION_ERROR"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeEmptyInput   = "EMPTY_INPUT"
	ErrCodeStorage      = "STORAGE_ERROR"
	ErrCodeRegistry     = "REGISTRY_ERROR"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrNotFound is returned when a stored upload or trial record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when the weighted engine is scored before
// its one-time Initialize call has completed.
var ErrNotInitialized = errors.New("weighted engine not initialized")

// MatchError is a structured error carried to API clients.
type MatchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *MatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewMatchError creates a MatchError with the given code and message.
func NewMatchError(code, message, details string) *MatchError {
	return &MatchError{Code: code, Message: message, Details: details}
}

// ExtractionError reports structurally invalid record input. It aborts
// processing for that single record only; the batch continues for others.
type ExtractionError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %s", e.Source, e.Message)
}

// NewExtractionError creates an ExtractionError for the named source record.
func NewExtractionError(source, message string) *ExtractionError {
	return &ExtractionError{Source: source, Message: message}
}

// ValidationError reports a criterion that references an unsupported
// operator or a non-positive weight. It is raised at CriteriaSet
// construction time.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// EmptyInputError reports a batch call with zero patients or zero trials.
// It is fatal for that call and not retried.
type EmptyInputError struct {
	What string `json:"what"`
}

// Error implements the error interface.
func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("no %s to match", e.What)
}

// NewEmptyInputError creates an EmptyInputError naming the missing input.
func NewEmptyInputError(what string) *EmptyInputError {
	return &EmptyInputError{What: what}
}
