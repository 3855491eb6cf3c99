package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's failure taxonomy.
//
// Input-validation errors (UnknownAnalyte, UnitMismatch) abort the request
// and surface to the caller. Infrastructure and model-contract errors are
// retried by the consistency guard and then degrade to the rule-only
// fallback report, never to a blank result.
var (
	ErrUnknownAnalyte               = errors.New("unknown analyte")
	ErrUnitMismatch                 = errors.New("unit mismatch")
	ErrEmbeddingUnavailable         = errors.New("embedding backend unavailable")
	ErrGenerativeBackendUnavailable = errors.New("generative backend unavailable")
	ErrGenerativeBackendTimeout     = errors.New("generative backend timeout")
	ErrMalformedModelOutput         = errors.New("malformed model output")
	ErrHallucinatedCitation         = errors.New("cited chunk not present in supplied context")
)

// UnknownAnalyteError identifies a panel entry with no reference range.
type UnknownAnalyteError struct {
	Analyte string
}

func (e *UnknownAnalyteError) Error() string {
	return fmt.Sprintf("unknown analyte %q: no reference range registered", e.Analyte)
}

func (e *UnknownAnalyteError) Unwrap() error {
	return ErrUnknownAnalyte
}

// UnitMismatchError identifies a panel entry whose declared unit disagrees
// with the reference range. Unit conversion is never implicit; a mismatch
// aborts the request.
type UnitMismatchError struct {
	Analyte  string
	Declared string
	Expected string
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("unit mismatch for %s: got %q, reference range uses %q",
		e.Analyte, e.Declared, e.Expected)
}

func (e *UnitMismatchError) Unwrap() error {
	return ErrUnitMismatch
}

// ValidationError represents a request-level input validation failure.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsInputError reports whether err belongs to the input-validation class
// that must surface to the caller as a hard failure.
func IsInputError(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrUnknownAnalyte) ||
		errors.Is(err, ErrUnitMismatch) ||
		errors.As(err, &ve)
}

// IsRetryable reports whether err belongs to the infrastructure class the
// consistency guard may retry before degrading to the fallback report.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGenerativeBackendUnavailable) ||
		errors.Is(err, ErrGenerativeBackendTimeout) ||
		errors.Is(err, ErrMalformedModelOutput) ||
		errors.Is(err, ErrEmbeddingUnavailable)
}
