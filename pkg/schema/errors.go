package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeStore        = "STORE_ERROR"
	ErrCodeQuery        = "QUERY_ERROR"
)

// CadentError is the structured error type for all cadent operations.
type CadentError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CadentError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CadentError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CadentError.
func NewError(code, message string) *CadentError {
	return &CadentError{Code: code, Message: message}
}

// NewErrorf creates a new CadentError with a formatted message.
func NewErrorf(code, format string, args ...any) *CadentError {
	return &CadentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *CadentError) WithStep(stepID string) *CadentError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *CadentError) WithCause(err error) *CadentError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CadentError) WithDetails(details map[string]any) *CadentError {
	e.Details = details
	return e
}
