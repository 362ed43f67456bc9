package errors

import (
	stderrors "errors"
	"fmt"
)

// AgentError is the structured error type used across agentmem.
// It carries a stable code plus enough context to log and present the failure.
type AgentError struct {
	// Code is the unique error code (e.g., "ERR_503_NO_RETRIEVAL_PATH").
	Code string

	Message  string
	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	Cause     error
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// Is matches another AgentError by code, so sentinels work with errors.Is.
func (e *AgentError) Is(target error) bool {
	if t, ok := target.(*AgentError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AgentError) WithDetail(key, value string) *AgentError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AgentError) WithSuggestion(suggestion string) *AgentError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AgentError. Category, severity and the retryable flag
// are derived from the code.
func New(code string, message string, cause error) *AgentError {
	return &AgentError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AgentError from an existing error.
func Wrap(code string, err error) *AgentError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AgentError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a storage-related error.
func StorageError(message string, cause error) *AgentError {
	return New(ErrCodeStorageWrite, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AgentError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AgentError {
	return New(ErrCodeInternal, message, cause)
}

// Sentinels for errors.Is checks at call sites.
var (
	ErrNoRetrievalPath = New(ErrCodeNoRetrievalPath, "no retrieval path succeeded", nil)
	ErrSearcherMissing = New(ErrCodeSearcherMissing, "no searcher registered for strategy", nil)
	ErrSearcherTimeout = New(ErrCodeSearcherTimeout, "searcher timed out", nil)
)

// IsRetryable checks if an error (or any error it wraps) is retryable.
func IsRetryable(err error) bool {
	var ae *AgentError
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ae *AgentError
	if stderrors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code. Returns empty string if err is not an AgentError.
func GetCode(err error) string {
	var ae *AgentError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category. Returns empty string if err is not an AgentError.
func GetCategory(err error) Category {
	var ae *AgentError
	if stderrors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
