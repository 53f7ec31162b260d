// Package errors provides structured error handling for scanward operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Protocol errors.
	CodeGrammarViolation ErrorCode = "GRAMMAR_VIOLATION"
	CodeOversizedField   ErrorCode = "OVERSIZED_FIELD"
	CodeVersionMismatch  ErrorCode = "VERSION_MISMATCH"
	CodeSessionClosed    ErrorCode = "SESSION_CLOSED"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"

	// Daemon errors.
	CodeListenerFailed     ErrorCode = "LISTENER_FAILED"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
)

// ProtocolError represents an error raised while parsing scanner input.
// A ProtocolError is fatal for the session that produced it; the caller
// is expected to drop the scanner connection.
type ProtocolError struct {
	Code    ErrorCode
	Message string
	State   string
	Field   string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("[%s] %s (state: %s)", e.Code, e.Message, e.State)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// WithField records the offending field contents on the error.
func (e *ProtocolError) WithField(field string) *ProtocolError {
	e.Field = field
	return e
}

// WithContext adds context information to the error.
func (e *ProtocolError) WithContext(key string, value interface{}) *ProtocolError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewProtocolError creates a new protocol error with the specified code and message.
func NewProtocolError(code ErrorCode, message string) *ProtocolError {
	return &ProtocolError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewProtocolErrorInState creates a protocol error tagged with the parser state.
func NewProtocolErrorInState(code ErrorCode, message, state string) *ProtocolError {
	return &ProtocolError{
		Code:    code,
		Message: message,
		State:   state,
		Context: make(map[string]interface{}),
	}
}

// WrapProtocolError wraps an existing error as a protocol error.
func WrapProtocolError(code ErrorCode, message string, err error) *ProtocolError {
	return &ProtocolError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case *ProtocolError:
		return e.Code == code
	case *DatabaseError:
		return e.Code == code
	case *ConfigError:
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ProtocolError:
		return e.Code
	case *DatabaseError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeTimeout, CodeServiceTimeout, CodeDatabaseTimeout, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodePermission, CodeConfiguration, CodeDatabaseMigration,
		CodeGrammarViolation, CodeOversizedField:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrGrammarViolation creates an error for an unexpected token in scanner input.
func ErrGrammarViolation(state, field string) *ProtocolError {
	return NewProtocolErrorInState(CodeGrammarViolation, "Unexpected scanner input", state).WithField(field)
}

// ErrOversizedField creates an error for a field exceeding the receive buffer.
func ErrOversizedField(state string) *ProtocolError {
	return NewProtocolErrorInState(CodeOversizedField, "Field exceeds receive buffer capacity", state)
}

// ErrVersionMismatch creates an error for an unsupported protocol version line.
func ErrVersionMismatch(line string) *ProtocolError {
	return NewProtocolError(CodeVersionMismatch, "Unsupported protocol version").WithField(line)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
