// Package errors provides the structured error taxonomy shared by the
// scanner, compiler, watcher and publish tracker.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeScan       ErrorType = "scan"
	ErrorTypeTask       ErrorType = "task"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes used for programmatic handling across component boundaries.
const (
	CodeScanWarning          = "SCAN_WARNING"
	CodeEntryMissing         = "ENTRY_MISSING"
	CodeCompileError         = "COMPILE_ERROR"
	CodeTaskTimeout          = "TASK_TIMEOUT"
	CodeTaskRemoteFailure    = "TASK_REMOTE_FAILURE"
	CodeTaskTransportFailure = "TASK_TRANSPORT_FAILURE"
	CodeResourceNotFound     = "RESOURCE_NOT_FOUND"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInvalidConfig        = "INVALID_CONFIG"
	CodeInternal             = "INTERNAL"
)

// ForgeError is a structured error type with context.
type ForgeError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Resource    string
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *ForgeError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Resource != "" {
		parts = append(parts, "resource:"+e.Resource)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *ForgeError) Is(target error) bool {
	var t *ForgeError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *ForgeError) WithContext(key string, value interface{}) *ForgeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *ForgeError) WithLocation(filePath string, line, column int) *ForgeError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithResource adds resource context.
func (e *ForgeError) WithResource(resource string) *ForgeError {
	e.Resource = resource

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *ForgeError {
	return &ForgeError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *ForgeError {
	return &ForgeError{
		Type:        ErrorTypeBuild,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewScanWarning creates the non-fatal error attached to an excluded resource directory.
func NewScanWarning(dir, message string, cause error) *ForgeError {
	return &ForgeError{
		Type:        ErrorTypeScan,
		Code:        CodeScanWarning,
		Message:     message,
		Cause:       cause,
		FilePath:    dir,
		Recoverable: true,
	}
}

// NewTaskError creates a publish task failure.
func NewTaskError(code, message string, cause error) *ForgeError {
	return &ForgeError{
		Type:        ErrorTypeTask,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *ForgeError {
	return &ForgeError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *ForgeError {
	return &ForgeError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// ErrResourceNotFound reports a lookup miss in the registry.
func ErrResourceNotFound(key string) *ForgeError {
	return NewValidationError(CodeResourceNotFound, "resource not found").
		WithResource(key)
}

// ErrInvalidRequest reports a malformed caller request.
func ErrInvalidRequest(message string) *ForgeError {
	return NewValidationError(CodeInvalidRequest, message)
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var te *ForgeError
	if errors.As(err, &te) {
		return te.Recoverable
	}

	return false
}
