package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context, creating a ForgeError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *ForgeError {
	if err == nil {
		return nil
	}

	// If it's already a ForgeError, preserve its properties but update the message
	var te *ForgeError
	if errors.As(err, &te) {
		return &ForgeError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       te,
			Context:     te.Context,
			Resource:    te.Resource,
			FilePath:    te.FilePath,
			Line:        te.Line,
			Column:      te.Column,
			Recoverable: te.Recoverable,
		}
	}

	return &ForgeError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeBuild || errType == ErrorTypeScan,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *ForgeError {
	te := Wrap(err, ErrorTypeIO, code, message)
	if te != nil {
		te.Recoverable = false
	}
	return te
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *ForgeError {
	te := Wrap(err, ErrorTypeConfig, code, message)
	if te != nil {
		te.Recoverable = false
	}
	return te
}

// GetErrorChain returns all errors in the chain from outermost to innermost
func GetErrorChain(err error) []error {
	var chain []error
	for err != nil {
		chain = append(chain, err)
		err = errors.Unwrap(err)
	}
	return chain
}

// HasErrorCode checks if any error in the chain has the specified code
func HasErrorCode(err error, code string) bool {
	for _, e := range GetErrorChain(err) {
		if te, ok := e.(*ForgeError); ok && te.Code == code {
			return true
		}
	}
	return false
}

// GetCode returns the code of the outermost ForgeError, or "" if none.
func GetCode(err error) string {
	var te *ForgeError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// CollectErrors helper for common error collection patterns
func CollectErrors(errs ...error) []error {
	var collected []error
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}
	return collected
}

// CombineErrors combines multiple errors into a single error
func CombineErrors(errs ...error) error {
	nonNilErrs := CollectErrors(errs...)
	if len(nonNilErrs) == 0 {
		return nil
	}
	if len(nonNilErrs) == 1 {
		return nonNilErrs[0]
	}

	messages := make([]string, 0, len(nonNilErrs))
	for _, err := range nonNilErrs {
		messages = append(messages, err.Error())
	}

	return fmt.Errorf("multiple errors: %s", strings.Join(messages, "; "))
}
