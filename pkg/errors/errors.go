package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// ErrorType classifies a DomainError
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeCancelled  ErrorType = "cancelled"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// DomainError is the error type returned by all supervisor packages.
// Context carries key/value details that are rendered into Error().
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func newDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeValidation, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeIO, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeConflict, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeInternal, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeProcess, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeCancelled, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return newDomainError(ErrorTypeTimeout, message, cause)
}

// WithContext attaches a detail to the error and returns the same error for chaining
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Type))
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(" [")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("]")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError of the same type, so errors.Is(err, &DomainError{Type: ...}) works
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// GetType returns the type of the outermost DomainError in the chain, or "" if none
func GetType(err error) ErrorType {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func isType(err error, errorType ErrorType) bool {
	return GetType(err) == errorType
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }
func IsIOError(err error) bool         { return isType(err, ErrorTypeIO) }
func IsNotFoundError(err error) bool   { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool   { return isType(err, ErrorTypeConflict) }
func IsInternalError(err error) bool   { return isType(err, ErrorTypeInternal) }
func IsProcessError(err error) bool    { return isType(err, ErrorTypeProcess) }
func IsCancelledError(err error) bool  { return isType(err, ErrorTypeCancelled) }
func IsTimeoutError(err error) bool    { return isType(err, ErrorTypeTimeout) }

// ErrorCollection accumulates errors from operations that continue past failures
type ErrorCollection struct {
	err error
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

func (c *ErrorCollection) Add(err error) {
	c.err = multierr.Append(c.err, err)
}

func (c *ErrorCollection) HasErrors() bool {
	return c.err != nil
}

func (c *ErrorCollection) Errors() []error {
	return multierr.Errors(c.err)
}

func (c *ErrorCollection) Error() string {
	if c.err == nil {
		return ""
	}
	return c.err.Error()
}

// ToError returns nil when nothing was collected
func (c *ErrorCollection) ToError() error {
	return c.err
}
