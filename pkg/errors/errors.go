package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// Code identifies a class of failure surfaced to API clients.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeVersionConflict    Code = "VERSION_CONFLICT"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeTypeMismatch       Code = "TYPE_MISMATCH"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeTenantMismatch     Code = "TENANT_MISMATCH"
	CodeCircularDependency Code = "CIRCULAR_DEPENDENCY"
	CodeInvalidExpression  Code = "INVALID_EXPRESSION"
	CodeReferenceBroken    Code = "REFERENCE_BROKEN"
	CodeDivisionByZero     Code = "DIVISION_BY_ZERO"
	CodeMaxDepthExceeded   Code = "MAX_DEPTH_EXCEEDED"
	CodeUnknownFunction    Code = "UNKNOWN_FUNCTION"
	CodeDomainError        Code = "DOMAIN_ERROR"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// statusCodes maps error codes to HTTP status codes.
var statusCodes = map[Code]int{
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeVersionConflict:    http.StatusConflict,
	CodeValidation:         http.StatusBadRequest,
	CodeTypeMismatch:       http.StatusBadRequest,
	CodePermissionDenied:   http.StatusForbidden,
	CodeTenantMismatch:     http.StatusForbidden,
	CodeCircularDependency: http.StatusUnprocessableEntity,
	CodeInvalidExpression:  http.StatusBadRequest,
	CodeReferenceBroken:    http.StatusUnprocessableEntity,
	CodeDivisionByZero:     http.StatusUnprocessableEntity,
	CodeMaxDepthExceeded:   http.StatusUnprocessableEntity,
	CodeUnknownFunction:    http.StatusBadRequest,
	CodeDomainError:        http.StatusUnprocessableEntity,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeDeadlineExceeded:   http.StatusGatewayTimeout,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is the error type returned by Trellis services. It carries a stable
// code, a human readable message, and optional structured details.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func New(code Code, msg string) *Error {
	return &Error{
		Code:    code,
		Message: msg,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a code and message to an underlying error. If err is already
// an *Error it is returned unchanged.
func Wrap(err error, code Code, msg string) *Error {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		return te
	}

	// context deadlines keep their own code so they map to 504, not 500
	if errors.Is(err, context.DeadlineExceeded) {
		code = CodeDeadlineExceeded
	}

	return &Error{
		Code:    code,
		Message: msg,
		cause:   err,
	}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail adds a structured detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// StatusCode returns the HTTP status code for the error's code.
func (e *Error) StatusCode() int {
	if status, ok := statusCodes[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	httpErr := httperror.NewHTTPError(e.StatusCode(), e.Message).AddMetaValue("code", string(e.Code))
	for key, value := range e.Details {
		httpErr = httpErr.AddMetaValue(key, value)
	}
	return httpErr
}

// IsError reports whether err is (or wraps) a trellis *Error.
func IsError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// AsError unwraps err into target when it is (or wraps) a trellis *Error.
func AsError(err error, target **Error) bool {
	return errors.As(err, target)
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// StatusOf returns the HTTP status code of err, or 500 when err carries none.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.StatusCode()
	}
	if httperror.IsHTTPError(err) {
		return httperror.GetStatusCode(err)
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}
