// Package cordalerr implements the error taxonomy: a closed
// set of codes, each with a fixed HTTP status, that every layer of the
// gateway maps driver/parse/validation failures into before they reach a
// response writer.
package cordalerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the fixed taxonomy codes below.
type Code string

const (
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeMissingParameter    Code = "MISSING_PARAMETER"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeDatabaseUnavailable Code = "DATABASE_UNAVAILABLE"
	CodeQueryFailed         Code = "QUERY_FAILED"
	CodeConfigInvalid       Code = "CONFIG_INVALID"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInternalError       Code = "INTERNAL_ERROR"
)

// StatusCode returns the HTTP status a given Code maps to.
func (c Code) StatusCode() int {
	switch c {
	case CodeBadRequest, CodeMissingParameter:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeDatabaseUnavailable:
		return http.StatusServiceUnavailable
	case CodeQueryFailed:
		return http.StatusInternalServerError
	case CodeConfigInvalid:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// GatewayError is the single error type that crosses component boundaries;
// no raw driver error is ever exposed past it.
type GatewayError struct {
	Code    Code
	Message string
	Cause   error
}

// New creates a GatewayError with no wrapped cause.
func New(code Code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// Wrap creates a GatewayError carrying the underlying cause.
func Wrap(code Code, message string, cause error) *GatewayError {
	return &GatewayError{Code: code, Message: message, Cause: cause}
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status for this error.
func (e *GatewayError) StatusCode() int {
	return e.Code.StatusCode()
}

// As reports whether err is (or wraps) a *GatewayError, writing it into out.
func As(err error, out **GatewayError) bool {
	return errors.As(err, out)
}

// CodeOf extracts the taxonomy code from err, defaulting to INTERNAL_ERROR
// when err is not a *GatewayError.
func CodeOf(err error) Code {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternalError
}

// MissingParameter builds the MISSING_PARAMETER error for a named parameter.
func MissingParameter(name string) *GatewayError {
	return New(CodeMissingParameter, fmt.Sprintf("required parameter %q is missing", name))
}

// BadParameter builds the BAD_REQUEST error for a parameter type mismatch.
func BadParameter(name string, cause error) *GatewayError {
	return Wrap(CodeBadRequest, fmt.Sprintf("parameter %q has an invalid value", name), cause)
}

// DatabaseUnavailable builds the DATABASE_UNAVAILABLE error for a named pool.
func DatabaseUnavailable(database string, cause error) *GatewayError {
	return Wrap(CodeDatabaseUnavailable, fmt.Sprintf("database %q is unavailable", database), cause)
}

// QueryFailed builds the QUERY_FAILED error for an executor failure.
func QueryFailed(query string, cause error) *GatewayError {
	return Wrap(CodeQueryFailed, fmt.Sprintf("query %q failed to execute", query), cause)
}

// ConfigInvalid builds the CONFIG_INVALID error carrying a validation summary.
func ConfigInvalid(summary string) *GatewayError {
	return New(CodeConfigInvalid, summary)
}

// RateLimited builds the RATE_LIMITED error for an endpoint over its
// request cap.
func RateLimited(endpoint string) *GatewayError {
	return New(CodeRateLimited, fmt.Sprintf("endpoint %q exceeded its request limit", endpoint))
}

// NotFound builds a NOT_FOUND error for a missing endpoint or resource.
func NotFound(what string) *GatewayError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", what))
}

// Conflict builds a CONFLICT error, e.g. a duplicate configuration name.
func Conflict(what string) *GatewayError {
	return New(CodeConflict, what)
}
