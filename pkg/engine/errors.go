package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// ApiError is an error with an explicit HTTP status. Action handlers return
// it (or any error implementing StatusCoder) to control the response status;
// anything else becomes a 500.
type ApiError struct {
	Status  int
	Message string
}

func (e *ApiError) Error() string { return e.Message }

// StatusCode implements StatusCoder.
func (e *ApiError) StatusCode() int { return e.Status }

// StatusCoder is the contract status-carrying errors implement. The rql and
// path packages return errors satisfying it without importing this package.
type StatusCoder interface {
	error
	StatusCode() int
}

// NewApiError creates an ApiError with a formatted message.
func NewApiError(status int, format string, args ...interface{}) *ApiError {
	return &ApiError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// BadRequest creates a 400 error.
func BadRequest(format string, args ...interface{}) *ApiError {
	return NewApiError(http.StatusBadRequest, format, args...)
}

// Unauthorized creates a 401 error.
func Unauthorized(format string, args ...interface{}) *ApiError {
	return NewApiError(http.StatusUnauthorized, format, args...)
}

// Forbidden creates a 403 error.
func Forbidden(format string, args ...interface{}) *ApiError {
	return NewApiError(http.StatusForbidden, format, args...)
}

// NotFound creates a 404 error.
func NotFound(format string, args ...interface{}) *ApiError {
	return NewApiError(http.StatusNotFound, format, args...)
}

// statusOf classifies an error: StatusCoder errors keep their status,
// everything else is a 500.
func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
