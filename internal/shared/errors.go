package shared

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

// Capture-path error classes. Configuration and Permission errors are fatal for
// the session they occur in; Transport errors trigger the streaming fallback;
// Payload errors are rate-limited and self-heal on the next capture segment;
// Persistence errors never roll back an already-delivered transcript.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrPermission    = errors.New("permission denied")
	ErrDevice        = errors.New("no audio input available")
	ErrTransport     = errors.New("transport failure")
	ErrPayload       = errors.New("payload rejected")
	ErrPersistence   = errors.New("persistence failure")
)

type ErrorClass string

const (
	ClassConfiguration ErrorClass = "configuration"
	ClassPermission    ErrorClass = "permission"
	ClassDevice        ErrorClass = "device"
	ClassTransport     ErrorClass = "transport"
	ClassPayload       ErrorClass = "payload"
	ClassPersistence   ErrorClass = "persistence"
	ClassUnknown       ErrorClass = "unknown"
)

func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrConfiguration):
		return ClassConfiguration
	case errors.Is(err, ErrPermission):
		return ClassPermission
	case errors.Is(err, ErrDevice):
		return ClassDevice
	case errors.Is(err, ErrTransport):
		return ClassTransport
	case errors.Is(err, ErrPayload):
		return ClassPayload
	case errors.Is(err, ErrPersistence):
		return ClassPersistence
	}
	return ClassUnknown
}

// Fatal reports whether an error should terminate the capture session rather
// than retry or fall back.
func Fatal(err error) bool {
	switch Classify(err) {
	case ClassConfiguration, ClassPermission, ClassDevice:
		return true
	}
	return false
}

type APIError struct {
	Code    string `json:"code" example:"invalid_request"`
	Message string `json:"message" example:"Invalid request body"`
	Details any    `json:"details,omitempty"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func Unauthorized(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusUnauthorized)
}

func Forbidden(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusForbidden)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}

func Conflict(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusConflict)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}
