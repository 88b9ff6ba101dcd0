// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/datastore"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/session"
	"github.com/stepdash/backend/internal/storage"
	"github.com/stepdash/backend/internal/upload"
	"github.com/stepdash/backend/internal/wizard"
	"go.uber.org/zap"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewTooLargeError creates a 413 error for oversized uploads
func NewTooLargeError(message string) *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "TOO_LARGE",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// fromDomainError maps package sentinel errors onto API errors. Anything
// unrecognised becomes a 500 carrying the cause.
func fromDomainError(err error, message string) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionClosed):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, datastore.ErrFileNotFound),
		errors.Is(err, datastore.ErrRowOutOfRange),
		errors.Is(err, upload.ErrJobNotFound),
		errors.Is(err, wizard.ErrFlowNotFound),
		errors.Is(err, storage.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, datastore.ErrNoData):
		return &APIError{Status: http.StatusNotFound, Code: "NO_DATA", Message: err.Error()}
	case errors.Is(err, datastore.ErrUnknownOperation),
		errors.Is(err, datastore.ErrEmptyKey),
		errors.Is(err, parser.ErrUnknownColumn),
		errors.Is(err, parser.ErrUnsupportedFileType):
		return NewBadRequestError(err.Error(), nil)
	case errors.Is(err, storage.ErrTooLarge):
		return NewTooLargeError(err.Error())
	}
	return NewInternalError(message, err)
}

// NewErrorHandler returns the echo error handler. Internal errors are logged;
// their details are only sent to the client when debug is set.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(log, debug)
func NewErrorHandler(log *zap.Logger, debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = &APIError{
				Status:  httpErr.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", httpErr.Message),
			}
		default:
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "UNKNOWN_ERROR",
				Message: "An unexpected error occurred",
				Details: err.Error(),
			}
		}

		if apiErr.Status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.String("code", apiErr.Code),
				zap.Error(err))
			if !debug && apiErr.Details != "" {
				cp := *apiErr
				cp.Details = ""
				apiErr = &cp
			}
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}
