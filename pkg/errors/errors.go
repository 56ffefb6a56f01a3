package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error carrying a stable code, a display message and
// the HTTP status it maps to when rendered by the dev server.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches another AppError by code so copies made with WithInternal or
// WithMessage still satisfy errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *AppError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code != "" && e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError with a replacement display message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Errors shared by the client core and the dev server.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrAccessDenied marks an interview chat turn refused because the caller is
	// outside the scheduled interview window. It is an expected outcome.
	ErrAccessDenied = &AppError{
		Code:       "INTERVIEW_ACCESS_DENIED",
		Message:    "Interview chat is not available right now",
		StatusCode: http.StatusForbidden,
	}

	ErrTurnInFlight = &AppError{
		Code:       "CHAT_TURN_IN_FLIGHT",
		Message:    "A message is already being sent",
		StatusCode: http.StatusConflict,
	}

	ErrSessionClosed = &AppError{
		Code:       "CHAT_SESSION_CLOSED",
		Message:    "Chat session is closed",
		StatusCode: http.StatusGone,
	}

	// ErrChatUnavailable is the transient, retryable chat failure.
	ErrChatUnavailable = &AppError{
		Code:       "CHAT_UNAVAILABLE",
		Message:    "Message could not be delivered, try again",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrChannelClosed = &AppError{
		Code:       "EVENT_CHANNEL_CLOSED",
		Message:    "Event channel is closed",
		StatusCode: http.StatusGone,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}
