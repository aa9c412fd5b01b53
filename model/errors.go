package model

import (
	"context"
	"errors"
	"fmt"
)

// Standard error codes used by the control surface.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrDialogEnded        = "DIALOG_ENDED"
)

// ErrorEnvelope is the error body returned by the control surface.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewDialogEndedError returns a DIALOG_ENDED error.
func NewDialogEndedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDialogEnded,
		Message: "The dialog has ended",
	}
}

// ClientError is a failure reported by the Client collaborator. Status is
// the transport status; zero means the request never completed.
type ClientError struct {
	Status           int    `json:"status"`
	StatusText       string `json:"statusText,omitempty"`
	ErrorID          string `json:"errorID,omitempty"`
	ExceptionType    string `json:"exceptionType,omitempty"`
	ExceptionMessage string `json:"exceptionMessage,omitempty"`
	StackTrace       string `json:"stackTrace,omitempty"`
	// Network marks a genuine connectivity failure as opposed to a
	// client-side abort.
	Network bool  `json:"-"`
	Cause   error `json:"-"`
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	switch {
	case e.ExceptionMessage != "":
		return e.ExceptionMessage
	case e.StatusText != "":
		return fmt.Sprintf("%d %s", e.Status, e.StatusText)
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return fmt.Sprintf("client error (status %d)", e.Status)
	}
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// IsBenignCancellation reports whether err is a client abort or empty
// failure that must be treated as a no-op success.
func IsBenignCancellation(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Status == 0 && !ce.Network
	}
	return false
}

// ErrorInfo is what the error handler collaborator presents to the user.
type ErrorInfo struct {
	Message    string `json:"message"`
	ID         string `json:"id,omitempty"`
	Type       string `json:"type,omitempty"`
	Details    string `json:"details,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// NewErrorInfo extracts presentable details from a request failure.
func NewErrorInfo(err error) ErrorInfo {
	var ce *ClientError
	if errors.As(err, &ce) {
		info := ErrorInfo{
			Message:    ce.Error(),
			ID:         ce.ErrorID,
			Type:       ce.ExceptionType,
			StackTrace: ce.StackTrace,
		}
		if ce.StatusText != "" && ce.ExceptionMessage != "" {
			info.Details = fmt.Sprintf("%d %s", ce.Status, ce.StatusText)
		}
		return info
	}
	return ErrorInfo{Message: err.Error()}
}
