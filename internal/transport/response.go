// Package transport contains the HTTP control surface that drives headless
// dialog sessions.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/cooldialog/internal/dialog"
	"github.com/pitabwire/cooldialog/internal/headless"
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/internal/session"
	"github.com/pitabwire/cooldialog/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrDialogEnded:        http.StatusGone,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the matching
// HTTP status. Errors that are not envelopes are translated by toEnvelope.
func WriteError(w http.ResponseWriter, err error) {
	ee := toEnvelope(err)
	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// toEnvelope maps package errors of the dialog runtime to envelopes.
func toEnvelope(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	var ce *model.ClientError
	switch {
	case errors.Is(err, headless.ErrSessionNotFound),
		errors.Is(err, headless.ErrPromptNotFound),
		errors.Is(err, dialog.ErrNotFound):
		return model.NewNotFoundError(err.Error())
	case errors.Is(err, headless.ErrInvalidChoice),
		errors.Is(err, session.ErrInvalidLocation):
		return model.NewBadRequestError(err.Error())
	case errors.Is(err, loop.ErrStopped):
		return model.NewDialogEndedError()
	case errors.As(err, &ce):
		if ce.Status == 0 || ce.Status >= http.StatusInternalServerError {
			return &model.ErrorEnvelope{Code: model.ErrBackendUnavailable, Message: ce.Error()}
		}
		return model.NewBadRequestError(ce.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return &model.ErrorEnvelope{Code: model.ErrBackendTimeout, Message: "The request timed out"}
	}
	return model.NewInternalError()
}
