package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Window not found"}
	want := "NOT_FOUND: Window not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
	var _ error = (*ClientError)(nil)
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "amount", Code: "REQUIRED", Message: "Amount is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "amount" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "amount")
	}
}

func TestNewDialogEndedError(t *testing.T) {
	e := NewDialogEndedError()
	if e.Code != ErrDialogEnded {
		t.Errorf("Code = %q, want %q", e.Code, ErrDialogEnded)
	}
}

func TestClientError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ClientError
		want string
	}{
		{"exception message wins", &ClientError{Status: 500, StatusText: "Internal Server Error", ExceptionMessage: "boom"}, "boom"},
		{"status text", &ClientError{Status: 502, StatusText: "Bad Gateway"}, "502 Bad Gateway"},
		{"cause", &ClientError{Cause: errors.New("dial tcp: refused")}, "dial tcp: refused"},
		{"bare", &ClientError{Status: 0}, "client error (status 0)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsBenignCancellation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"context canceled", fmt.Errorf("send: %w", context.Canceled), true},
		{"abort", &ClientError{Status: 0}, true},
		{"network", &ClientError{Status: 0, Network: true}, false},
		{"server", &ClientError{Status: 500}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBenignCancellation(tt.err); got != tt.want {
				t.Errorf("IsBenignCancellation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewErrorInfo(t *testing.T) {
	err := fmt.Errorf("round trip: %w", &ClientError{
		Status:           500,
		StatusText:       "Internal Server Error",
		ErrorID:          "E-42",
		ExceptionType:    "NullPointer",
		ExceptionMessage: "value missing",
		StackTrace:       "at X",
	})
	info := NewErrorInfo(err)
	if info.Message != "value missing" {
		t.Errorf("Message = %q", info.Message)
	}
	if info.ID != "E-42" || info.Type != "NullPointer" || info.StackTrace != "at X" {
		t.Errorf("info = %+v", info)
	}
	if info.Details != "500 Internal Server Error" {
		t.Errorf("Details = %q", info.Details)
	}

	plain := NewErrorInfo(errors.New("boom"))
	if plain.Message != "boom" {
		t.Errorf("Message = %q, want boom", plain.Message)
	}
}
