package model

import (
	"context"
	"errors"
)

// SessionContext identifies the dialog a round trip belongs to. It is
// attached to the context passed to collaborators and is immutable after
// construction.
type SessionContext struct {
	DialogID      string
	CorrelationID string
	Index         string
	Dialect       string
	Procedure     string
	TraceID       string
}

// Validate checks that the mandatory fields are present.
func (sc *SessionContext) Validate() error {
	if sc.DialogID == "" {
		return errors.New("DialogID is required")
	}
	return nil
}

type contextKey struct{}

// WithSessionContext attaches a SessionContext to the given context.
func WithSessionContext(ctx context.Context, sc *SessionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// SessionContextFrom extracts the SessionContext from the context, or
// returns nil if not present.
func SessionContextFrom(ctx context.Context) *SessionContext {
	sc, _ := ctx.Value(contextKey{}).(*SessionContext)
	return sc
}
