// Package session persists per-session UI state (window geometry and
// similar) and maps navigable locations to dialog startup actions.
package session

import "context"

// Backend stores encoded state entries grouped by scope. A scope usually
// identifies one user or client installation.
type Backend interface {
	// Load returns every live entry stored under scope. A scope with no
	// entries yields an empty map, not an error.
	Load(ctx context.Context, scope string) (map[string][]byte, error)

	// Store writes entries under scope, replacing existing values with the
	// same name and refreshing the scope's expiry.
	Store(ctx context.Context, scope string, entries map[string][]byte) error

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Driver names the backend for metrics and logs.
	Driver() string
}
