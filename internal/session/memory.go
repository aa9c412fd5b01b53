package session

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/cooldialog/internal/config"
)

// MemoryBackend is an in-memory Backend with per-scope expiry. Suitable for
// testing and single-instance deployments.
type MemoryBackend struct {
	mu     sync.RWMutex
	scopes map[string]*memScope
	ttl    time.Duration
	now    func() time.Time
}

type memScope struct {
	entries   map[string][]byte
	expiresAt time.Time
}

// NewMemoryBackend creates an in-memory backend. A zero ttl keeps entries
// forever.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		scopes: make(map[string]*memScope),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Load returns a copy of the entries stored under scope.
func (b *MemoryBackend) Load(_ context.Context, scope string) (map[string][]byte, error) {
	b.mu.RLock()
	s, exists := b.scopes[scope]
	b.mu.RUnlock()

	out := make(map[string][]byte)
	if !exists {
		return out, nil
	}

	if b.expired(s) {
		b.mu.Lock()
		delete(b.scopes, scope)
		b.mu.Unlock()
		return out, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, v := range s.entries {
		out[name] = append([]byte(nil), v...)
	}
	return out, nil
}

// Store merges entries into scope.
func (b *MemoryBackend) Store(_ context.Context, scope string, entries map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.scopes[scope]
	if !exists || b.expired(s) {
		s = &memScope{entries: make(map[string][]byte)}
		b.scopes[scope] = s
	}
	for name, v := range entries {
		s.entries[name] = append([]byte(nil), v...)
	}
	if b.ttl > 0 {
		s.expiresAt = b.now().Add(b.ttl)
	}
	return nil
}

// HealthCheck always succeeds.
func (b *MemoryBackend) HealthCheck(context.Context) error { return nil }

// Driver returns "memory".
func (b *MemoryBackend) Driver() string { return config.DriverMemory }

// Len returns the number of scopes (including expired ones). For testing.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.scopes)
}

func (b *MemoryBackend) expired(s *memScope) bool {
	return !s.expiresAt.IsZero() && b.now().After(s.expiresAt)
}
