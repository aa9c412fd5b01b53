package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/observability"
)

// Store is the model.StateService of one scope. Values are JSON encoded,
// loaded lazily on first access and written back on Save. It is safe for
// concurrent use.
type Store struct {
	backend Backend
	scope   string
	metrics *observability.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	loaded bool
	values map[string][]byte
	dirty  map[string]struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreMetrics records state store operations.
func WithStoreMetrics(m *observability.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store for scope on top of backend.
func NewStore(backend Backend, scope string, opts ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		scope:   scope,
		logger:  zap.NewNop(),
		values:  make(map[string][]byte),
		dirty:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scope returns the scope this store reads and writes.
func (s *Store) Scope() string { return s.scope }

// Get decodes the value stored under name into dst.
func (s *Store) Get(ctx context.Context, name string, dst any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		s.record("get", "error")
		return false, err
	}
	raw, ok := s.values[name]
	if !ok {
		s.record("get", "miss")
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.record("get", "error")
		return false, fmt.Errorf("decode state %q: %w", name, err)
	}
	s.record("get", "ok")
	return true, nil
}

// Set stages value under name.
func (s *Store) Set(_ context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		s.record("set", "error")
		return fmt.Errorf("encode state %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = raw
	s.dirty[name] = struct{}{}
	s.record("set", "ok")
	return nil
}

// Save writes every staged value to the backend. Values staged while a
// save fails stay staged for the next attempt.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}
	entries := make(map[string][]byte, len(s.dirty))
	for name := range s.dirty {
		entries[name] = s.values[name]
	}
	ctx, span := observability.StartSpan(ctx, "state.save",
		observability.AttrStateDriver.String(s.backend.Driver()),
		observability.AttrStateScope.String(s.scope))
	err := s.backend.Store(ctx, s.scope, entries)
	observability.EndSpanWithError(span, err)
	if err != nil {
		s.record("save", "error")
		s.logger.Warn("state save failed",
			zap.String("scope", s.scope),
			zap.Int("entries", len(entries)),
			zap.Error(err))
		return fmt.Errorf("save state: %w", err)
	}
	clear(s.dirty)
	s.record("save", "ok")
	return nil
}

// load fetches the scope once. Staged values win over loaded ones. Must be
// called with the lock held.
func (s *Store) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	ctx, span := observability.StartSpan(ctx, "state.load",
		observability.AttrStateDriver.String(s.backend.Driver()),
		observability.AttrStateScope.String(s.scope))
	stored, err := s.backend.Load(ctx, s.scope)
	observability.EndSpanWithError(span, err)
	if err != nil {
		s.record("load", "error")
		return fmt.Errorf("load state: %w", err)
	}
	for name, v := range stored {
		if _, staged := s.dirty[name]; !staged {
			s.values[name] = v
		}
	}
	s.loaded = true
	s.record("load", "ok")
	s.logger.Debug("state loaded", zap.String("scope", s.scope), zap.Int("entries", len(stored)))
	return nil
}

func (s *Store) record(op, result string) {
	s.metrics.RecordStateStoreOp(s.backend.Driver(), op, result)
}
