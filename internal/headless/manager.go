package headless

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/config"
	"github.com/pitabwire/cooldialog/internal/dialog"
	"github.com/pitabwire/cooldialog/internal/focus"
	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/internal/observability"
	"github.com/pitabwire/cooldialog/internal/session"
	"github.com/pitabwire/cooldialog/model"
)

// DefaultScope is the state scope of sessions created without one.
const DefaultScope = "default"

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Session is a running dialog with its headless collaborators.
type Session struct {
	Dialog   *dialog.Dialog
	Prompter *Prompter
	Recorder *Recorder
	Location *session.URLLocation
	State    *session.Store
	Created  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	views map[*model.Window]*View
}

// ID returns the dialog id.
func (s *Session) ID() string { return s.Dialog.ID() }

// View returns the view of window of procedure procedureID.
func (s *Session) View(ctx context.Context, procedureID int64, window string) (*View, error) {
	_, w, err := s.Dialog.Lookup(ctx, procedureID, window)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[w]
	if !ok {
		v = NewView(s.Dialog, w)
		s.views[w] = v
		s.Dialog.AttachView(v)
	}
	return v, nil
}

// syncViews attaches a view to every new window and drops views of windows
// that are gone.
func (s *Session) syncViews(ctx context.Context) error {
	windows, err := s.Dialog.Windows(ctx)
	if err != nil {
		return err
	}
	live := make(map[*model.Window]bool, len(windows))
	for _, w := range windows {
		live[w] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range windows {
		if _, ok := s.views[w]; !ok {
			v := NewView(s.Dialog, w)
			s.views[w] = v
			s.Dialog.AttachView(v)
		}
	}
	for w, v := range s.views {
		if !live[w] {
			v.Release()
			s.Dialog.DetachView(v)
			delete(s.views, w)
		}
	}
	return nil
}

func (s *Session) watch(ctx context.Context, logger *zap.Logger) {
	changes, unsubscribe := s.Dialog.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Dialog.Done():
			return
		case <-changes:
			if err := s.syncViews(ctx); err != nil && ctx.Err() == nil {
				logger.Debug("view sync failed", zap.Error(err))
			}
		}
	}
}

// CreateOptions describes a new session.
type CreateOptions struct {
	// Location is the URL the startup action is derived from.
	Location string
	// Scope groups persisted UI state, usually per user.
	Scope string
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Config  *config.Config
	Client  model.Client
	Backend session.Backend
	Pages   model.PageResolver
	Clock   loop.Clock
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Manager creates and tracks headless sessions.
type Manager struct {
	opts       ManagerOptions
	logger     *zap.Logger
	nextWindow focus.Combo
	prevWindow focus.Combo

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager. Keyboard combinations in the config must
// parse.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Client == nil {
		return nil, dialog.ErrNoClient
	}
	if opts.Config == nil {
		opts.Config = config.Defaults()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Backend == nil {
		opts.Backend = session.NewMemoryBackend(opts.Config.StateStore.TTL)
	}
	if opts.Pages == nil {
		opts.Pages = NewPageRegistry(nil)
	}

	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
	var err error
	if kb := opts.Config.Keyboard; kb.NextWindow != "" {
		if m.nextWindow, err = focus.ParseCombo(kb.NextWindow); err != nil {
			return nil, fmt.Errorf("keyboard.next_window: %w", err)
		}
	}
	if kb := opts.Config.Keyboard; kb.PrevWindow != "" {
		if m.prevWindow, err = focus.ParseCombo(kb.PrevWindow); err != nil {
			return nil, fmt.Errorf("keyboard.prev_window: %w", err)
		}
	}
	return m, nil
}

// Create starts a session and performs its startup action. It returns once
// the startup round trip settled or ctx ended; the session keeps running
// until Delete or Close.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Session, bool, error) {
	cfg := m.opts.Config
	loc, err := session.ParseLocation(opts.Location, session.LocationDefaults{
		Procedure:   cfg.Dialog.Procedure,
		CommandLine: cfg.Dialog.CommandLine,
		Dialect:     cfg.Dialog.Dialect,
	})
	if err != nil {
		return nil, false, err
	}
	scope := opts.Scope
	if scope == "" {
		scope = DefaultScope
	}

	prompter := NewPrompter(cfg.Dialog.AutoAnswer, m.logger)
	recorder := NewRecorder(m.logger)
	store := session.NewStore(m.opts.Backend, scope,
		session.WithStoreMetrics(m.opts.Metrics),
		session.WithStoreLogger(m.logger))

	d, err := dialog.New(dialog.Options{
		Client:           m.opts.Client,
		Location:         loc,
		Pages:            m.opts.Pages,
		MessageBox:       prompter,
		UploadBox:        prompter,
		Errors:           recorder,
		Launcher:         recorder,
		State:            store,
		Clock:            m.opts.Clock,
		Logger:           m.logger,
		Metrics:          m.opts.Metrics,
		Dialect:          cfg.Dialog.Dialect,
		ActivateDebounce: cfg.Dialog.ActivateDebounce,
		FocusDebounce:    cfg.Dialog.FocusDebounce,
		NextWindow:       m.nextWindow,
		PrevWindow:       m.prevWindow,
		Messages:         cfg.Dialog.Messages,
	})
	if err != nil {
		return nil, false, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Dialog:   d,
		Prompter: prompter,
		Recorder: recorder,
		Location: loc,
		State:    store,
		Created:  time.Now().UTC(),
		cancel:   cancel,
		done:     make(chan struct{}),
		views:    make(map[*model.Window]*View),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, false, errors.New("manager is closed")
	}
	m.sessions[d.ID()] = s
	m.mu.Unlock()

	logger := m.logger.With(zap.String("dialog_id", d.ID()))
	go func() {
		defer close(s.done)
		if err := d.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("dialog stopped", zap.Error(err))
		}
	}()
	go s.watch(runCtx, logger)

	logger.Info("session created", zap.String("scope", scope), zap.String("location", loc.String()))

	result, err := d.Init(ctx)
	if err != nil {
		m.Delete(d.ID())
		return nil, false, err
	}
	ok, err := result.Wait(ctx)
	if err != nil {
		return s, false, nil
	}
	return s, ok, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Delete stops a session and waits for its loop to exit.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.cancel()
	<-s.done
	m.logger.Info("session deleted", zap.String("dialog_id", id))
	return nil
}

// Close stops every session. Sessions cannot be created afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
	for _, s := range sessions {
		<-s.done
	}
}

// Len returns the number of running sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// HealthCheck reports whether the state backend is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.opts.Backend.HealthCheck(ctx)
}
