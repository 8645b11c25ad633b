// Package editor manages per-record metadata edit sessions: a raw JSON text
// buffer, the save/cancel lifecycle, and the deferred-login retry that
// re-submits a save once the out-of-band login flow broadcasts success.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/broadcast"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/metrics"
)

// Status is one session's state.
type Status int

const (
	StatusEditing Status = iota
	StatusSaving
	StatusAwaitingAuth
)

var (
	// ErrInvalidJSON marks a buffer that does not parse; it never reaches
	// the network.
	ErrInvalidJSON = errors.New("metadata buffer is not valid JSON")
	// ErrAlreadyEditing is returned when a session for the record exists.
	ErrAlreadyEditing = errors.New("record already has an open edit session")
	// ErrNoSession is returned for operations on a record without one.
	ErrNoSession = errors.New("no edit session for record")
)

// Updater is the authenticated metadata mutation endpoint.
type Updater interface {
	UpdateMetadata(ctx context.Context, id int64, metadata map[string]any) (*catalogue.Record, error)
}

// LoginOpener starts the out-of-band login flow (a browser tab in the UI, a
// printed URL in the CLI).
type LoginOpener interface {
	OpenLogin() error
}

// LoginOpenerFunc adapts a function to LoginOpener.
type LoginOpenerFunc func() error

func (f LoginOpenerFunc) OpenLogin() error { return f() }

type session struct {
	id     int64
	buffer string
	status Status
	prompt bool
	sub    *broadcast.Subscription
}

// Manager owns all edit sessions. Sessions for different records are
// independent; at most one exists per record.
type Manager struct {
	mu       sync.Mutex
	updater  Updater
	broker   *broadcast.Broker
	login    LoginOpener
	onSaved  func(rec catalogue.Record, editedAt time.Time)
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	sessions map[int64]*session
	wg       sync.WaitGroup
	closed   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLoginOpener sets how the login flow is started on an auth failure.
func WithLoginOpener(l LoginOpener) ManagerOption {
	return func(m *Manager) { m.login = l }
}

// WithOnSaved registers the merge hook applied after a successful save,
// typically wired to the search engine's in-place record update.
func WithOnSaved(fn func(rec catalogue.Record, editedAt time.Time)) ManagerOption {
	return func(m *Manager) { m.onSaved = fn }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches save/retry counters.
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// WithClock replaces the last-edited timestamp source (tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager saving through updater and listening for
// login-success signals on broker.
func NewManager(updater Updater, broker *broadcast.Broker, opts ...ManagerOption) *Manager {
	m := &Manager{
		updater:  updater,
		broker:   broker,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[int64]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnterEdit opens a session for the record and returns the formatted JSON
// buffer seeded from its current metadata.
func (m *Manager) EnterEdit(id int64, metadata map[string]any) (string, error) {
	buf, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing metadata: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", errors.New("editor is shut down")
	}
	if _, ok := m.sessions[id]; ok {
		return "", ErrAlreadyEditing
	}
	m.sessions[id] = &session{id: id, buffer: string(buf)}
	return string(buf), nil
}

// SetBuffer replaces the session's raw JSON text.
func (m *Manager) SetBuffer(id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNoSession
	}
	s.buffer = text
	return nil
}

// Buffer returns the session's current raw JSON text.
func (m *Manager) Buffer(id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return "", ErrNoSession
	}
	return s.buffer, nil
}

// Editing reports whether the record has an open session.
func (m *Manager) Editing(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// SessionStatus returns the session's state.
func (m *Manager) SessionStatus(id int64) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0, false
	}
	return s.status, true
}

// LoginPromptVisible reports whether the persistent login prompt is showing.
func (m *Manager) LoginPromptVisible(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return ok && s.prompt
}

// Save parses the buffer and submits it. Outcomes:
//   - invalid JSON: ErrInvalidJSON, nothing sent;
//   - success: merge hook runs, the session closes;
//   - auth required: the login prompt comes up, the login flow is opened,
//     and one retry is armed per login-success broadcast;
//   - any other error: the session stays in editing for a manual retry.
func (m *Manager) Save(ctx context.Context, id int64) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}

	var md map[string]any
	if err := json.Unmarshal([]byte(s.buffer), &md); err != nil {
		m.mu.Unlock()
		m.metrics.EditSave("invalid_json")
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	s.status = StatusSaving
	m.mu.Unlock()

	rec, err := m.updater.UpdateMetadata(ctx, id, md)

	m.mu.Lock()
	if m.sessions[id] != s {
		// Cancelled while the request was in flight; drop the outcome.
		m.mu.Unlock()
		return nil
	}

	switch {
	case err == nil:
		m.teardownLocked(s)
		delete(m.sessions, id)
		onSaved := m.onSaved
		editedAt := m.now().UTC()
		m.mu.Unlock()
		m.metrics.EditSave("success")
		if onSaved != nil {
			onSaved(*rec, editedAt)
		}
		return nil

	case errors.Is(err, catalogue.ErrAuthRequired):
		s.status = StatusAwaitingAuth
		s.prompt = true
		if s.sub == nil {
			s.sub = m.broker.Subscribe(broadcast.TopicAuth)
			m.wg.Add(1)
			go m.awaitLogin(id, s.sub)
		}
		login := m.login
		m.mu.Unlock()
		m.metrics.EditSave("auth_required")
		if login != nil {
			if openErr := login.OpenLogin(); openErr != nil {
				m.logger.Warn("opening login flow failed", "record", id, "error", openErr)
			}
		}
		return err

	default:
		s.status = StatusEditing
		m.mu.Unlock()
		m.metrics.EditSave("error")
		return err
	}
}

// awaitLogin re-submits the save exactly once per login-success signal. It
// exits when the subscription closes (cancel, success, dismiss, teardown).
func (m *Manager) awaitLogin(id int64, sub *broadcast.Subscription) {
	defer m.wg.Done()
	for msg := range sub.C {
		if msg.Payload != broadcast.LoginSuccess {
			continue
		}
		m.metrics.AuthRetry()
		if err := m.Save(context.Background(), id); err != nil {
			m.logger.Warn("save retry after login failed", "record", id, "error", err)
		}
	}
}

// CancelEdit discards the buffer and tears down any armed retry.
func (m *Manager) CancelEdit(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNoSession
	}
	m.teardownLocked(s)
	delete(m.sessions, id)
	return nil
}

// DismissPrompt hides the login prompt and disarms the automatic retry; the
// session stays open for manual retry or cancel.
func (m *Manager) DismissPrompt(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNoSession
	}
	s.prompt = false
	s.status = StatusEditing
	m.teardownLocked(s)
	return nil
}

// Close tears down every session and waits for retry listeners to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, s := range m.sessions {
		m.teardownLocked(s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) teardownLocked(s *session) {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}
