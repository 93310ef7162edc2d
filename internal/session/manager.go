// Package session owns the tracking session lifecycle. The manager is the
// single writer for session state and is injected into its callers; the
// at-most-one-active invariant is enforced here.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/storage"
)

// DefaultDescription is assigned to freshly started sessions.
const DefaultDescription = "No description yet"

// Store is the persistence surface the manager needs.
type Store interface {
	InsertSession(ctx context.Context, session model.Session) (int64, error)
	UpdateSession(ctx context.Context, session model.Session) error
	SessionByID(ctx context.Context, id int64) (model.Session, error)
	ActiveSessionID(ctx context.Context) (int64, error)
	DeactivateAllSessions(ctx context.Context) error
	DeleteSession(ctx context.Context, id int64) error
	SessionCounts(ctx context.Context, id int64) (wifis, cells, waypoints int64, err error)
	InsertLogFileMeta(ctx context.Context, meta model.LogFileMeta) error
}

// DeviceIdentity describes the recording device; it seeds the per-session
// log metadata row.
type DeviceIdentity struct {
	Manufacturer string
	Model        string
	Revision     string
	SoftwareID   string
	SoftwareVer  string
}

// Manager serializes session lifecycle transitions behind one lock.
type Manager struct {
	mu       sync.Mutex
	store    Store
	identity DeviceIdentity
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source; useful for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a session manager bound to the given store.
func NewManager(store Store, identity DeviceIdentity, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		identity: identity,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start invalidates any currently active session and opens a fresh one,
// returning its id.
func (m *Manager) Start(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeactivateAllSessions(ctx); err != nil {
		return 0, fmt.Errorf("session: start: %w", err)
	}

	now := m.now().UTC()
	id, err := m.store.InsertSession(ctx, model.Session{
		CreatedAt:   now,
		LastUpdated: now,
		Description: DefaultDescription,
		IsActive:    true,
	})
	if err != nil {
		return 0, fmt.Errorf("session: start: %w", err)
	}

	if err := m.store.InsertLogFileMeta(ctx, model.LogFileMeta{
		SessionID:    id,
		Manufacturer: m.identity.Manufacturer,
		Model:        m.identity.Model,
		Revision:     m.identity.Revision,
		SoftwareID:   m.identity.SoftwareID,
		SoftwareVer:  m.identity.SoftwareVer,
	}); err != nil {
		return 0, fmt.Errorf("session: log meta: %w", err)
	}

	m.logger.Info("session started", slog.Int64("session_id", id))
	return id, nil
}

// Resume reactivates an existing session by id.
func (m *Manager) Resume(ctx context.Context, id int64) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.store.SessionByID(ctx, id)
	if err != nil {
		return model.Session{}, fmt.Errorf("session: resume %d: %w", id, err)
	}

	if err := m.store.DeactivateAllSessions(ctx); err != nil {
		return model.Session{}, fmt.Errorf("session: resume %d: %w", id, err)
	}

	session.IsActive = true
	session.LastUpdated = m.now().UTC()
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return model.Session{}, fmt.Errorf("session: resume %d: %w", id, err)
	}

	m.logger.Info("session resumed", slog.Int64("session_id", id))
	return session, nil
}

// Close finalizes the active session: counts are recomputed from the
// observation tables and every session is deactivated. Closing with no
// active session is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.store.ActiveSessionID(ctx)
	if err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	if id == 0 {
		m.logger.Debug("close requested with no active session")
		return nil
	}

	session, err := m.store.SessionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("session: close: %w", err)
	}

	wifis, cells, waypoints, err := m.store.SessionCounts(ctx, id)
	if err != nil {
		return fmt.Errorf("session: close: %w", err)
	}

	session.WifiCount = wifis
	session.CellCount = cells
	session.WaypointCount = waypoints
	session.LastUpdated = m.now().UTC()
	session.IsActive = false
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}

	// Clear any stray active flags left behind by a crash.
	if err := m.store.DeactivateAllSessions(ctx); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}

	m.logger.Info("session closed",
		slog.Int64("session_id", id),
		slog.Int64("wifis", wifis),
		slog.Int64("cells", cells),
		slog.Int64("waypoints", waypoints),
	)
	return nil
}

// ActiveID returns the id of the active session, or 0 when none is active.
func (m *Manager) ActiveID(ctx context.Context) (int64, error) {
	return m.store.ActiveSessionID(ctx)
}

// Delete removes a session and all of its dependent rows.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("session: delete %d: %w", id, err)
	}
	m.logger.Info("session deleted", slog.Int64("session_id", id))
	return nil
}

// MarkExported flags a session as exported.
func (m *Manager) MarkExported(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.store.SessionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("session: mark exported %d: %w", id, err)
	}
	session.Exported = true
	session.LastUpdated = m.now().UTC()
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("session: mark exported %d: %w", id, err)
	}
	return nil
}

var _ Store = (*storage.Store)(nil)
