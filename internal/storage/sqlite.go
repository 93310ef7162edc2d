// Package storage persists sessions, positions, and wifi/cell observations
// in a local SQLite database and exposes the queries the rest of the
// pipeline is built on.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openbmap/radiobeacon-core/internal/observability"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Config holds configuration values for the SQLite store.
type Config struct {
	Path                string
	MaintenanceInterval time.Duration
}

// Store owns the SQLite connection and all reads/writes against it.
// Writers use short-lived transactions scoped to one logical operation so
// long-running exports never stall concurrent scanning.
type Store struct {
	cfg  Config
	db   *sql.DB
	wg   sync.WaitGroup
	once sync.Once

	logger  *slog.Logger
	metrics *observability.Metrics

	maintenanceStop chan struct{}
}

// Option configures the store.
type Option func(*Store)

// WithLogger injects a structured logger into the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// New constructs a store with the provided configuration.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: database path must be provided")
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 6 * time.Hour
	}

	s := &Store{
		cfg:             cfg,
		logger:          slog.Default(),
		maintenanceStop: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// Start opens the database, runs migrations, and begins periodic maintenance.
func (s *Store) Start(ctx context.Context) error {
	abs, err := filepath.Abs(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("storage: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}

	// Per-connection pragmas must ride the DSN: database/sql pools
	// connections and a plain PRAGMA exec would only reach one of them.
	dsn := "file:" + abs +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(30000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("storage: open sqlite: %w", err)
	}

	if err := configureConnection(db); err != nil {
		db.Close()
		return err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.startMaintenance(ctx)

	return nil
}

// Stop finalises the store and closes the database connection.
func (s *Store) Stop() error {
	s.once.Do(func() {
		if s.maintenanceStop != nil {
			close(s.maintenanceStop)
		}
		s.wg.Wait()
		if s.db != nil {
			s.runFinalMaintenance()
			_ = s.db.Close()
		}
	})
	return nil
}

func (s *Store) startMaintenance(ctx context.Context) {
	if s.cfg.MaintenanceInterval <= 0 || s.db == nil {
		return
	}

	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.maintenanceStop:
				return
			case <-ticker.C:
				if err := s.runMaintenance(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Warn("sqlite maintenance failed", slog.Any("error", err))
				}
			}
		}
	}()
}

func (s *Store) runMaintenance(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("maintenance: wal_checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("maintenance: optimize: %w", err)
	}
	s.logger.Info("sqlite maintenance completed",
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (s *Store) runFinalMaintenance() {
	if s.db == nil {
		return
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("final maintenance checkpoint failed", slog.Any("error", err))
	}
	if _, err := s.db.Exec("VACUUM"); err != nil {
		s.logger.Warn("final maintenance vacuum failed", slog.Any("error", err))
	}
	if _, err := s.db.Exec("ANALYZE"); err != nil {
		s.logger.Warn("final maintenance analyze failed", slog.Any("error", err))
	}
}

func configureConnection(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA temp_store=MEMORY",
		"PRAGMA wal_autocheckpoint=1000",
		"PRAGMA journal_size_limit=67108864",
		"PRAGMA cache_size=-8192",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("storage: apply pragma %q: %w", pragma, err)
		}
	}

	return nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        created_at INTEGER NOT NULL,
        last_updated INTEGER NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        is_active INTEGER NOT NULL DEFAULT 0,
        exported INTEGER NOT NULL DEFAULT 0,
        wifi_count INTEGER NOT NULL DEFAULT 0,
        cell_count INTEGER NOT NULL DEFAULT 0,
        waypoint_count INTEGER NOT NULL DEFAULT 0
    )`)
	if err != nil {
		return fmt.Errorf("storage: migrate sessions: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS positions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id INTEGER NOT NULL,
        latitude REAL NOT NULL,
        longitude REAL NOT NULL,
        altitude REAL NOT NULL DEFAULT 0,
        accuracy REAL NOT NULL DEFAULT 0,
        bearing REAL NOT NULL DEFAULT 0,
        speed REAL NOT NULL DEFAULT 0,
        timestamp INTEGER NOT NULL,
        source TEXT NOT NULL DEFAULT 'gps',
        FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
    )`)
	if err != nil {
		return fmt.Errorf("storage: migrate positions: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_positions_session_timestamp ON positions(session_id, timestamp)`); err != nil {
		return fmt.Errorf("storage: create positions index: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS wifi_observations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id INTEGER NOT NULL,
        bssid TEXT NOT NULL,
        bssid_numeric INTEGER NOT NULL,
        ssid TEXT NOT NULL DEFAULT '',
        ssid_hash TEXT NOT NULL DEFAULT '',
        capabilities TEXT NOT NULL DEFAULT '',
        frequency INTEGER NOT NULL DEFAULT 0,
        level INTEGER NOT NULL DEFAULT 0,
        timestamp INTEGER NOT NULL,
        begin_position_id INTEGER NOT NULL,
        end_position_id INTEGER NOT NULL,
        catalog_status INTEGER NOT NULL DEFAULT 0,
        FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE,
        FOREIGN KEY(begin_position_id) REFERENCES positions(id) ON DELETE CASCADE,
        FOREIGN KEY(end_position_id) REFERENCES positions(id) ON DELETE CASCADE
    )`)
	if err != nil {
		return fmt.Errorf("storage: migrate wifi_observations: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_wifi_session_timestamp ON wifi_observations(session_id, timestamp)`); err != nil {
		return fmt.Errorf("storage: create wifi session index: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_wifi_bssid ON wifi_observations(bssid)`); err != nil {
		return fmt.Errorf("storage: create wifi bssid index: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cell_observations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id INTEGER NOT NULL,
        network_type INTEGER NOT NULL DEFAULT 0,
        is_cdma INTEGER NOT NULL DEFAULT 0,
        is_serving INTEGER NOT NULL DEFAULT 0,
        is_neighbor INTEGER NOT NULL DEFAULT 0,
        logical_cell_id INTEGER NOT NULL DEFAULT -1,
        actual_cell_id INTEGER NOT NULL DEFAULT -1,
        psc INTEGER NOT NULL DEFAULT -1,
        utran_rnc INTEGER NOT NULL DEFAULT -1,
        area INTEGER NOT NULL DEFAULT -1,
        base_id INTEGER NOT NULL DEFAULT -1,
        network_id INTEGER NOT NULL DEFAULT -1,
        system_id INTEGER NOT NULL DEFAULT -1,
        operator_name TEXT NOT NULL DEFAULT '',
        operator_code TEXT NOT NULL DEFAULT '',
        mcc TEXT NOT NULL DEFAULT '',
        mnc TEXT NOT NULL DEFAULT '',
        strength_dbm INTEGER NOT NULL DEFAULT 0,
        strength_asu INTEGER NOT NULL DEFAULT 0,
        timestamp INTEGER NOT NULL,
        begin_position_id INTEGER NOT NULL,
        end_position_id INTEGER NOT NULL,
        FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE,
        FOREIGN KEY(begin_position_id) REFERENCES positions(id) ON DELETE CASCADE,
        FOREIGN KEY(end_position_id) REFERENCES positions(id) ON DELETE CASCADE
    )`)
	if err != nil {
		return fmt.Errorf("storage: migrate cell_observations: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_cell_session_timestamp ON cell_observations(session_id, timestamp)`); err != nil {
		return fmt.Errorf("storage: create cell session index: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS log_file_meta (
        session_id INTEGER PRIMARY KEY,
        manufacturer TEXT NOT NULL DEFAULT '',
        model TEXT NOT NULL DEFAULT '',
        revision TEXT NOT NULL DEFAULT '',
        software_id TEXT NOT NULL DEFAULT '',
        software_version TEXT NOT NULL DEFAULT '',
        FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
    )`)
	if err != nil {
		return fmt.Errorf("storage: migrate log_file_meta: %w", err)
	}

	return nil
}
