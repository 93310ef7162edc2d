package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openbmap/radiobeacon-core/internal/model"
)

// InsertSession writes a new session row and returns its generated id.
func (s *Store) InsertSession(ctx context.Context, session model.Session) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO sessions (
        created_at,
        last_updated,
        description,
        is_active,
        exported,
        wifi_count,
        cell_count,
        waypoint_count
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		timeToMillis(session.CreatedAt),
		timeToMillis(session.LastUpdated),
		session.Description,
		boolToInt(session.IsActive),
		boolToInt(session.Exported),
		session.WifiCount,
		session.CellCount,
		session.WaypointCount,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: session insert id: %w", err)
	}
	return id, nil
}

// UpdateSession persists all mutable session fields.
func (s *Store) UpdateSession(ctx context.Context, session model.Session) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET
        last_updated = ?,
        description = ?,
        is_active = ?,
        exported = ?,
        wifi_count = ?,
        cell_count = ?,
        waypoint_count = ?
    WHERE id = ?`,
		timeToMillis(session.LastUpdated),
		session.Description,
		boolToInt(session.IsActive),
		boolToInt(session.Exported),
		session.WifiCount,
		session.CellCount,
		session.WaypointCount,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update session %d: %w", session.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update session rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionByID loads a full session row.
func (s *Store) SessionByID(ctx context.Context, id int64) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
        id, created_at, last_updated, description, is_active, exported,
        wifi_count, cell_count, waypoint_count
    FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ActiveSessionID returns the id of the active session, or 0 if none.
// Single-column fast path; no full row deserialization.
func (s *Store) ActiveSessionID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE is_active = 1 ORDER BY last_updated DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: active session id: %w", err)
	}
	return id, nil
}

// DeactivateAllSessions clears the is_active flag on every session.
func (s *Store) DeactivateAllSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("storage: deactivate sessions: %w", err)
	}
	return nil
}

// DeleteSession removes a session; positions and observations cascade.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete session %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: delete session rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Sessions returns all sessions ordered by creation time.
func (s *Store) Sessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
        id, created_at, last_updated, description, is_active, exported,
        wifi_count, cell_count, waypoint_count
    FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate sessions: %w", err)
	}
	return sessions, nil
}

// SessionCounts recomputes the measurement tallies for a session straight
// from the observation tables.
func (s *Store) SessionCounts(ctx context.Context, id int64) (wifis, cells, waypoints int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT
        (SELECT COUNT(*) FROM wifi_observations WHERE session_id = ?),
        (SELECT COUNT(*) FROM cell_observations WHERE session_id = ?),
        (SELECT COUNT(*) FROM positions WHERE session_id = ? AND source = ?)`,
		id, id, id, string(model.SourceWaypoint),
	).Scan(&wifis, &cells, &waypoints)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("storage: session counts: %w", err)
	}
	return wifis, cells, waypoints, nil
}

// InsertLogFileMeta records the device/software identity for a session.
// Re-inserting for the same session overwrites the previous row.
func (s *Store) InsertLogFileMeta(ctx context.Context, meta model.LogFileMeta) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO log_file_meta (
        session_id, manufacturer, model, revision, software_id, software_version
    ) VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT(session_id) DO UPDATE SET
        manufacturer=excluded.manufacturer,
        model=excluded.model,
        revision=excluded.revision,
        software_id=excluded.software_id,
        software_version=excluded.software_version`,
		meta.SessionID,
		meta.Manufacturer,
		meta.Model,
		meta.Revision,
		meta.SoftwareID,
		meta.SoftwareVer,
	)
	if err != nil {
		return fmt.Errorf("storage: insert log meta: %w", err)
	}
	return nil
}

// LogFileMetaBySession loads the descriptive metadata for a session.
func (s *Store) LogFileMetaBySession(ctx context.Context, sessionID int64) (model.LogFileMeta, error) {
	var meta model.LogFileMeta
	err := s.db.QueryRowContext(ctx, `SELECT
        session_id, manufacturer, model, revision, software_id, software_version
    FROM log_file_meta WHERE session_id = ?`, sessionID).Scan(
		&meta.SessionID,
		&meta.Manufacturer,
		&meta.Model,
		&meta.Revision,
		&meta.SoftwareID,
		&meta.SoftwareVer,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LogFileMeta{}, ErrNotFound
	}
	if err != nil {
		return model.LogFileMeta{}, fmt.Errorf("storage: log meta: %w", err)
	}
	return meta, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var (
		session              model.Session
		created, updated     int64
		isActive, isExported int64
	)
	err := row.Scan(
		&session.ID,
		&created,
		&updated,
		&session.Description,
		&isActive,
		&isExported,
		&session.WifiCount,
		&session.CellCount,
		&session.WaypointCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: scan session: %w", err)
	}
	session.CreatedAt = millisToTime(created)
	session.LastUpdated = millisToTime(updated)
	session.IsActive = intToBool(isActive)
	session.Exported = intToBool(isExported)
	return session, nil
}
