package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/openbmap/radiobeacon-core/internal/model"
)

// WifiRecord joins a wifi observation with its begin/end positions, ready
// for serialization.
type WifiRecord struct {
	Observation model.WifiObservation
	Begin       model.Position
	End         model.Position
}

// CellRecord joins a cell observation with its begin/end positions.
type CellRecord struct {
	Observation model.CellObservation
	Begin       model.Position
	End         model.Position
}

const positionColumns = `%s.id, %s.session_id, %s.latitude, %s.longitude, %s.altitude,
    %s.accuracy, %s.bearing, %s.speed, %s.timestamp, %s.source`

func positionSelect(alias string) string {
	return strings.ReplaceAll(positionColumns, "%s", alias)
}

// PositionsBySession reads one window of position rows ordered by timestamp
// (id as tie-break). Source may be empty to select all sources.
func (s *Store) PositionsBySession(ctx context.Context, sessionID int64, source model.PositionSource, offset, limit int) ([]model.Position, error) {
	query := `SELECT ` + positionSelect("p") + ` FROM positions p WHERE p.session_id = ?`
	args := []any{sessionID}
	if source != "" {
		query += ` AND p.source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY p.timestamp, p.id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate positions: %w", err)
	}
	return positions, nil
}

// WifisBySession reads one window of wifi observations with their bracketing
// positions, ordered by timestamp.
func (s *Store) WifisBySession(ctx context.Context, sessionID int64, offset, limit int) ([]WifiRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
        w.id, w.session_id, w.bssid, w.bssid_numeric, w.ssid, w.ssid_hash,
        w.capabilities, w.frequency, w.level, w.timestamp,
        w.begin_position_id, w.end_position_id, w.catalog_status,
        `+positionSelect("b")+`,
        `+positionSelect("e")+`
    FROM wifi_observations w
    JOIN positions b ON b.id = w.begin_position_id
    JOIN positions e ON e.id = w.end_position_id
    WHERE w.session_id = ?
    ORDER BY w.timestamp, w.id
    LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: query wifi observations: %w", err)
	}
	defer rows.Close()

	var records []WifiRecord
	for rows.Next() {
		var (
			rec        WifiRecord
			obsMillis  int64
			status     int64
			numeric    int64
			begin, end posRow
		)
		dest := []any{
			&rec.Observation.ID,
			&rec.Observation.SessionID,
			&rec.Observation.BSSID,
			&numeric,
			&rec.Observation.SSID,
			&rec.Observation.SSIDHash,
			&rec.Observation.Capabilities,
			&rec.Observation.Frequency,
			&rec.Observation.Level,
			&obsMillis,
			&rec.Observation.BeginPosition,
			&rec.Observation.EndPosition,
			&status,
		}
		dest = append(dest, begin.dest()...)
		dest = append(dest, end.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("storage: scan wifi record: %w", err)
		}
		rec.Observation.BSSIDNumeric = uint64(numeric)
		rec.Observation.Timestamp = millisToTime(obsMillis)
		rec.Observation.Status = model.CatalogStatus(status)
		rec.Begin = begin.toModel()
		rec.End = end.toModel()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate wifi records: %w", err)
	}
	return records, nil
}

// CellsBySession reads one window of cell observations with their bracketing
// positions, ordered by timestamp.
func (s *Store) CellsBySession(ctx context.Context, sessionID int64, offset, limit int) ([]CellRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
        c.id, c.session_id, c.network_type, c.is_cdma, c.is_serving, c.is_neighbor,
        c.logical_cell_id, c.actual_cell_id, c.psc, c.utran_rnc, c.area,
        c.base_id, c.network_id, c.system_id,
        c.operator_name, c.operator_code, c.mcc, c.mnc,
        c.strength_dbm, c.strength_asu, c.timestamp,
        c.begin_position_id, c.end_position_id,
        `+positionSelect("b")+`,
        `+positionSelect("e")+`
    FROM cell_observations c
    JOIN positions b ON b.id = c.begin_position_id
    JOIN positions e ON e.id = c.end_position_id
    WHERE c.session_id = ?
    ORDER BY c.timestamp, c.id
    LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: query cell observations: %w", err)
	}
	defer rows.Close()

	var records []CellRecord
	for rows.Next() {
		var (
			rec                          CellRecord
			obsMillis                    int64
			isCDMA, isServing, isNeighed int64
			begin, end                   posRow
		)
		dest := []any{
			&rec.Observation.ID,
			&rec.Observation.SessionID,
			&rec.Observation.NetworkType,
			&isCDMA,
			&isServing,
			&isNeighed,
			&rec.Observation.LogicalCellID,
			&rec.Observation.ActualCellID,
			&rec.Observation.PSC,
			&rec.Observation.UTRANRNC,
			&rec.Observation.Area,
			&rec.Observation.BaseID,
			&rec.Observation.NetworkID,
			&rec.Observation.SystemID,
			&rec.Observation.OperatorName,
			&rec.Observation.OperatorCode,
			&rec.Observation.MCC,
			&rec.Observation.MNC,
			&rec.Observation.StrengthDBm,
			&rec.Observation.StrengthASU,
			&obsMillis,
			&rec.Observation.BeginPosition,
			&rec.Observation.EndPosition,
		}
		dest = append(dest, begin.dest()...)
		dest = append(dest, end.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("storage: scan cell record: %w", err)
		}
		rec.Observation.IsCDMA = intToBool(isCDMA)
		rec.Observation.IsServing = intToBool(isServing)
		rec.Observation.IsNeighbor = intToBool(isNeighed)
		rec.Observation.Timestamp = millisToTime(obsMillis)
		rec.Begin = begin.toModel()
		rec.End = end.toModel()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate cell records: %w", err)
	}
	return records, nil
}

// WifiOverviewEntry is the strongest sighting of one BSSID in a session,
// paired with the position of that exact measurement.
type WifiOverviewEntry struct {
	BSSID     string
	SSID      string
	Level     int
	Latitude  float64
	Longitude float64
	Status    model.CatalogStatus
}

// WifiOverview returns the strongest measurement per BSSID. Ties on level
// are broken by the earliest timestamp, then smallest row id, so the
// companion position is deterministic.
func (s *Store) WifiOverview(ctx context.Context, sessionID int64) ([]WifiOverviewEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
        w.bssid, w.ssid, w.level, b.latitude, b.longitude, w.catalog_status
    FROM wifi_observations w
    JOIN positions b ON b.id = w.begin_position_id
    WHERE w.session_id = ?
      AND w.id = (
        SELECT w2.id FROM wifi_observations w2
        WHERE w2.session_id = w.session_id AND w2.bssid = w.bssid
        ORDER BY w2.level DESC, w2.timestamp ASC, w2.id ASC
        LIMIT 1
      )
    ORDER BY w.bssid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: query wifi overview: %w", err)
	}
	defer rows.Close()

	var entries []WifiOverviewEntry
	for rows.Next() {
		var (
			entry  WifiOverviewEntry
			status int64
		)
		if err := rows.Scan(&entry.BSSID, &entry.SSID, &entry.Level, &entry.Latitude, &entry.Longitude, &status); err != nil {
			return nil, fmt.Errorf("storage: scan overview entry: %w", err)
		}
		entry.Status = model.CatalogStatus(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate overview: %w", err)
	}
	return entries, nil
}

// UncataloguedWifis groups observations by BSSID with averaged begin
// positions. With rebuild false only status-NEW observations are
// considered; with rebuild true every observation contributes, but the
// stored status is still never regressed.
func (s *Store) UncataloguedWifis(ctx context.Context, sessionID int64, rebuild bool) ([]model.CatalogEntry, error) {
	query := `SELECT w.bssid, AVG(b.latitude), AVG(b.longitude)
    FROM wifi_observations w
    JOIN positions b ON b.id = w.begin_position_id`
	var (
		conds []string
		args  []any
	)
	if sessionID != 0 {
		conds = append(conds, "w.session_id = ?")
		args = append(args, sessionID)
	}
	if !rebuild {
		conds = append(conds, "w.catalog_status = ?")
		args = append(args, int(model.StatusNew))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " GROUP BY w.bssid ORDER BY w.bssid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query uncatalogued wifis: %w", err)
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		var entry model.CatalogEntry
		if err := rows.Scan(&entry.BSSID, &entry.Latitude, &entry.Longitude); err != nil {
			return nil, fmt.Errorf("storage: scan catalog entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate catalog entries: %w", err)
	}
	return entries, nil
}

// MarkWifisKnown advances matching observations from New to KnownAfterSync.
// The transition is forward-only: rows already past New are left untouched.
func (s *Store) MarkWifisKnown(ctx context.Context, bssids []string) error {
	if len(bssids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin mark tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE wifi_observations
        SET catalog_status = ? WHERE bssid = ? AND catalog_status = ?`)
	if err != nil {
		return fmt.Errorf("storage: prepare mark known: %w", err)
	}
	defer stmt.Close()

	for _, bssid := range bssids {
		if _, err := stmt.ExecContext(ctx, int(model.StatusKnownAfterSync), bssid, int(model.StatusNew)); err != nil {
			return fmt.Errorf("storage: mark %s known: %w", bssid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit mark tx: %w", err)
	}
	return nil
}

// posRow buffers a scanned position row until timestamp and source can be
// converted into model types.
type posRow struct {
	id        int64
	sessionID int64
	latitude  float64
	longitude float64
	altitude  float64
	accuracy  float64
	bearing   float64
	speed     float64
	millis    int64
	source    string
}

func (r *posRow) dest() []any {
	return []any{
		&r.id,
		&r.sessionID,
		&r.latitude,
		&r.longitude,
		&r.altitude,
		&r.accuracy,
		&r.bearing,
		&r.speed,
		&r.millis,
		&r.source,
	}
}

func (r *posRow) toModel() model.Position {
	return model.Position{
		ID:        r.id,
		SessionID: r.sessionID,
		Latitude:  r.latitude,
		Longitude: r.longitude,
		Altitude:  r.altitude,
		Accuracy:  r.accuracy,
		Bearing:   r.bearing,
		Speed:     r.speed,
		Timestamp: millisToTime(r.millis),
		Source:    model.PositionSource(r.source),
	}
}

func scanPosition(row rowScanner) (model.Position, error) {
	var buf posRow
	if err := row.Scan(buf.dest()...); err != nil {
		return model.Position{}, fmt.Errorf("storage: scan position: %w", err)
	}
	return buf.toModel(), nil
}
