package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openbmap/radiobeacon-core/internal/model"
)

// InsertPosition writes a standalone position row (user waypoints, track
// points) and returns its id. Scan-bound positions go through StoreScan.
func (s *Store) InsertPosition(ctx context.Context, pos model.Position) (int64, error) {
	return insertPosition(ctx, s.db, pos)
}

// StoreScan persists one scan batch atomically: the begin position, the end
// position, and every observation referencing the two fresh position ids.
// On any failure the transaction is rolled back and no rows are retained.
func (s *Store) StoreScan(ctx context.Context, begin, end model.Position, wifis []model.WifiObservation, cells []model.CellObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin scan tx: %w", err)
	}
	defer tx.Rollback()

	beginID, err := insertPosition(ctx, tx, begin)
	if err != nil {
		return err
	}
	endID, err := insertPosition(ctx, tx, end)
	if err != nil {
		return err
	}

	for _, wifi := range wifis {
		wifi.BeginPosition = beginID
		wifi.EndPosition = endID
		if err := insertWifi(ctx, tx, wifi); err != nil {
			return err
		}
	}
	for _, cell := range cells {
		cell.BeginPosition = beginID
		cell.EndPosition = endID
		if err := insertCell(ctx, tx, cell); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit scan tx: %w", err)
	}

	s.metrics.AddPositionsStored(2)
	s.metrics.AddWifisStored(len(wifis))
	s.metrics.AddCellsStored(len(cells))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPosition(ctx context.Context, db execer, pos model.Position) (int64, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO positions (
        session_id, latitude, longitude, altitude, accuracy, bearing, speed,
        timestamp, source
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.SessionID,
		pos.Latitude,
		pos.Longitude,
		pos.Altitude,
		pos.Accuracy,
		pos.Bearing,
		pos.Speed,
		timeToMillis(pos.Timestamp),
		string(pos.Source),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: insert position: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: position insert id: %w", err)
	}
	return id, nil
}

func insertWifi(ctx context.Context, db execer, wifi model.WifiObservation) error {
	_, err := db.ExecContext(ctx, `INSERT INTO wifi_observations (
        session_id, bssid, bssid_numeric, ssid, ssid_hash, capabilities,
        frequency, level, timestamp, begin_position_id, end_position_id,
        catalog_status
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wifi.SessionID,
		wifi.BSSID,
		int64(wifi.BSSIDNumeric),
		wifi.SSID,
		wifi.SSIDHash,
		wifi.Capabilities,
		wifi.Frequency,
		wifi.Level,
		timeToMillis(wifi.Timestamp),
		wifi.BeginPosition,
		wifi.EndPosition,
		int(wifi.Status),
	)
	if err != nil {
		return fmt.Errorf("storage: insert wifi observation: %w", err)
	}
	return nil
}

func insertCell(ctx context.Context, db execer, cell model.CellObservation) error {
	_, err := db.ExecContext(ctx, `INSERT INTO cell_observations (
        session_id, network_type, is_cdma, is_serving, is_neighbor,
        logical_cell_id, actual_cell_id, psc, utran_rnc, area,
        base_id, network_id, system_id,
        operator_name, operator_code, mcc, mnc,
        strength_dbm, strength_asu, timestamp,
        begin_position_id, end_position_id
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cell.SessionID,
		cell.NetworkType,
		boolToInt(cell.IsCDMA),
		boolToInt(cell.IsServing),
		boolToInt(cell.IsNeighbor),
		cell.LogicalCellID,
		cell.ActualCellID,
		cell.PSC,
		cell.UTRANRNC,
		cell.Area,
		cell.BaseID,
		cell.NetworkID,
		cell.SystemID,
		cell.OperatorName,
		cell.OperatorCode,
		cell.MCC,
		cell.MNC,
		cell.StrengthDBm,
		cell.StrengthASU,
		timeToMillis(cell.Timestamp),
		cell.BeginPosition,
		cell.EndPosition,
	)
	if err != nil {
		return fmt.Errorf("storage: insert cell observation: %w", err)
	}
	return nil
}
