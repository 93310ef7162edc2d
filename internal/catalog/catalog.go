// Package catalog maintains the append-only reference store of globally
// known wifi BSSIDs with averaged positions. It lives in its own SQLite
// file with a lifecycle independent from tracking sessions.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/golang/geo/s2"
	_ "modernc.org/sqlite"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/observability"
)

// ErrUnavailable signals that no catalog file is configured. Callers of the
// public API never see it: every operation degrades to a warned no-op.
var ErrUnavailable = errors.New("catalog: not available")

const (
	// DefaultMaxResults bounds spatial queries when the caller passes 0.
	DefaultMaxResults = 5000
	// HardMaxResults is the ceiling no caller may exceed.
	HardMaxResults = 10000
	// groupPrecision rounds coordinates to ~4 decimal degrees in grouped
	// mode, about 11 m at the equator.
	groupPrecision = 1e4
)

// BoundingBox is a latitude/longitude rectangle in degrees.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

func (b BoundingBox) rect() s2.Rect {
	return s2.RectFromLatLng(s2.LatLngFromDegrees(b.MinLat, b.MinLon)).
		AddPoint(s2.LatLngFromDegrees(b.MaxLat, b.MaxLon))
}

// Catalog wraps the reference database. A Catalog with an empty path is
// valid and answers every call with a safe default.
type Catalog struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the catalog.
type Option func(*Catalog)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Catalog) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// Open opens (or creates) the catalog database at path. An empty path
// yields a disabled catalog rather than an error.
func Open(path string, opts ...Option) (*Catalog, error) {
	c := &Catalog{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}

	if path == "" {
		c.logger.Warn("no catalog file configured, catalog operations disabled")
		return c, nil
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS wifi_catalog (
        bssid TEXT PRIMARY KEY,
        latitude REAL NOT NULL,
        longitude REAL NOT NULL
    )`); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migrate wifi_catalog: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_catalog_lat_lon ON wifi_catalog(latitude, longitude)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create spatial index: %w", err)
	}

	c.db = db
	return c, nil
}

// Close releases the underlying database.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Enabled reports whether a catalog database is actually open.
func (c *Catalog) Enabled() bool {
	return c != nil && c.db != nil
}

// Contains reports whether a BSSID is already catalogued. With no catalog
// configured it answers false without error.
func (c *Catalog) Contains(ctx context.Context, bssid string) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	var one int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM wifi_catalog WHERE bssid = ?`, bssid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog: contains %s: %w", bssid, err)
	}
	return true, nil
}

// Append inserts entries into the reference store. Duplicate BSSIDs are
// ignored, which makes the operation idempotent. Returns the number of rows
// actually added. With no catalog configured it warns and does nothing.
func (c *Catalog) Append(ctx context.Context, entries []model.CatalogEntry) (int, error) {
	if !c.Enabled() {
		c.logger.Warn("catalog append skipped, no catalog configured",
			slog.Int("entries", len(entries)))
		return 0, nil
	}
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("catalog: begin append tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO wifi_catalog (bssid, latitude, longitude) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("catalog: prepare append: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, entry := range entries {
		res, err := stmt.ExecContext(ctx, entry.BSSID, entry.Latitude, entry.Longitude)
		if err != nil {
			return 0, fmt.Errorf("catalog: append %s: %w", entry.BSSID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("catalog: append rows: %w", err)
		}
		added += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("catalog: commit append tx: %w", err)
	}

	c.metrics.AddCatalogAppends(added)
	return added, nil
}

// Point is one catalogued access point for map display.
type Point struct {
	BSSID     string
	Latitude  float64
	Longitude float64
}

// QueryBounds returns catalogued points inside the bounding box, capped by
// maxResults (0 selects DefaultMaxResults; anything above HardMaxResults is
// clamped). Grouped mode rounds coordinates to ~4 decimal degrees and
// collapses co-located points, which is much cheaper to render at low zoom.
// With no catalog configured it returns an empty slice.
func (c *Catalog) QueryBounds(ctx context.Context, bbox BoundingBox, maxResults int, grouped bool) ([]Point, error) {
	if !c.Enabled() {
		c.logger.Warn("catalog query skipped, no catalog configured")
		return nil, nil
	}

	rect := bbox.rect()
	if rect.IsEmpty() {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > HardMaxResults {
		maxResults = HardMaxResults
	}

	lo, hi := rect.Lo(), rect.Hi()
	var (
		rows *sql.Rows
		err  error
	)
	if grouped {
		rows, err = c.db.QueryContext(ctx, `SELECT
            MIN(bssid),
            ROUND(latitude * ?) / ?,
            ROUND(longitude * ?) / ?
        FROM wifi_catalog
        WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?
        GROUP BY ROUND(latitude * ?), ROUND(longitude * ?)
        LIMIT ?`,
			groupPrecision, groupPrecision, groupPrecision, groupPrecision,
			lo.Lat.Degrees(), hi.Lat.Degrees(), lo.Lng.Degrees(), hi.Lng.Degrees(),
			groupPrecision, groupPrecision,
			maxResults)
	} else {
		rows, err = c.db.QueryContext(ctx, `SELECT bssid, latitude, longitude
        FROM wifi_catalog
        WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?
        LIMIT ?`,
			lo.Lat.Degrees(), hi.Lat.Degrees(), lo.Lng.Degrees(), hi.Lng.Degrees(),
			maxResults)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: query bounds: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.BSSID, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("catalog: scan point: %w", err)
		}
		// The rectangle check catches boxes crossing the antimeridian,
		// which the flat BETWEEN filter cannot express.
		if !rect.ContainsLatLng(s2.LatLngFromDegrees(p.Latitude, p.Longitude)) {
			continue
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate points: %w", err)
	}
	return points, nil
}

// Size reports the number of catalogued BSSIDs, or 0 when disabled.
func (c *Catalog) Size(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	var count int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wifi_catalog`).Scan(&count); err != nil {
		return 0, fmt.Errorf("catalog: size: %w", err)
	}
	return count, nil
}

// RoundGrouped exposes the grouped-mode coordinate rounding for reuse in
// display code.
func RoundGrouped(value float64) float64 {
	return math.Round(value*groupPrecision) / groupPrecision
}
