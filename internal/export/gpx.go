package export

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/openbmap/radiobeacon-core/internal/model"
)

// GPX verbosity levels.
const (
	GPXTrackAndWaypoints = 1 // track plus user waypoints
	GPXWaypointsOnly     = 2 // user waypoints without the track
	GPXFull              = 3 // track, user waypoints, wifi and cell sighting waypoints
)

const gpxHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
	`<gpx version="1.1" creator="%s" xmlns="http://www.topografix.com/GPX/1/1"` +
	` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` +
	` xsi:schemaLocation="http://www.topografix.com/GPX/1/1 http://www.topografix.com/GPX/1/1/gpx.xsd">` + "\n"

// ExportGPX writes a session's movement trace as a GPX 1.1 document and
// returns the file path. The verbosity level selects which element groups
// are included; out-of-range values clamp to the nearest level.
func (e *Exporter) ExportGPX(ctx context.Context, sessionID int64, verbosity int) (string, error) {
	if verbosity < GPXTrackAndWaypoints {
		verbosity = GPXTrackAndWaypoints
	}
	if verbosity > GPXFull {
		verbosity = GPXFull
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("export: ensure directory: %w", err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("%d_track_%s_%s.gpx", sessionID, CompactTimestamp(e.now()), uuid.NewString()))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create %s: %w", path, err)
	}
	buf := bufio.NewWriter(file)

	fail := func(err error) (string, error) {
		_ = file.Close()
		_ = os.Remove(path)
		return "", err
	}

	fmt.Fprintf(buf, gpxHeader, xmlEscape(e.version))

	// Schema order: waypoints precede the track. User waypoints appear at
	// every level; the track is dropped at the waypoints-only level.
	if err := e.writeUserWaypoints(ctx, buf, sessionID); err != nil {
		return fail(err)
	}
	if verbosity == GPXFull {
		if err := e.writeSightingWaypoints(ctx, buf, sessionID); err != nil {
			return fail(err)
		}
	}
	if verbosity != GPXWaypointsOnly {
		if err := e.writeTrack(ctx, buf, sessionID); err != nil {
			return fail(err)
		}
	}

	buf.WriteString("</gpx>\n")
	if err := buf.Flush(); err != nil {
		return fail(fmt.Errorf("export: flush gpx: %w", err))
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("export: close gpx: %w", err)
	}

	e.metrics.IncExportFiles()
	e.logger.Info("gpx export completed",
		"session_id", sessionID, "path", path, "verbosity", verbosity)
	return path, nil
}

func (e *Exporter) writeTrack(ctx context.Context, buf *bufio.Writer, sessionID int64) error {
	buf.WriteString("  <trk>\n")
	fmt.Fprintf(buf, "    <name>session %d</name>\n    <trkseg>\n", sessionID)

	for offset := 0; ; offset += e.windowSize {
		positions, err := e.reader.PositionsBySession(ctx, sessionID, model.SourceTrack, offset, e.windowSize)
		if err != nil {
			return fmt.Errorf("export: read track window: %w", err)
		}
		if len(positions) == 0 {
			break
		}
		for _, pos := range positions {
			fmt.Fprintf(buf,
				"      <trkpt lat=\"%.8f\" lon=\"%.8f\"><ele>%.1f</ele><time>%s</time></trkpt>\n",
				pos.Latitude, pos.Longitude, pos.Altitude, ISO8601(pos.Timestamp))
		}
		if err := buf.Flush(); err != nil {
			return fmt.Errorf("export: flush track window: %w", err)
		}
	}

	buf.WriteString("    </trkseg>\n  </trk>\n")
	return nil
}

func (e *Exporter) writeUserWaypoints(ctx context.Context, buf *bufio.Writer, sessionID int64) error {
	for offset := 0; ; offset += e.windowSize {
		positions, err := e.reader.PositionsBySession(ctx, sessionID, model.SourceWaypoint, offset, e.windowSize)
		if err != nil {
			return fmt.Errorf("export: read waypoint window: %w", err)
		}
		if len(positions) == 0 {
			return nil
		}
		for _, pos := range positions {
			writeWaypoint(buf, pos, "waypoint")
		}
		if err := buf.Flush(); err != nil {
			return fmt.Errorf("export: flush waypoint window: %w", err)
		}
	}
}

// writeSightingWaypoints emits one named waypoint per wifi and cell
// observation, anchored at the observation's begin position.
func (e *Exporter) writeSightingWaypoints(ctx context.Context, buf *bufio.Writer, sessionID int64) error {
	for offset := 0; ; offset += e.windowSize {
		records, err := e.reader.WifisBySession(ctx, sessionID, offset, e.windowSize)
		if err != nil {
			return fmt.Errorf("export: read wifi window: %w", err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			writeWaypoint(buf, rec.Begin, rec.Observation.SSID)
		}
		if err := buf.Flush(); err != nil {
			return fmt.Errorf("export: flush wifi waypoints: %w", err)
		}
	}

	for offset := 0; ; offset += e.windowSize {
		records, err := e.reader.CellsBySession(ctx, sessionID, offset, e.windowSize)
		if err != nil {
			return fmt.Errorf("export: read cell window: %w", err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			writeWaypoint(buf, rec.Begin, rec.Observation.CellDescriptor())
		}
		if err := buf.Flush(); err != nil {
			return fmt.Errorf("export: flush cell waypoints: %w", err)
		}
	}
	return nil
}

func writeWaypoint(buf *bufio.Writer, pos model.Position, name string) {
	fmt.Fprintf(buf,
		"  <wpt lat=\"%.8f\" lon=\"%.8f\"><ele>%.1f</ele><time>%s</time><name>%s</name></wpt>\n",
		pos.Latitude, pos.Longitude, pos.Altitude, ISO8601(pos.Timestamp), xmlEscape(name))
}
