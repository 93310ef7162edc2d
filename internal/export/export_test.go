package export

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/storage"
)

// stubReader serves canned session data with real windowing semantics so
// the exporters exercise the same offset/limit loop they run in production.
type stubReader struct {
	session   model.Session
	meta      model.LogFileMeta
	metaErr   error
	positions map[model.PositionSource][]model.Position
	wifis     []storage.WifiRecord
	cells     []storage.CellRecord
	wifiErr   error
}

func (s *stubReader) SessionByID(_ context.Context, id int64) (model.Session, error) {
	return s.session, nil
}

func (s *stubReader) LogFileMetaBySession(_ context.Context, _ int64) (model.LogFileMeta, error) {
	if s.metaErr != nil {
		return model.LogFileMeta{}, s.metaErr
	}
	return s.meta, nil
}

func (s *stubReader) PositionsBySession(_ context.Context, _ int64, source model.PositionSource, offset, limit int) ([]model.Position, error) {
	return window(s.positions[source], offset, limit), nil
}

func (s *stubReader) WifisBySession(_ context.Context, _ int64, offset, limit int) ([]storage.WifiRecord, error) {
	if s.wifiErr != nil {
		return nil, s.wifiErr
	}
	return window(s.wifis, offset, limit), nil
}

func (s *stubReader) CellsBySession(_ context.Context, _ int64, offset, limit int) ([]storage.CellRecord, error) {
	return window(s.cells, offset, limit), nil
}

func window[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func testWifiRecord(i int, ssid string) storage.WifiRecord {
	ts := time.Date(2026, 8, 14, 10, 0, i, 0, time.UTC)
	pos := model.Position{Latitude: 48.1 + float64(i)*0.001, Longitude: 11.5, Timestamp: ts}
	return storage.WifiRecord{
		Observation: model.WifiObservation{
			BSSID:        "aabbccddeeff",
			SSID:         ssid,
			SSIDHash:     "0123456789abcdef0123456789abcdef",
			Capabilities: "[WPA2-PSK-CCMP][ESS]",
			Frequency:    2437,
			Level:        -61,
			Timestamp:    ts,
		},
		Begin: pos,
		End:   pos,
	}
}

func TestExportWifisChunksFiles(t *testing.T) {
	reader := &stubReader{
		meta: model.LogFileMeta{
			Manufacturer: "Acme",
			Model:        "Pixel 9",
			Revision:     "16",
			SoftwareID:   "radiobeacon",
		},
	}
	for i := 0; i < 5; i++ {
		reader.wifis = append(reader.wifis, testWifiRecord(i, "café & bar"))
	}

	exp := New(reader, t.TempDir(), "1.2.3", WithWindowSize(2), WithRecordsPerFile(2))
	files, err := exp.ExportWifis(context.Background(), 7, false)
	require.NoError(t, err)
	require.Len(t, files, 3, "5 records at 2 per file")

	first, err := os.ReadFile(files[0])
	require.NoError(t, err)
	content := string(first)

	assert.Contains(t, content, `manufacturer="Acme"`)
	assert.Contains(t, content, `swver="1.2.3"`)
	assert.Contains(t, content, `bssid="aabbccddeeff"`)
	assert.Contains(t, content, `ssid="café &amp; bar"`)
	assert.Contains(t, content, `time="20260814100000"`)
	assert.Contains(t, content, "<gpsbegin")
	assert.Contains(t, content, "<gpsend")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(content), "</logfile>"))
	assert.Equal(t, 2, strings.Count(content, "<wifiap"))

	last, err := os.ReadFile(files[2])
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(last), "<wifiap"))
}

func TestExportWifisAnonymized(t *testing.T) {
	reader := &stubReader{wifis: []storage.WifiRecord{testWifiRecord(0, "secret net")}}

	exp := New(reader, t.TempDir(), "1.2.3")
	files, err := exp.ExportWifis(context.Background(), 7, true)
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)

	assert.NotContains(t, string(content), "secret net")
	assert.Contains(t, string(content), `md5essid="0123456789abcdef0123456789abcdef"`)
	assert.Contains(t, string(content), `bssid="aabbccddeeff"`, "bssid survives anonymization")
}

func TestExportWifisReaderFailure(t *testing.T) {
	reader := &stubReader{wifiErr: os.ErrPermission}

	dir := t.TempDir()
	exp := New(reader, dir, "1.2.3")
	files, err := exp.ExportWifis(context.Background(), 7, false)
	require.Error(t, err)
	assert.Empty(t, files)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "aborted chunk must not linger on disk")
}

func TestExportCellsBothFamilies(t *testing.T) {
	ts := time.Date(2026, 8, 14, 11, 30, 0, 0, time.UTC)
	pos := model.Position{Latitude: 48.1, Longitude: 11.5, Timestamp: ts}
	reader := &stubReader{cells: []storage.CellRecord{
		{
			Observation: model.CellObservation{
				MCC: "262", MNC: "02", Area: 4711, ActualCellID: 99901,
				LogicalCellID: 99901, PSC: model.UnknownCellField,
				UTRANRNC:     model.UnknownCellField,
				OperatorName: "TestNet", OperatorCode: "26202",
				NetworkType: 13, IsServing: true,
				StrengthDBm: -85, StrengthASU: 14, Timestamp: ts,
			},
			Begin: pos, End: pos,
		},
		{
			Observation: model.CellObservation{
				IsCDMA: true, BaseID: 5, NetworkID: 6, SystemID: 7,
				StrengthDBm: -90, Timestamp: ts,
			},
			Begin: pos, End: pos,
		},
	}}

	exp := New(reader, t.TempDir(), "1.2.3")
	files, err := exp.ExportCells(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)

	assert.Contains(t, string(content), `<gsmcell mcc="262" mnc="02" lac="4711" id="99901"`)
	assert.Contains(t, string(content), `serving="1"`)
	assert.Contains(t, string(content), `<cdmacell baseid="5" networkid="6" systemid="7"`)
	assert.Contains(t, string(content), "</gsmcell>")
	assert.Contains(t, string(content), "</cdmacell>")
}

func TestExportGPXVerbosityLevels(t *testing.T) {
	ts := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	reader := &stubReader{
		positions: map[model.PositionSource][]model.Position{
			model.SourceTrack: {
				{Latitude: 48.10, Longitude: 11.50, Altitude: 520, Timestamp: ts},
				{Latitude: 48.11, Longitude: 11.51, Altitude: 521, Timestamp: ts.Add(time.Second)},
			},
			model.SourceWaypoint: {
				{Latitude: 48.105, Longitude: 11.505, Timestamp: ts},
			},
		},
		wifis: []storage.WifiRecord{testWifiRecord(0, "corner café")},
	}

	exp := New(reader, t.TempDir(), "1.2.3")

	track, err := exp.ExportGPX(context.Background(), 7, GPXTrackAndWaypoints)
	require.NoError(t, err)
	content, err := os.ReadFile(track)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(content), "<trkpt"))
	assert.Equal(t, 1, strings.Count(string(content), "<wpt"), "user waypoint accompanies the track")
	assert.NotContains(t, string(content), "corner café")
	assert.Contains(t, string(content), "<time>2026-08-14T12:00:00Z</time>")

	waypoints, err := exp.ExportGPX(context.Background(), 7, GPXWaypointsOnly)
	require.NoError(t, err)
	content, err = os.ReadFile(waypoints)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "<trk")
	assert.Equal(t, 1, strings.Count(string(content), "<wpt"))

	full, err := exp.ExportGPX(context.Background(), 7, GPXFull)
	require.NoError(t, err)
	content, err = os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(content), "<trkpt"))
	assert.Equal(t, 2, strings.Count(string(content), "<wpt"), "user waypoint plus wifi sighting")
	assert.Contains(t, string(content), "<name>corner café</name>")
}

func TestExportGPXDistinctFilenames(t *testing.T) {
	reader := &stubReader{
		positions: map[model.PositionSource][]model.Position{
			model.SourceTrack: {{Latitude: 48.1, Longitude: 11.5}},
		},
	}

	exp := New(reader, t.TempDir(), "1.2.3")
	first, err := exp.ExportGPX(context.Background(), 7, GPXTrackAndWaypoints)
	require.NoError(t, err)
	second, err := exp.ExportGPX(context.Background(), 7, GPXTrackAndWaypoints)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	firstContent, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(firstContent), "<trkpt")
}

func TestExportGPXSentinelTime(t *testing.T) {
	reader := &stubReader{
		positions: map[model.PositionSource][]model.Position{
			model.SourceTrack: {{Latitude: 48.1, Longitude: 11.5}},
		},
	}

	exp := New(reader, t.TempDir(), "1.2.3")
	path, err := exp.ExportGPX(context.Background(), 7, GPXTrackAndWaypoints)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "<time>"+SentinelISO8601+"</time>")
}

func TestCompactTimestampTotal(t *testing.T) {
	assert.Equal(t, "19700101000000", CompactTimestamp(time.Time{}))
	assert.Equal(t, "20260814100512",
		CompactTimestamp(time.Date(2026, 8, 14, 10, 5, 12, 0, time.UTC)))

	assert.True(t, ParseCompact("garbage").IsZero())
	parsed := ParseCompact("20260814100512")
	assert.Equal(t, 2026, parsed.Year())
	assert.Equal(t, "2026-08-14T10:05:12Z", ISO8601(parsed))
	assert.Equal(t, SentinelISO8601, ISO8601(time.Time{}))
}
