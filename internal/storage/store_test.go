package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Start(context.Background()); err != nil {
		t.Fatalf("start store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Stop(); err != nil {
			t.Errorf("stop store: %v", err)
		}
	})
	return store
}

func newTestSession(t *testing.T, store *Store, active bool) int64 {
	t.Helper()

	now := time.Now().UTC()
	id, err := store.InsertSession(context.Background(), model.Session{
		CreatedAt:   now,
		LastUpdated: now,
		Description: "No description yet",
		IsActive:    active,
	})
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return id
}

func testPosition(sessionID int64, lat, lon float64, ts time.Time) model.Position {
	return model.Position{
		SessionID: sessionID,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts,
		Source:    model.SourceGPS,
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newTestSession(t, store, true)
	second := newTestSession(t, store, false)

	id, err := store.ActiveSessionID(ctx)
	if err != nil {
		t.Fatalf("active session id: %v", err)
	}
	if id != first {
		t.Fatalf("expected active session %d, got %d", first, id)
	}

	if err := store.DeactivateAllSessions(ctx); err != nil {
		t.Fatalf("deactivate sessions: %v", err)
	}
	id, err = store.ActiveSessionID(ctx)
	if err != nil {
		t.Fatalf("active session id after deactivate: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected no active session, got %d", id)
	}

	session, err := store.SessionByID(ctx, second)
	if err != nil {
		t.Fatalf("session by id: %v", err)
	}
	session.Description = "morning drive"
	session.IsActive = true
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("update session: %v", err)
	}

	reloaded, err := store.SessionByID(ctx, second)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.Description != "morning drive" || !reloaded.IsActive {
		t.Fatalf("unexpected session after update: %+v", reloaded)
	}
}

func TestSessionByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.SessionByID(context.Background(), 4242); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreScanAtomicBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	ts := time.Now().UTC().Truncate(time.Millisecond)
	begin := testPosition(session, 52.0, 13.0, ts)
	end := begin

	wifis := []model.WifiObservation{
		{SessionID: session, BSSID: "AA:BB:CC:DD:EE:FF", BSSIDNumeric: 0xAABBCCDDEEFF, SSID: "cafe", Level: -50, Timestamp: ts},
		{SessionID: session, BSSID: "AA:BB:CC:DD:EE:FF", BSSIDNumeric: 0xAABBCCDDEEFF, SSID: "cafe", Level: -60, Timestamp: ts},
		{SessionID: session, BSSID: "11:22:33:44:55:66", BSSIDNumeric: 0x112233445566, SSID: "bar", Level: -70, Timestamp: ts},
	}

	if err := store.StoreScan(ctx, begin, end, wifis, nil); err != nil {
		t.Fatalf("store scan: %v", err)
	}

	records, err := store.WifisBySession(ctx, session, 0, 100)
	if err != nil {
		t.Fatalf("wifis by session: %v", err)
	}
	// Duplicate BSSIDs within one batch stay separate rows.
	if len(records) != 3 {
		t.Fatalf("expected 3 wifi rows, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Begin.ID == 0 || rec.End.ID == 0 {
			t.Fatalf("observation %d missing position ids", rec.Observation.ID)
		}
		if rec.Begin.SessionID != session || rec.End.SessionID != session {
			t.Fatalf("positions belong to wrong session: %+v", rec)
		}
		if rec.Begin.Latitude != 52.0 || rec.Begin.Longitude != 13.0 {
			t.Fatalf("unexpected begin position: %+v", rec.Begin)
		}
	}

	wifiCount, cellCount, waypoints, err := store.SessionCounts(ctx, session)
	if err != nil {
		t.Fatalf("session counts: %v", err)
	}
	if wifiCount != 3 || cellCount != 0 || waypoints != 0 {
		t.Fatalf("unexpected counts: wifis=%d cells=%d waypoints=%d", wifiCount, cellCount, waypoints)
	}
}

func TestStoreScanRollsBackOnFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	ts := time.Now().UTC()
	begin := testPosition(session, 52.0, 13.0, ts)

	// Second observation violates the session foreign key; the whole batch
	// must vanish, including the two position rows.
	wifis := []model.WifiObservation{
		{SessionID: session, BSSID: "AA:BB:CC:DD:EE:FF", Timestamp: ts},
		{SessionID: 999999, BSSID: "11:22:33:44:55:66", Timestamp: ts},
	}

	if err := store.StoreScan(ctx, begin, begin, wifis, nil); err == nil {
		t.Fatal("expected foreign key failure")
	}

	positions, err := store.PositionsBySession(ctx, session, "", 0, 10)
	if err != nil {
		t.Fatalf("positions by session: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected no retained positions, got %d", len(positions))
	}

	records, err := store.WifisBySession(ctx, session, 0, 10)
	if err != nil {
		t.Fatalf("wifis by session: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no retained wifi rows, got %d", len(records))
	}
}

func TestStoreCellScan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	ts := time.Now().UTC()
	begin := testPosition(session, 48.1, 11.5, ts)

	cells := []model.CellObservation{
		{
			SessionID:    session,
			NetworkType:  3,
			IsServing:    true,
			ActualCellID: 12345,
			LogicalCellID: 12345,
			Area:         410,
			MCC:          "262",
			MNC:          "01",
			StrengthDBm:  -85,
			Timestamp:    ts,
			BaseID:       model.UnknownCellField,
			NetworkID:    model.UnknownCellField,
			SystemID:     model.UnknownCellField,
			PSC:          model.UnknownCellField,
			UTRANRNC:     model.UnknownCellField,
		},
	}

	if err := store.StoreScan(ctx, begin, begin, nil, cells); err != nil {
		t.Fatalf("store cell scan: %v", err)
	}

	records, err := store.CellsBySession(ctx, session, 0, 10)
	if err != nil {
		t.Fatalf("cells by session: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 cell row, got %d", len(records))
	}
	cell := records[0].Observation
	if cell.IsCDMA || !cell.IsServing {
		t.Fatalf("unexpected cell flags: %+v", cell)
	}
	if cell.BaseID != model.UnknownCellField || cell.SystemID != model.UnknownCellField {
		t.Fatalf("CDMA fields should stay at sentinel: %+v", cell)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	ts := time.Now().UTC()
	begin := testPosition(session, 52.0, 13.0, ts)
	wifis := []model.WifiObservation{{SessionID: session, BSSID: "AA:BB:CC:DD:EE:FF", Timestamp: ts}}
	if err := store.StoreScan(ctx, begin, begin, wifis, nil); err != nil {
		t.Fatalf("store scan: %v", err)
	}

	if err := store.DeleteSession(ctx, session); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	positions, err := store.PositionsBySession(ctx, session, "", 0, 10)
	if err != nil {
		t.Fatalf("positions after delete: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected cascade delete of positions, got %d rows", len(positions))
	}

	if err := store.DeleteSession(ctx, session); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestWindowedReadsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	base := time.Date(2016, 4, 10, 8, 0, 0, 0, time.UTC)
	const total = 2500
	for i := 0; i < total; i++ {
		pos := testPosition(session, 52.0+float64(i)*1e-5, 13.0, base.Add(time.Duration(i)*time.Second))
		pos.Source = model.SourceTrack
		if _, err := store.InsertPosition(ctx, pos); err != nil {
			t.Fatalf("insert position %d: %v", i, err)
		}
	}

	const window = 1000
	var (
		got      []model.Position
		fetches  int
		lastTime time.Time
	)
	for offset := 0; ; offset += window {
		page, err := store.PositionsBySession(ctx, session, model.SourceTrack, offset, window)
		if err != nil {
			t.Fatalf("window at offset %d: %v", offset, err)
		}
		if len(page) == 0 {
			break
		}
		fetches++
		got = append(got, page...)
	}

	if fetches != 3 {
		t.Fatalf("expected 3 fetch cycles for %d rows with window %d, got %d", total, window, fetches)
	}
	if len(got) != total {
		t.Fatalf("expected %d rows back, got %d", total, len(got))
	}

	seen := make(map[int64]bool, total)
	for _, pos := range got {
		if pos.Timestamp.Before(lastTime) {
			t.Fatalf("rows out of timestamp order at position id %d", pos.ID)
		}
		lastTime = pos.Timestamp
		if seen[pos.ID] {
			t.Fatalf("duplicate row id %d across windows", pos.ID)
		}
		seen[pos.ID] = true
	}
}

func TestWifiOverviewStrongestWinsWithTieBreak(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	base := time.Date(2016, 4, 10, 8, 0, 0, 0, time.UTC)

	// Same level twice: the earlier measurement must supply the position.
	batches := []struct {
		lat   float64
		level int
		ts    time.Time
	}{
		{lat: 52.1, level: -60, ts: base},
		{lat: 52.2, level: -60, ts: base.Add(time.Minute)},
		{lat: 52.3, level: -80, ts: base.Add(2 * time.Minute)},
	}
	for _, b := range batches {
		begin := testPosition(session, b.lat, 13.0, b.ts)
		wifis := []model.WifiObservation{{SessionID: session, BSSID: "AA:BB:CC:DD:EE:FF", Level: b.level, Timestamp: b.ts}}
		if err := store.StoreScan(ctx, begin, begin, wifis, nil); err != nil {
			t.Fatalf("store scan: %v", err)
		}
	}

	entries, err := store.WifiOverview(ctx, session)
	if err != nil {
		t.Fatalf("wifi overview: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 overview entry, got %d", len(entries))
	}
	if entries[0].Level != -60 {
		t.Fatalf("expected strongest level -60, got %d", entries[0].Level)
	}
	if entries[0].Latitude != 52.1 {
		t.Fatalf("tie-break should pick earliest measurement, got lat %v", entries[0].Latitude)
	}
}

func TestMarkWifisKnownForwardOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	ts := time.Now().UTC()
	begin := testPosition(session, 52.0, 13.0, ts)
	wifis := []model.WifiObservation{
		{SessionID: session, BSSID: "AA:BB:CC:DD:EE:FF", Timestamp: ts, Status: model.StatusNew},
		{SessionID: session, BSSID: "11:22:33:44:55:66", Timestamp: ts, Status: model.StatusPreviouslyKnown},
	}
	if err := store.StoreScan(ctx, begin, begin, wifis, nil); err != nil {
		t.Fatalf("store scan: %v", err)
	}

	if err := store.MarkWifisKnown(ctx, []string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"}); err != nil {
		t.Fatalf("mark wifis known: %v", err)
	}

	records, err := store.WifisBySession(ctx, session, 0, 10)
	if err != nil {
		t.Fatalf("wifis by session: %v", err)
	}
	statuses := make(map[string]model.CatalogStatus)
	for _, rec := range records {
		statuses[rec.Observation.BSSID] = rec.Observation.Status
	}
	if statuses["AA:BB:CC:DD:EE:FF"] != model.StatusKnownAfterSync {
		t.Fatalf("expected New -> KnownAfterSync, got %v", statuses["AA:BB:CC:DD:EE:FF"])
	}
	if statuses["11:22:33:44:55:66"] != model.StatusPreviouslyKnown {
		t.Fatalf("status must never regress, got %v", statuses["11:22:33:44:55:66"])
	}
}

func TestUncataloguedWifisAveragesPositions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	base := time.Date(2016, 4, 10, 8, 0, 0, 0, time.UTC)
	for i, lat := range []float64{52.0, 54.0} {
		begin := testPosition(session, lat, 13.0, base.Add(time.Duration(i)*time.Minute))
		wifis := []model.WifiObservation{{SessionID: session, BSSID: "AA:BB:CC:DD:EE:FF", Timestamp: begin.Timestamp}}
		if err := store.StoreScan(ctx, begin, begin, wifis, nil); err != nil {
			t.Fatalf("store scan: %v", err)
		}
	}

	entries, err := store.UncataloguedWifis(ctx, session, false)
	if err != nil {
		t.Fatalf("uncatalogued wifis: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 grouped entry, got %d", len(entries))
	}
	if entries[0].Latitude != 53.0 {
		t.Fatalf("expected averaged latitude 53.0, got %v", entries[0].Latitude)
	}

	// Once marked, the entry disappears from the NEW-only view but stays
	// visible in rebuild mode.
	if err := store.MarkWifisKnown(ctx, []string{"AA:BB:CC:DD:EE:FF"}); err != nil {
		t.Fatalf("mark known: %v", err)
	}
	entries, err = store.UncataloguedWifis(ctx, session, false)
	if err != nil {
		t.Fatalf("uncatalogued after mark: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no NEW entries after mark, got %d", len(entries))
	}
	entries, err = store.UncataloguedWifis(ctx, session, true)
	if err != nil {
		t.Fatalf("rebuild mode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected rebuild mode to see all rows, got %d", len(entries))
	}
}

func TestLogFileMetaRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, true)

	meta := model.LogFileMeta{
		SessionID:    session,
		Manufacturer: "Acme",
		Model:        "Scout-1",
		Revision:     "r2",
		SoftwareID:   "Radiobeacon",
		SoftwareVer:  "0.9.0",
	}
	if err := store.InsertLogFileMeta(ctx, meta); err != nil {
		t.Fatalf("insert log meta: %v", err)
	}

	got, err := store.LogFileMetaBySession(ctx, session)
	if err != nil {
		t.Fatalf("log meta by session: %v", err)
	}
	if got != meta {
		t.Fatalf("log meta mismatch: got %+v want %+v", got, meta)
	}
}
