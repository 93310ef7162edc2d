package diff

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/storage"
)

func buildDatabase(t *testing.T, bssids []string) string {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "capture.db")
	store, err := storage.New(storage.Config{Path: path})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Start(ctx); err != nil {
		t.Fatalf("start store: %v", err)
	}

	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	sessionID, err := store.InsertSession(ctx, model.Session{
		CreatedAt: now, LastUpdated: now, IsActive: true,
	})
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}

	pos := model.Position{
		SessionID: sessionID,
		Latitude:  48.1,
		Longitude: 11.5,
		Timestamp: now,
		Source:    model.SourceGPS,
	}
	wifis := make([]model.WifiObservation, 0, len(bssids))
	for i, bssid := range bssids {
		numeric, err := model.NormalizeBSSID(bssid)
		if err != nil {
			t.Fatalf("normalize bssid: %v", err)
		}
		wifis = append(wifis, model.WifiObservation{
			SessionID:    sessionID,
			BSSID:        bssid,
			BSSIDNumeric: numeric,
			SSID:         "net",
			Timestamp:    now.Add(time.Duration(i) * time.Second),
		})
	}
	if err := store.StoreScan(ctx, pos, pos, wifis, nil); err != nil {
		t.Fatalf("store scan: %v", err)
	}

	if err := store.Stop(); err != nil {
		t.Fatalf("stop store: %v", err)
	}
	return path
}

func TestCompareSQLiteIdenticalContent(t *testing.T) {
	pathA := buildDatabase(t, []string{"aabbccddee01", "aabbccddee02"})
	pathB := buildDatabase(t, []string{"aabbccddee01", "aabbccddee02"})

	summary, err := CompareSQLite(context.Background(), pathA, pathB, Options{SampleLimit: 3})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}

	if summary.Wifis.OnlyA != 0 || summary.Wifis.OnlyB != 0 {
		t.Fatalf("expected no wifi differences, got %+v", summary.Wifis)
	}
	if summary.Positions.OnlyA != 0 || summary.Positions.OnlyB != 0 {
		t.Fatalf("expected no position differences, got %+v", summary.Positions)
	}
}

func TestCompareSQLiteReportsAsymmetry(t *testing.T) {
	pathA := buildDatabase(t, []string{"aabbccddee01", "aabbccddee02", "aabbccddee03"})
	pathB := buildDatabase(t, []string{"aabbccddee01"})

	summary, err := CompareSQLite(context.Background(), pathA, pathB, Options{SampleLimit: 5})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}

	if summary.Wifis.OnlyA != 2 {
		t.Fatalf("expected 2 wifis only in A, got %d", summary.Wifis.OnlyA)
	}
	if summary.Wifis.OnlyB != 0 {
		t.Fatalf("expected 0 wifis only in B, got %d", summary.Wifis.OnlyB)
	}
	if len(summary.Wifis.SampleOnlyA) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(summary.Wifis.SampleOnlyA))
	}
}

func TestCompareSQLiteValidation(t *testing.T) {
	if _, err := CompareSQLite(context.Background(), "", "x.db", Options{}); err == nil {
		t.Fatal("expected error for missing path")
	}
}
