package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/observability"
	"github.com/openbmap/radiobeacon-core/internal/session"
	"github.com/openbmap/radiobeacon-core/internal/storage"
)

func newManager(t *testing.T) (*session.Manager, *storage.Store) {
	t.Helper()

	store, err := storage.New(storage.Config{Path: filepath.Join(t.TempDir(), "sessions.db")})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Start(context.Background()); err != nil {
		t.Fatalf("start store: %v", err)
	}
	t.Cleanup(func() { _ = store.Stop() })

	identity := session.DeviceIdentity{
		Manufacturer: "Acme",
		Model:        "Scout-1",
		Revision:     "r2",
		SoftwareID:   "Radiobeacon",
		SoftwareVer:  "0.9.0",
	}
	return session.NewManager(store, identity, session.WithLogger(observability.NoOpLogger())), store
}

func TestStartEnforcesSingleActiveSession(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()

	first, err := manager.Start(ctx)
	if err != nil {
		t.Fatalf("start first session: %v", err)
	}
	second, err := manager.Start(ctx)
	if err != nil {
		t.Fatalf("start second session: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct session ids, got %d twice", first)
	}

	active, err := manager.ActiveID(ctx)
	if err != nil {
		t.Fatalf("active id: %v", err)
	}
	if active != second {
		t.Fatalf("expected active session %d, got %d", second, active)
	}

	old, err := store.SessionByID(ctx, first)
	if err != nil {
		t.Fatalf("load first session: %v", err)
	}
	if old.IsActive {
		t.Fatal("starting a new session must deactivate the previous one")
	}
	if old.Description != session.DefaultDescription {
		t.Fatalf("unexpected description %q", old.Description)
	}
}

func TestStartWritesLogFileMeta(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()

	id, err := manager.Start(ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	meta, err := store.LogFileMetaBySession(ctx, id)
	if err != nil {
		t.Fatalf("log meta: %v", err)
	}
	if meta.Manufacturer != "Acme" || meta.SoftwareID != "Radiobeacon" {
		t.Fatalf("unexpected log meta: %+v", meta)
	}
}

func TestResumeUnknownSession(t *testing.T) {
	manager, _ := newManager(t)

	if _, err := manager.Resume(context.Background(), 777); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResumeReactivates(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	id, err := manager.Start(ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := manager.Close(ctx); err != nil {
		t.Fatalf("close session: %v", err)
	}

	resumed, err := manager.Resume(ctx, id)
	if err != nil {
		t.Fatalf("resume session: %v", err)
	}
	if !resumed.IsActive {
		t.Fatal("resumed session should be active")
	}

	active, err := manager.ActiveID(ctx)
	if err != nil {
		t.Fatalf("active id: %v", err)
	}
	if active != id {
		t.Fatalf("expected active session %d, got %d", id, active)
	}
}

func TestCloseAggregatesCounts(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()

	id, err := manager.Start(ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	ts := time.Unix(1000, 0).UTC()
	begin := model.Position{SessionID: id, Latitude: 52.0, Longitude: 13.0, Timestamp: ts, Source: model.SourceGPS}
	wifis := []model.WifiObservation{{SessionID: id, BSSID: "AA:BB:CC:DD:EE:FF", Level: -50, Timestamp: ts}}
	if err := store.StoreScan(ctx, begin, begin, wifis, nil); err != nil {
		t.Fatalf("store scan: %v", err)
	}

	if err := manager.Close(ctx); err != nil {
		t.Fatalf("close session: %v", err)
	}

	closed, err := store.SessionByID(ctx, id)
	if err != nil {
		t.Fatalf("load closed session: %v", err)
	}
	if closed.IsActive {
		t.Fatal("closed session must not stay active")
	}
	if closed.WifiCount != 1 {
		t.Fatalf("expected wifi count 1, got %d", closed.WifiCount)
	}
	if closed.CellCount != 0 || closed.WaypointCount != 0 {
		t.Fatalf("unexpected counts: %+v", closed)
	}
}

func TestCloseWithoutActiveSessionIsNoOp(t *testing.T) {
	manager, _ := newManager(t)

	if err := manager.Close(context.Background()); err != nil {
		t.Fatalf("close with no active session should be a no-op, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	id, err := manager.Start(ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := manager.Delete(ctx, id); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := manager.Delete(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestMarkExported(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()

	id, err := manager.Start(ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := manager.MarkExported(ctx, id); err != nil {
		t.Fatalf("mark exported: %v", err)
	}

	loaded, err := store.SessionByID(ctx, id)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if !loaded.Exported {
		t.Fatal("session should be flagged exported")
	}
}
