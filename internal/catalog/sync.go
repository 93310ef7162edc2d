package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openbmap/radiobeacon-core/internal/model"
)

// ObservationStore is the slice of the persistence layer the sync needs.
type ObservationStore interface {
	UncataloguedWifis(ctx context.Context, sessionID int64, rebuild bool) ([]model.CatalogEntry, error)
	MarkWifisKnown(ctx context.Context, bssids []string) error
}

// Sync pushes uncatalogued BSSIDs from local observations into the
// reference catalog and advances their catalog status. sessionID 0 covers
// all sessions; rebuild re-derives from every observation regardless of
// status (the stored status still never regresses). Returns the number of
// catalog rows added.
func (c *Catalog) Sync(ctx context.Context, store ObservationStore, sessionID int64, rebuild bool) (int, error) {
	if !c.Enabled() {
		c.logger.Warn("catalog sync skipped, no catalog configured")
		return 0, nil
	}

	entries, err := store.UncataloguedWifis(ctx, sessionID, rebuild)
	if err != nil {
		return 0, fmt.Errorf("catalog: sync: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	added, err := c.Append(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("catalog: sync: %w", err)
	}

	bssids := make([]string, len(entries))
	for i, entry := range entries {
		bssids[i] = entry.BSSID
	}
	if err := store.MarkWifisKnown(ctx, bssids); err != nil {
		return added, fmt.Errorf("catalog: sync mark known: %w", err)
	}

	c.logger.Info("catalog sync completed",
		slog.Int("candidates", len(entries)),
		slog.Int("added", added),
	)
	return added, nil
}
