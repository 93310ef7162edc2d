// Package tracker binds GPS fixes to batches of simultaneous wireless
// measurements and persists them as atomic units.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/observability"
)

// ErrMissingField rejects a scan batch before any write happens.
var ErrMissingField = errors.New("tracker: missing mandatory field")

// Store is the persistence surface the aggregator writes through.
type Store interface {
	StoreScan(ctx context.Context, begin, end model.Position, wifis []model.WifiObservation, cells []model.CellObservation) error
}

// CatalogLookup answers whether a BSSID is already present in the reference
// catalog. Implementations must degrade to (false, nil) when no catalog is
// configured.
type CatalogLookup interface {
	Contains(ctx context.Context, bssid string) (bool, error)
}

// WifiSighting is one access point seen in a single wifi scan.
type WifiSighting struct {
	BSSID        string
	SSID         string
	Capabilities string
	Frequency    int
	Level        int
	Timestamp    time.Time
}

// CellSighting is one cell seen in a single cell info snapshot.
type CellSighting struct {
	NetworkType int
	IsCDMA      bool
	IsServing   bool
	IsNeighbor  bool

	LogicalCellID int64
	ActualCellID  int64
	PSC           int
	UTRANRNC      int
	Area          int

	BaseID    int
	NetworkID int
	SystemID  int

	OperatorName string
	OperatorCode string
	MCC          string
	MNC          string

	StrengthDBm int
	StrengthASU int
	Timestamp   time.Time
}

// Aggregator validates scan batches and writes them through the store.
type Aggregator struct {
	store   Store
	catalog CatalogLookup
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(a *Aggregator) {
		if metrics != nil {
			a.metrics = metrics
		}
	}
}

// WithCatalog wires a reference catalog used to pre-mark known BSSIDs.
func WithCatalog(catalog CatalogLookup) Option {
	return func(a *Aggregator) {
		if catalog != nil {
			a.catalog = catalog
		}
	}
}

// New creates an aggregator bound to the given store.
func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StoreWifiScan persists one wifi scan batch. Empty batches are a no-op.
// The begin and end positions and every observation land in one
// transaction; on failure nothing is retained and the error is returned to
// the caller, which must not retry automatically.
func (a *Aggregator) StoreWifiScan(ctx context.Context, begin, end model.Position, sightings []WifiSighting) error {
	if len(sightings) == 0 {
		return nil
	}
	if err := validatePositions(begin, end); err != nil {
		return err
	}

	observations := make([]model.WifiObservation, 0, len(sightings))
	for _, sighting := range sightings {
		if sighting.BSSID == "" || sighting.Timestamp.IsZero() {
			return fmt.Errorf("%w: wifi sighting bssid/timestamp", ErrMissingField)
		}
		numeric, err := model.NormalizeBSSID(sighting.BSSID)
		if err != nil {
			return fmt.Errorf("tracker: wifi scan: %w", err)
		}

		status := model.StatusNew
		if known, err := a.lookup(ctx, sighting.BSSID); err != nil {
			a.logger.Warn("catalog lookup failed, treating as new",
				slog.String("bssid", sighting.BSSID), slog.Any("error", err))
		} else if known {
			status = model.StatusPreviouslyKnown
			a.metrics.IncCatalogHits()
		}

		observations = append(observations, model.WifiObservation{
			SessionID:    begin.SessionID,
			BSSID:        sighting.BSSID,
			BSSIDNumeric: numeric,
			SSID:         sighting.SSID,
			SSIDHash:     model.HashSSID(sighting.SSID),
			Capabilities: sighting.Capabilities,
			Frequency:    sighting.Frequency,
			Level:        sighting.Level,
			Timestamp:    sighting.Timestamp,
			Status:       status,
		})
	}

	if err := a.store.StoreScan(ctx, begin, end, observations, nil); err != nil {
		a.metrics.IncStoreErrors()
		return fmt.Errorf("tracker: wifi scan: %w", err)
	}
	a.metrics.ObserveScanStored("wifi")
	return nil
}

// StoreCellScan persists one cell info batch. Empty batches are a no-op.
// Each record is dispatched to the GSM or CDMA field layout; the unused
// family's identifiers are forced to the sentinel value.
func (a *Aggregator) StoreCellScan(ctx context.Context, sightings []CellSighting, begin, end model.Position) error {
	if len(sightings) == 0 {
		return nil
	}
	if err := validatePositions(begin, end); err != nil {
		return err
	}

	observations := make([]model.CellObservation, 0, len(sightings))
	for _, sighting := range sightings {
		if sighting.Timestamp.IsZero() {
			return fmt.Errorf("%w: cell sighting timestamp", ErrMissingField)
		}

		obs := model.CellObservation{
			SessionID:    begin.SessionID,
			NetworkType:  sighting.NetworkType,
			IsCDMA:       sighting.IsCDMA,
			IsServing:    sighting.IsServing,
			IsNeighbor:   sighting.IsNeighbor,
			OperatorName: sighting.OperatorName,
			OperatorCode: sighting.OperatorCode,
			MCC:          sighting.MCC,
			MNC:          sighting.MNC,
			StrengthDBm:  sighting.StrengthDBm,
			StrengthASU:  sighting.StrengthASU,
			Timestamp:    sighting.Timestamp,
		}
		if sighting.IsCDMA {
			obs.BaseID = sighting.BaseID
			obs.NetworkID = sighting.NetworkID
			obs.SystemID = sighting.SystemID
			obs.LogicalCellID = model.UnknownCellField
			obs.ActualCellID = model.UnknownCellField
			obs.PSC = model.UnknownCellField
			obs.UTRANRNC = model.UnknownCellField
			obs.Area = model.UnknownCellField
		} else {
			obs.LogicalCellID = sighting.LogicalCellID
			obs.ActualCellID = sighting.ActualCellID
			obs.PSC = sighting.PSC
			obs.UTRANRNC = sighting.UTRANRNC
			obs.Area = sighting.Area
			obs.BaseID = model.UnknownCellField
			obs.NetworkID = model.UnknownCellField
			obs.SystemID = model.UnknownCellField
		}
		observations = append(observations, obs)
	}

	if err := a.store.StoreScan(ctx, begin, end, nil, observations); err != nil {
		a.metrics.IncStoreErrors()
		return fmt.Errorf("tracker: cell scan: %w", err)
	}
	a.metrics.ObserveScanStored("cell")
	return nil
}

func (a *Aggregator) lookup(ctx context.Context, bssid string) (bool, error) {
	if a.catalog == nil {
		return false, nil
	}
	return a.catalog.Contains(ctx, bssid)
}

func validatePositions(begin, end model.Position) error {
	if begin.SessionID == 0 || end.SessionID == 0 {
		return fmt.Errorf("%w: position session id", ErrMissingField)
	}
	if begin.Timestamp.IsZero() || end.Timestamp.IsZero() {
		return fmt.Errorf("%w: position timestamp", ErrMissingField)
	}
	return nil
}
