// Package model defines the entities shared by the capture, export, and
// upload stages: tracking sessions, GPS positions, and the wifi/cell
// observations recorded against them.
package model

import "time"

// PositionSource tags where a position row came from.
type PositionSource string

const (
	SourceGPS      PositionSource = "gps"
	SourceTrack    PositionSource = "track"
	SourceWaypoint PositionSource = "waypoint"
)

// Session is one logical tracking run from start to stop. At most one
// session is active at any time; the session manager enforces this.
type Session struct {
	ID          int64
	CreatedAt   time.Time
	LastUpdated time.Time
	Description string
	IsActive    bool
	Exported    bool

	WifiCount     int64
	CellCount     int64
	WaypointCount int64
}

// Position is a single GPS fix owned by exactly one session. Rows are
// immutable once written.
type Position struct {
	ID        int64
	SessionID int64
	Latitude  float64
	Longitude float64
	Altitude  float64
	Accuracy  float64
	Bearing   float64
	Speed     float64
	Timestamp time.Time
	Source    PositionSource
}

// CatalogStatus records whether a wifi observation's BSSID is already
// present in the reference catalog. Transitions are forward-only:
// New -> KnownAfterSync, never backward.
type CatalogStatus int

const (
	StatusNew CatalogStatus = iota
	StatusKnownAfterSync
	StatusPreviouslyKnown
)

func (s CatalogStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusKnownAfterSync:
		return "known_after_sync"
	case StatusPreviouslyKnown:
		return "previously_known"
	default:
		return "unknown"
	}
}

// WifiObservation is one access point sighting within a scan. Begin and end
// positions are usually the same fix; the schema allows distinct ids to
// bracket a scan's duration.
type WifiObservation struct {
	ID            int64
	SessionID     int64
	BSSID         string
	BSSIDNumeric  uint64
	SSID          string
	SSIDHash      string
	Capabilities  string
	Frequency     int
	Level         int
	Timestamp     time.Time
	BeginPosition int64
	EndPosition   int64
	Status        CatalogStatus
}

// NetworkFamily splits cell observations into the two field layouts that
// share one table.
type NetworkFamily int

const (
	FamilyGSM NetworkFamily = iota
	FamilyCDMA
)

// UnknownCellField marks the unused family's identifier columns.
const UnknownCellField = -1

// CellObservation is one cell tower sighting. GSM/UMTS and CDMA variants
// share the struct; the unused family's identifiers hold UnknownCellField.
type CellObservation struct {
	ID          int64
	SessionID   int64
	NetworkType int
	IsCDMA      bool
	IsServing   bool
	IsNeighbor  bool

	// GSM/UMTS family.
	LogicalCellID int64
	ActualCellID  int64
	PSC           int
	UTRANRNC      int
	Area          int

	// CDMA family.
	BaseID    int
	NetworkID int
	SystemID  int

	OperatorName string
	OperatorCode string
	MCC          string
	MNC          string

	StrengthDBm int
	StrengthASU int

	Timestamp     time.Time
	BeginPosition int64
	EndPosition   int64
}

// LogFileMeta describes the device and software that recorded a session.
// One row per session, descriptive only.
type LogFileMeta struct {
	SessionID    int64
	Manufacturer string
	Model        string
	Revision     string
	SoftwareID   string
	SoftwareVer  string
}

// CatalogEntry is one row of the append-only reference catalog: a BSSID
// with its averaged observation position.
type CatalogEntry struct {
	BSSID     string
	Latitude  float64
	Longitude float64
}
