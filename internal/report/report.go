// Package report defines the JSON wire schema scan reports arrive in and
// decodes them into the aggregator's input types.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/tracker"
)

// ErrMalformed rejects a payload that cannot become a valid scan batch.
var ErrMalformed = errors.New("report: malformed scan report")

// Kind discriminates the two scan report variants.
type Kind string

const (
	KindWifi Kind = "wifi"
	KindCell Kind = "cell"
)

// Fix is a GPS fix as carried on the wire. Times are unix milliseconds.
type Fix struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
	Accuracy  float64 `json:"acc"`
	Bearing   float64 `json:"bearing"`
	Speed     float64 `json:"speed"`
	TimeMS    int64   `json:"time"`
}

// WifiEntry is one sighted access point.
type WifiEntry struct {
	BSSID        string `json:"bssid"`
	SSID         string `json:"ssid"`
	Capabilities string `json:"capabilities"`
	Frequency    int    `json:"frequency"`
	Level        int    `json:"level"`
	TimeMS       int64  `json:"time"`
}

// CellEntry is one sighted cell. GSM/UMTS and CDMA reports share the
// shape; only the fields of the reported family are expected to be set.
type CellEntry struct {
	NetworkType int  `json:"type"`
	CDMA        bool `json:"cdma"`
	Serving     bool `json:"serving"`
	Neighbor    bool `json:"neighbor"`

	LogicalCellID int64 `json:"logical_id"`
	ActualCellID  int64 `json:"actual_id"`
	PSC           int   `json:"psc"`
	RNC           int   `json:"rnc"`
	Area          int   `json:"area"`

	BaseID    int `json:"base_id"`
	NetworkID int `json:"network_id"`
	SystemID  int `json:"system_id"`

	Operator     string `json:"operator"`
	OperatorCode string `json:"opcode"`
	MCC          string `json:"mcc"`
	MNC          string `json:"mnc"`

	DBm    int   `json:"dbm"`
	ASU    int   `json:"asu"`
	TimeMS int64 `json:"time"`
}

// Report is one decoded scan report. Begin is the fix taken when the scan
// started; End defaults to Begin when the device sends no closing fix.
type Report struct {
	Kind  Kind        `json:"type"`
	Begin Fix         `json:"position"`
	End   *Fix        `json:"position_end,omitempty"`
	Wifis []WifiEntry `json:"wifis,omitempty"`
	Cells []CellEntry `json:"cells,omitempty"`
}

// Decode parses and validates a raw scan report payload.
func Decode(payload []byte) (Report, error) {
	var rep Report
	if err := json.Unmarshal(payload, &rep); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := rep.validate(); err != nil {
		return Report{}, err
	}
	return rep, nil
}

func (r Report) validate() error {
	switch r.Kind {
	case KindWifi:
		if len(r.Wifis) == 0 {
			return fmt.Errorf("%w: wifi report without wifis", ErrMalformed)
		}
		for _, w := range r.Wifis {
			if w.BSSID == "" || w.TimeMS == 0 {
				return fmt.Errorf("%w: wifi entry missing bssid or time", ErrMalformed)
			}
		}
	case KindCell:
		if len(r.Cells) == 0 {
			return fmt.Errorf("%w: cell report without cells", ErrMalformed)
		}
		for _, c := range r.Cells {
			if c.TimeMS == 0 {
				return fmt.Errorf("%w: cell entry missing time", ErrMalformed)
			}
		}
	default:
		return fmt.Errorf("%w: unknown report type %q", ErrMalformed, r.Kind)
	}
	if r.Begin.TimeMS == 0 {
		return fmt.Errorf("%w: report without begin fix time", ErrMalformed)
	}
	return nil
}

// Positions materializes the begin and end fixes for a session. A missing
// end fix reuses the begin fix, so a scan always spans a closed interval.
func (r Report) Positions(sessionID int64) (begin, end model.Position) {
	begin = r.Begin.position(sessionID)
	if r.End != nil {
		end = r.End.position(sessionID)
	} else {
		end = begin
	}
	return begin, end
}

func (f Fix) position(sessionID int64) model.Position {
	return model.Position{
		SessionID: sessionID,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Altitude:  f.Altitude,
		Accuracy:  f.Accuracy,
		Bearing:   f.Bearing,
		Speed:     f.Speed,
		Timestamp: time.UnixMilli(f.TimeMS).UTC(),
		Source:    model.SourceGPS,
	}
}

// WifiSightings converts the wifi entries into aggregator inputs.
func (r Report) WifiSightings() []tracker.WifiSighting {
	sightings := make([]tracker.WifiSighting, 0, len(r.Wifis))
	for _, w := range r.Wifis {
		sightings = append(sightings, tracker.WifiSighting{
			BSSID:        w.BSSID,
			SSID:         w.SSID,
			Capabilities: w.Capabilities,
			Frequency:    w.Frequency,
			Level:        w.Level,
			Timestamp:    time.UnixMilli(w.TimeMS).UTC(),
		})
	}
	return sightings
}

// CellSightings converts the cell entries into aggregator inputs.
func (r Report) CellSightings() []tracker.CellSighting {
	sightings := make([]tracker.CellSighting, 0, len(r.Cells))
	for _, c := range r.Cells {
		sightings = append(sightings, tracker.CellSighting{
			NetworkType:   c.NetworkType,
			IsCDMA:        c.CDMA,
			IsServing:     c.Serving,
			IsNeighbor:    c.Neighbor,
			LogicalCellID: c.LogicalCellID,
			ActualCellID:  c.ActualCellID,
			PSC:           c.PSC,
			UTRANRNC:      c.RNC,
			Area:          c.Area,
			BaseID:        c.BaseID,
			NetworkID:     c.NetworkID,
			SystemID:      c.SystemID,
			OperatorName:  c.Operator,
			OperatorCode:  c.OperatorCode,
			MCC:           c.MCC,
			MNC:           c.MNC,
			StrengthDBm:   c.DBm,
			StrengthASU:   c.ASU,
			Timestamp:     time.UnixMilli(c.TimeMS).UTC(),
		})
	}
	return sightings
}
