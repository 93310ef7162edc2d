package testutil

import (
	"encoding/json"
	"testing"

	"github.com/openbmap/radiobeacon-core/internal/report"
)

// BytesRepeating creates a slice filled with a repeated byte.
func BytesRepeating(b byte, count int) []byte {
	buf := make([]byte, count)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// DefaultFix returns a begin fix with common defaults used in tests.
func DefaultFix() report.Fix {
	return report.Fix{
		Latitude:  48.137,
		Longitude: 11.575,
		Altitude:  521.0,
		Accuracy:  4.5,
		TimeMS:    1765705600000,
	}
}

// BuildWifiReport marshals a wifi scan report carrying a single access
// point with the given BSSID.
func BuildWifiReport(t testing.TB, bssid string) []byte {
	t.Helper()
	return MarshalReport(t, report.Report{
		Kind:  report.KindWifi,
		Begin: DefaultFix(),
		Wifis: []report.WifiEntry{
			{
				BSSID:        bssid,
				SSID:         "muc-hotspot",
				Capabilities: "[WPA2-PSK-CCMP][ESS]",
				Frequency:    2437,
				Level:        -61,
				TimeMS:       1765705600500,
			},
		},
	})
}

// BuildCellReport marshals a cell scan report with one serving GSM cell.
func BuildCellReport(t testing.TB) []byte {
	t.Helper()
	return MarshalReport(t, report.Report{
		Kind:  report.KindCell,
		Begin: DefaultFix(),
		Cells: []report.CellEntry{
			{
				NetworkType:   13,
				Serving:       true,
				LogicalCellID: 268435777,
				ActualCellID:  4097,
				Area:          5021,
				Operator:      "TestNet",
				OperatorCode:  "26201",
				MCC:           "262",
				MNC:           "01",
				DBm:           -87,
				ASU:           27,
				TimeMS:        1765705600500,
			},
		},
	})
}

// MarshalReport encodes a scan report to its wire form.
func MarshalReport(t testing.TB, rep report.Report) []byte {
	t.Helper()
	payload, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	return payload
}
