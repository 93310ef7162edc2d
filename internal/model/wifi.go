package model

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidBSSID is returned when a BSSID does not parse as a 48-bit
// hardware address.
var ErrInvalidBSSID = errors.New("model: invalid bssid")

// NormalizeBSSID converts a textual BSSID ("AA:BB:CC:DD:EE:FF", with ':',
// '-' or '.' separators, any case) into its numeric 48-bit form.
func NormalizeBSSID(bssid string) (uint64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(bssid))

	if len(cleaned) != 12 {
		return 0, ErrInvalidBSSID
	}
	value, err := strconv.ParseUint(cleaned, 16, 64)
	if err != nil {
		return 0, ErrInvalidBSSID
	}
	return value, nil
}

// HashSSID returns the hex MD5 digest of an SSID, used both for the export
// md5essid field and for SSID anonymization.
func HashSSID(ssid string) string {
	sum := md5.Sum([]byte(ssid))
	return hex.EncodeToString(sum[:])
}

// IsOpenEncryption reports whether a capabilities string describes an open
// network (no WEP/WPA/WPA2/WPA3 marker).
func IsOpenEncryption(capabilities string) bool {
	upper := strings.ToUpper(capabilities)
	for _, marker := range []string{"WEP", "WPA", "PSK", "EAP", "SAE"} {
		if strings.Contains(upper, marker) {
			return false
		}
	}
	return true
}

// CellDescriptor renders a short human-readable identifier for a cell
// observation, used as the GPX waypoint name at full verbosity.
func (c CellObservation) CellDescriptor() string {
	if c.IsCDMA {
		return "CDMA " + strconv.Itoa(c.SystemID) + "/" + strconv.Itoa(c.NetworkID) + "/" + strconv.Itoa(c.BaseID)
	}
	if c.OperatorName != "" {
		return c.OperatorName + " " + strconv.FormatInt(c.ActualCellID, 10)
	}
	return c.MCC + c.MNC + " " + strconv.FormatInt(c.ActualCellID, 10)
}
