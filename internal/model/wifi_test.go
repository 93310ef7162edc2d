package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBSSID(t *testing.T) {
	tests := []struct {
		name    string
		bssid   string
		want    uint64
		wantErr bool
	}{
		{name: "colon separated", bssid: "AA:BB:CC:DD:EE:FF", want: 0xAABBCCDDEEFF},
		{name: "dash separated", bssid: "aa-bb-cc-dd-ee-ff", want: 0xAABBCCDDEEFF},
		{name: "dot separated", bssid: "aabb.ccdd.eeff", want: 0xAABBCCDDEEFF},
		{name: "bare hex", bssid: "001122334455", want: 0x001122334455},
		{name: "surrounding whitespace", bssid: " 00:11:22:33:44:55 ", want: 0x001122334455},
		{name: "too short", bssid: "AA:BB:CC", wantErr: true},
		{name: "non hex", bssid: "GG:HH:II:JJ:KK:LL", wantErr: true},
		{name: "empty", bssid: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBSSID(tt.bssid)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidBSSID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashSSID(t *testing.T) {
	// MD5 is fixed; the hash doubles as the anonymized SSID replacement.
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", HashSSID(""))
	assert.Equal(t, HashSSID("homenet"), HashSSID("homenet"))
	assert.NotEqual(t, HashSSID("homenet"), HashSSID("homenet2"))
	assert.Len(t, HashSSID("any"), 32)
}

func TestIsOpenEncryption(t *testing.T) {
	assert.True(t, IsOpenEncryption("[ESS]"))
	assert.True(t, IsOpenEncryption(""))
	assert.False(t, IsOpenEncryption("[WPA2-PSK-CCMP][ESS]"))
	assert.False(t, IsOpenEncryption("[WEP]"))
	assert.False(t, IsOpenEncryption("[WPA3-SAE]"))
}

func TestCatalogStatusString(t *testing.T) {
	assert.Equal(t, "new", StatusNew.String())
	assert.Equal(t, "known_after_sync", StatusKnownAfterSync.String())
	assert.Equal(t, "previously_known", StatusPreviouslyKnown.String())
}

func TestCellDescriptor(t *testing.T) {
	gsm := CellObservation{OperatorName: "TestNet", ActualCellID: 12345}
	assert.Equal(t, "TestNet 12345", gsm.CellDescriptor())

	noName := CellObservation{MCC: "262", MNC: "01", ActualCellID: 99}
	assert.Equal(t, "26201 99", noName.CellDescriptor())

	cdma := CellObservation{IsCDMA: true, SystemID: 1, NetworkID: 2, BaseID: 3}
	assert.Equal(t, "CDMA 1/2/3", cdma.CellDescriptor())
}
