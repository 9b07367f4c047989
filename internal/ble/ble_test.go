package ble

import (
	"crypto/aes"
	"encoding/hex"
	"slices"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// advertisement builds manufacturer data with a 25-byte payload.
func advertisement(status, pods, chargingCase byte, encrypted []byte) []byte {
	data := []byte{proximityType, 0x19, 0x01, 0x27, 0x20, status, pods, chargingCase, 0x11, 0x02, 0x05}
	if encrypted == nil {
		encrypted = make([]byte, encryptedSize)
	}
	return append(data, encrypted...)
}

func encrypt(t *testing.T, key, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, encryptedSize)
	block.Encrypt(out, plain)
	return out
}

func level(v uint8) *uint8 {
	return &v
}

func TestParseProximityData(t *testing.T) {
	tests := []struct {
		name       string
		status     byte
		pods       byte
		left       *uint8
		right      *uint8
		flipped    bool
		leftInEar  bool
		rightInEar bool
	}{
		{"left primary swaps ear bits", 0x28, 0x58, level(50), level(80), false, false, true},
		{"right primary", 0x08, 0x58, level(80), level(50), true, true, false},
		{"right primary in case swaps ear bits", 0x48, 0x5F, nil, level(50), true, false, true},
		{"full nibble", 0x20, 0xAE, level(100), level(100), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pd, err := ParseProximityData(advertisement(tt.status, tt.pods, 0x54, nil))
			require.NoError(t, err)
			assert.Equal(t, uint16(0x2720), pd.DeviceModel)
			assert.Equal(t, tt.left, pd.LeftBattery)
			assert.Equal(t, tt.right, pd.RightBattery)
			assert.Equal(t, tt.flipped, pd.IsFlipped)
			assert.Equal(t, tt.leftInEar, pd.LeftInEar)
			assert.Equal(t, tt.rightInEar, pd.RightInEar)
			assert.Equal(t, level(40), pd.CaseBattery)
			assert.True(t, pd.CaseCharging)
			assert.Equal(t, "Red", DecodeColor(pd.Color))
			assert.True(t, pd.LidOpen)
			assert.Len(t, pd.RawData, 25)
		})
	}
}

func TestParseProximityChargingBits(t *testing.T) {
	pd, err := ParseProximityData(advertisement(0x20, 0x55, 0x1F, nil))
	require.NoError(t, err)
	assert.True(t, pd.LeftCharging)
	assert.False(t, pd.RightCharging)
	assert.False(t, pd.CaseCharging)
	assert.Nil(t, pd.CaseBattery)

	flipped, err := ParseProximityData(advertisement(0x00, 0x55, 0x1F, nil))
	require.NoError(t, err)
	assert.False(t, flipped.LeftCharging)
	assert.True(t, flipped.RightCharging)
}

func TestParseProximityDataErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong type", []byte{0x10, 0x02, 0x01, 0x02}},
		{"truncated", []byte{proximityType, 0x19, 0x01}},
		{"short payload", []byte{proximityType, 0x03, 0x01, 0x27, 0x20}},
		{"bad prefix", append([]byte{proximityType, 0x0A, 0x02}, make([]byte, 9)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProximityData(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestDecodeBattery(t *testing.T) {
	assert.Equal(t, level(0), DecodeBattery(0x0))
	assert.Equal(t, level(90), DecodeBattery(0x9))
	assert.Equal(t, level(100), DecodeBattery(0xC))
	assert.Nil(t, DecodeBattery(0xF))
}

func TestDecryptAndMerge(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain := []byte{0x01, 0x80 | 57, 63, 0x80 | 99, 0x2D, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	pd, err := ParseProximityData(advertisement(0x08, 0x58, 0x54, encrypt(t, key, plain)))
	require.NoError(t, err)
	require.True(t, pd.IsFlipped)

	block, ok := pd.EncryptedPayload()
	require.True(t, ok)

	decrypted, err := DecryptProximityPayload(block, key)
	require.NoError(t, err)
	assert.Equal(t, plain, decrypted)

	require.NoError(t, pd.AddDecryptedData(decrypted))
	assert.True(t, pd.HasDecrypted)
	assert.Equal(t, level(63), pd.LeftBattery)
	assert.Equal(t, level(57), pd.RightBattery)
	assert.False(t, pd.LeftCharging)
	assert.True(t, pd.RightCharging)
	assert.Equal(t, level(99), pd.CaseBattery)
	assert.True(t, pd.CaseCharging)
}

func TestDecryptWrongKey(t *testing.T) {
	plain := []byte{0x01, 50, 50, 50, 0x2D, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	block := encrypt(t, []byte("0123456789abcdef"), plain)

	_, err := DecryptProximityPayload(block, []byte("fedcba9876543210"))
	assert.ErrorIs(t, err, ErrWrongKey)

	_, err = DecryptProximityPayload(block[:8], []byte("0123456789abcdef"))
	assert.Error(t, err)
	_, err = DecryptProximityPayload(block, []byte("short"))
	assert.Error(t, err)
}

func TestAddDecryptedDataRejectsBadLevels(t *testing.T) {
	pd, err := ParseProximityData(advertisement(0x20, 0x55, 0x55, nil))
	require.NoError(t, err)
	require.NoError(t, pd.AddDecryptedData([]byte{0, 0x7F, 20, 0xFF, 0x2D, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}))
	assert.Nil(t, pd.LeftBattery)
	assert.Equal(t, level(20), pd.RightBattery)
	assert.Nil(t, pd.CaseBattery)

	assert.Error(t, pd.AddDecryptedData([]byte{1, 2, 3}))
}

func sampleIRK(t *testing.T) *[16]byte {
	t.Helper()
	b, err := hex.DecodeString("ec0234a357c8ad05341010a60a397d9b")
	require.NoError(t, err)
	slices.Reverse(b)
	var irk [16]byte
	copy(irk[:], b)
	return &irk
}

func propertiesSignal(path dbus.ObjectPath, data []byte) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: propertiesIface + ".PropertiesChanged",
		Body: []interface{}{
			deviceIface,
			map[string]dbus.Variant{
				"ManufacturerData": dbus.MakeVariant(map[uint16]dbus.Variant{
					appleCompanyID: dbus.MakeVariant(data),
				}),
			},
			[]string{},
		},
	}
}

func TestAppleData(t *testing.T) {
	data := advertisement(0x20, 0x55, 0x55, nil)

	addr, got, ok := appleData(propertiesSignal("/org/bluez/hci0/dev_70_81_94_0D_FB_AA", data))
	require.True(t, ok)
	assert.Equal(t, "70:81:94:0D:FB:AA", addr)
	assert.Equal(t, data, got)

	mfg := dbus.MakeVariant(map[uint16]dbus.Variant{appleCompanyID: dbus.MakeVariant(data)})
	added := &dbus.Signal{
		Path: "/",
		Name: objectManager + ".InterfacesAdded",
		Body: []interface{}{
			dbus.ObjectPath("/org/bluez/hci0/dev_11_22_33_44_55_66"),
			map[string]map[string]dbus.Variant{
				deviceIface: {
					"Address":          dbus.MakeVariant("11:22:33:44:55:66"),
					"ManufacturerData": mfg,
				},
			},
		},
	}
	addr, _, ok = appleData(added)
	require.True(t, ok)
	assert.Equal(t, "11:22:33:44:55:66", addr)

	other := propertiesSignal("/org/bluez/hci0/dev_70_81_94_0D_FB_AA", data)
	other.Body[1] = map[string]dbus.Variant{
		"ManufacturerData": dbus.MakeVariant(map[uint16]dbus.Variant{0x0006: dbus.MakeVariant(data)}),
	}
	_, _, ok = appleData(other)
	assert.False(t, ok)

	_, _, ok = appleData(&dbus.Signal{Name: "org.bluez.Other", Body: []interface{}{1, 2}})
	assert.False(t, ok)
}

func TestScannerFiltersByIRK(t *testing.T) {
	s := &Scanner{logger: zap.NewNop()}
	data := advertisement(0x20, 0x55, 0x55, nil)

	_, ok := s.decode("11:22:33:44:55:66", data)
	assert.True(t, ok, "no IRK accepts everything")

	s.SetKeys(Keys{IRK: sampleIRK(t)})
	adv, ok := s.decode("70:81:94:0D:FB:AA", data)
	require.True(t, ok)
	assert.Equal(t, "70:81:94:0D:FB:AA", adv.Address)

	_, ok = s.decode("11:22:33:44:55:66", data)
	assert.False(t, ok)

	_, ok = s.decode("70:81:94:0D:FB:AA", []byte{0x10, 0x00})
	assert.False(t, ok)
}

func TestScannerDecryptsWithKey(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain := []byte{0x00, 77, 66, 55, 0x2D, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	data := advertisement(0x20, 0x55, 0x55, encrypt(t, key, plain))

	s := &Scanner{logger: zap.NewNop()}
	s.SetKeys(Keys{EncryptionKey: key})
	adv, ok := s.decode("11:22:33:44:55:66", data)
	require.True(t, ok)
	assert.True(t, adv.Data.HasDecrypted)
	assert.Equal(t, level(77), adv.Data.LeftBattery)

	s.SetKeys(Keys{EncryptionKey: []byte("fedcba9876543210")})
	adv, ok = s.decode("11:22:33:44:55:66", data)
	require.True(t, ok, "a wrong key keeps the approximate data")
	assert.False(t, adv.Data.HasDecrypted)
	assert.Equal(t, level(50), adv.Data.LeftBattery)
}

func TestProximityString(t *testing.T) {
	pd, err := ParseProximityData(advertisement(0x28, 0x58, 0x54, nil))
	require.NoError(t, err)
	s := pd.String()
	assert.Contains(t, s, "Left:  50% (Charging)")
	assert.Contains(t, s, "Right: 80% [In Ear]")
	assert.Contains(t, s, "Case:  40% (Charging)")
	assert.Contains(t, s, "AirPods Pro 3")
}
