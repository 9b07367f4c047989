package aacp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDeviceType(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want DeviceType
	}{
		{"name region", "\x46btName\x4bJohn's iPad\x4botherDevice\x46iPhone", DeviceTypeIPad},
		{"stops at nbAudio", "btName\x49Linux box\x47nbAudio iPhone", DeviceTypeLinux},
		{"earliest marker wins", "btName\x4aiPad of Mac", DeviceTypeIPad},
		{"no name key searches everything", "reason Hijackv2 from Mac", DeviceTypeMac},
		{"android", "btName\x4bPixel Android", DeviceTypeAndroid},
		{"iphone", "btName\x48iPhone 15", DeviceTypeIPhone},
		{"nothing", "btName\x45Pixel", DeviceTypeUnknown},
		{"marker outside name region", "btName\x45PixelotherDevice iPhone", DeviceTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDeviceType([]byte(tt.blob)))
		})
	}
}

func TestParseSmartRouting(t *testing.T) {
	body := []byte{0x01, 0x00, 0x00, 0xCC, 0xBB, 0xAA}
	body = append(body, "btName\x46iPhone reason SetOwnershipToFalse ShowNearbyUI"...)

	sig, err := ParseSmartRouting(Frame(OpcodeSmartRoutingResponse, body...))
	require.NoError(t, err)
	assert.Equal(t, RoutingSignal{
		Sender:       macA,
		DeviceType:   DeviceTypeIPhone,
		Relinquish:   true,
		ShowNearbyUI: true,
	}, sig)
}

func TestParseSmartRoutingErrors(t *testing.T) {
	_, err := ParseSmartRouting(Frame(OpcodeSmartRouting, 0x01, 0x02))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = ParseSmartRouting(Frame(OpcodeEQ, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06))
	assert.ErrorIs(t, err, ErrDecode)
}

func opackKey(key string) []byte {
	return append([]byte{byte(0x40 + len(key))}, key...)
}

func TestEncodeHijackRequest(t *testing.T) {
	packet, err := EncodeHijackRequest("11:22:33:44:55:66")
	require.NoError(t, err)

	var dict []byte
	dict = append(dict, 0xE5)
	dict = append(dict, opackKey("localscore")...)
	dict = append(dict, 0x30, 0x64)
	dict = append(dict, opackKey("reason")...)
	dict = append(dict, opackKey("Hijackv2")...)
	dict = append(dict, opackKey("audioRoutingScore")...)
	dict = append(dict, 0x31, 0x2D, 0x01)
	dict = append(dict, opackKey("audioRoutingSetOwnershipToFalse")...)
	dict = append(dict, 0x01)
	dict = append(dict, opackKey("remotescore")...)
	dict = append(dict, 0xA5)
	require.Len(t, dict, 97)

	want := []byte{0x04, 0x00, 0x04, 0x00, 0x10, 0x00, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0x62, 0x00, 0x01}
	want = append(want, dict...)
	assert.Equal(t, want, packet)
}

func TestEncodeTakeoverRequestDiffersOnlyInReason(t *testing.T) {
	hijack, err := EncodeHijackRequest("11:22:33:44:55:66")
	require.NoError(t, err)
	takeover, err := EncodeTakeoverRequest("11:22:33:44:55:66")
	require.NoError(t, err)

	assert.True(t, bytes.Contains(takeover, opackKey("ReverseBannerTapped")))
	assert.False(t, bytes.Contains(takeover, []byte("Hijackv2")))
	assert.Equal(t, len(hijack)+len("ReverseBannerTapped")-len("Hijackv2"), len(takeover))
}

func TestEncodeMediaInformationNewDevice(t *testing.T) {
	packet, err := EncodeMediaInformationNewDevice("00:11:22:33:44:55", macA, "Linux laptop")
	require.NoError(t, err)

	assert.Equal(t, Frame(OpcodeSmartRouting, 0x01, 0x00, 0x00, 0xCC, 0xBB, 0xAA), packet[:12])
	assert.Equal(t, byte(0xE6), packet[15])
	assert.True(t, bytes.Contains(packet, append(opackKey("btName"), opackKey("Linux laptop")...)))
	assert.True(t, bytes.Contains(packet, append(opackKey("AudioCategory"), 0x30, 0x64)))
	assert.True(t, bytes.Contains(packet, append(opackKey("HostStreamingState"), opackKey("NO")...)))

	sig, err := ParseSmartRouting(packet)
	require.NoError(t, err)
	assert.Equal(t, macA, sig.Sender)
	assert.Equal(t, DeviceTypeLinux, sig.DeviceType)
	assert.False(t, sig.Relinquish)
}

func TestEncodeMediaInformation(t *testing.T) {
	packet, err := EncodeMediaInformation("00:11:22:33:44:55", macA, true, "com.spotify.music")
	require.NoError(t, err)

	assert.Equal(t, byte(0xE5), packet[15])
	assert.True(t, bytes.Contains(packet, append(opackKey("PlayingApp"), opackKey("com.spotify.music")...)))
	assert.True(t, bytes.Contains(packet, append(opackKey("HostStreamingState"), opackKey("YES")...)))

	_, err = EncodeMediaInformation("00:11:22:33:44:55", "not-a-mac", true, "x")
	assert.Error(t, err)
}

func TestOpackValues(t *testing.T) {
	assert.Equal(t, []byte{0x30, 0x64}, opackInt(100))
	assert.Equal(t, []byte{0x31, 0x2D, 0x01}, opackInt(301))
	assert.Equal(t, []byte{0x02}, opackBool(false))

	long := string(bytes.Repeat([]byte("a"), 40))
	enc := opackString(long)
	assert.Equal(t, []byte{0x61, 40}, enc[:2])
	assert.Len(t, enc, 42)
}

func TestEncodeRename(t *testing.T) {
	packet, err := EncodeRename("Pods")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x00, 0x04, 0x00, 0x1E, 0x00, 0x01, 0x04, 0x00, 'P', 'o', 'd', 's'}, packet)

	_, err = EncodeRename("")
	assert.Error(t, err)
}
