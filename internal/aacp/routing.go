package aacp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"podlink/internal/rpa"
)

// DeviceType is the kind of host a connected device was identified as.
type DeviceType uint8

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeIPhone
	DeviceTypeIPad
	DeviceTypeMac
	DeviceTypeLinux
	DeviceTypeAndroid
)

var deviceMarkers = []struct {
	marker []byte
	typ    DeviceType
}{
	{[]byte("iPhone"), DeviceTypeIPhone},
	{[]byte("iPad"), DeviceTypeIPad},
	{[]byte("Mac"), DeviceTypeMac},
	{[]byte("Linux"), DeviceTypeLinux},
	{[]byte("Android"), DeviceTypeAndroid},
}

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeIPhone:
		return "iPhone"
	case DeviceTypeIPad:
		return "iPad"
	case DeviceTypeMac:
		return "Mac"
	case DeviceTypeLinux:
		return "Linux"
	case DeviceTypeAndroid:
		return "Android"
	default:
		return "Unknown"
	}
}

// Smart routing blob markers.
var (
	markerBTName       = []byte("btName")
	markerOtherDevice  = []byte("otherDevice")
	markerNBAudio      = []byte("nbAudio")
	markerRelinquish   = []byte("SetOwnershipToFalse")
	markerShowNearbyUI = []byte("ShowNearbyUI")
)

// ClassifyDeviceType looks for a device type marker in a smart routing
// blob. When a "btName" key is present only its value region is searched,
// up to the next "otherDevice" or "nbAudio" key, so the peer's own name
// decides. The earliest marker in the region wins.
func ClassifyDeviceType(blob []byte) DeviceType {
	region := blob
	if i := bytes.Index(region, markerBTName); i >= 0 {
		region = region[i+len(markerBTName):]
		end := len(region)
		for _, stop := range [][]byte{markerOtherDevice, markerNBAudio} {
			if j := bytes.Index(region, stop); j >= 0 && j < end {
				end = j
			}
		}
		region = region[:end]
	}

	best, bestAt := DeviceTypeUnknown, len(region)
	for _, m := range deviceMarkers {
		if i := bytes.Index(region, m.marker); i >= 0 && i < bestAt {
			best, bestAt = m.typ, i
		}
	}
	return best
}

// RoutingSignal is everything a smart routing packet tells us.
type RoutingSignal struct {
	// Sender is the MAC of the host the exchange is about.
	Sender       string
	DeviceType   DeviceType
	Relinquish   bool
	ShowNearbyUI bool
}

// Classify derives a RoutingSignal from a smart routing body. It does not
// look at framing; see ParseSmartRouting.
func Classify(sender [6]byte, blob []byte) RoutingSignal {
	return RoutingSignal{
		Sender:       formatMAC(sender[:], true),
		DeviceType:   ClassifyDeviceType(blob),
		Relinquish:   bytes.Contains(blob, markerRelinquish),
		ShowNearbyUI: bytes.Contains(blob, markerShowNearbyUI),
	}
}

const smartRoutingMinSize = HeaderSize + 6

// ParseSmartRouting splits a 0x10 or 0x11 packet into the little-endian
// sender address at offset 6 and the free-text blob after it.
func ParseSmartRouting(packet []byte) (RoutingSignal, error) {
	op, ok := PacketOpcode(packet)
	if !ok || (op != OpcodeSmartRouting && op != OpcodeSmartRoutingResponse) {
		return RoutingSignal{}, decodeErrorf("smart routing", "not a smart routing packet")
	}
	if len(packet) < smartRoutingMinSize {
		return RoutingSignal{}, decodeErrorf("smart routing", "need at least %d bytes, got %d", smartRoutingMinSize, len(packet))
	}

	var sender [6]byte
	copy(sender[:], packet[HeaderSize:smartRoutingMinSize])
	return Classify(sender, packet[smartRoutingMinSize:]), nil
}

// Smart routing payloads are small dictionaries in Apple's OPACK encoding.
// Only the value kinds the requests below need are supported.
const (
	opackTrue      = 0x01
	opackFalse     = 0x02
	opackInt8      = 0x30
	opackInt16     = 0x31
	opackStrShort  = 0x40 // + length, up to 0x20
	opackStrLen8   = 0x61
	opackDictShort = 0xE0 // + entry count, up to 0x0E
)

// opackEntry is one key/value pair of an OPACK dictionary. Value is already
// encoded.
type opackEntry struct {
	key   string
	value []byte
}

func opackString(s string) []byte {
	if len(s) <= 0x20 {
		return append([]byte{byte(opackStrShort + len(s))}, s...)
	}
	if len(s) > 0xFF {
		s = s[:0xFF]
	}
	return append([]byte{opackStrLen8, byte(len(s))}, s...)
}

func opackInt(v int) []byte {
	if v >= -128 && v <= 127 {
		return []byte{opackInt8, byte(int8(v))}
	}
	out := []byte{opackInt16, 0, 0}
	binary.LittleEndian.PutUint16(out[1:], uint16(int16(v)))
	return out
}

func opackBool(b bool) []byte {
	if b {
		return []byte{opackTrue}
	}
	return []byte{opackFalse}
}

func opackDict(entries []opackEntry) []byte {
	out := []byte{byte(opackDictShort + len(entries))}
	for _, e := range entries {
		out = append(out, opackString(e.key)...)
		out = append(out, e.value...)
	}
	return out
}

// smartRoutingRequest frames an outbound smart routing message:
//
//	04 00 04 00 10 00 [target mac x6, reversed] [len LE16] 01 [opack dict]
//
// len counts the 01 marker and the dictionary.
func smartRoutingRequest(target string, entries []opackEntry) ([]byte, error) {
	addr, err := rpa.ParseAddress(target)
	if err != nil {
		return nil, fmt.Errorf("smart routing target: %w", err)
	}

	dict := opackDict(entries)
	body := make([]byte, 0, 6+2+1+len(dict))
	for i := 5; i >= 0; i-- {
		body = append(body, addr[i])
	}
	body = binary.LittleEndian.AppendUint16(body, uint16(1+len(dict)))
	body = append(body, 0x01)
	body = append(body, dict...)
	return Frame(OpcodeSmartRouting, body...), nil
}

// remoteScore is sent verbatim; its meaning is unknown.
const remoteScore = 0xA5

func ownershipRequest(target, reason string) ([]byte, error) {
	return smartRoutingRequest(target, []opackEntry{
		{"localscore", opackInt(100)},
		{"reason", opackString(reason)},
		{"audioRoutingScore", opackInt(301)},
		{"audioRoutingSetOwnershipToFalse", opackBool(true)},
		{"remotescore", []byte{remoteScore}},
	})
}

// EncodeHijackRequest asks target to give up audio ownership to us.
func EncodeHijackRequest(target string) ([]byte, error) {
	return ownershipRequest(target, "Hijackv2")
}

// EncodeTakeoverRequest is the request sent when the user taps the "move
// audio here" banner.
func EncodeTakeoverRequest(target string) ([]byte, error) {
	return ownershipRequest(target, "ReverseBannerTapped")
}

const audioCategoryMedia = 100

func streamingState(streaming bool) string {
	if streaming {
		return "YES"
	}
	return "NO"
}

// EncodeMediaInformationNewDevice announces this host to target right
// after connecting.
func EncodeMediaInformationNewDevice(self, target, name string) ([]byte, error) {
	return smartRoutingRequest(target, []opackEntry{
		{"PlayingApp", opackString("NA")},
		{"HostStreamingState", opackString(streamingState(false))},
		{"btAddress", opackString(self)},
		{"btName", opackString(name)},
		{"otherDevice", opackString(target)},
		{"AudioCategory", opackInt(audioCategoryMedia)},
	})
}

// EncodeMediaInformation tells target what this host is playing.
func EncodeMediaInformation(self, target string, streaming bool, appID string) ([]byte, error) {
	return smartRoutingRequest(target, []opackEntry{
		{"PlayingApp", opackString(appID)},
		{"HostStreamingState", opackString(streamingState(streaming))},
		{"btAddress", opackString(self)},
		{"otherDevice", opackString(target)},
		{"AudioCategory", opackInt(audioCategoryMedia)},
	})
}

// EncodeRename builds: 04 00 04 00 1E 00 01 [len] 00 [name]
func EncodeRename(name string) ([]byte, error) {
	if len(name) == 0 || len(name) > 0xFF {
		return nil, fmt.Errorf("rename: name must be 1-255 bytes, got %d", len(name))
	}
	body := append([]byte{0x01, byte(len(name)), 0x00}, name...)
	return Frame(OpcodeRename, body...), nil
}
