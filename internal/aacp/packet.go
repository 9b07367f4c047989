// Package aacp implements the Apple Accessory Communication Protocol (AACP)
// that AirPods speak over L2CAP PSM 4097 (0x1001).
//
// AACP gives access to everything that standard Bluetooth profiles do not
// cover: per-bud battery, noise control, ear detection, conversation
// awareness, stem presses, equalizer state, proximity keys and the "smart
// routing" exchanges hosts use to hand audio ownership to each other.
//
// Packet format:
//
//	Offset 0-3: session header (04 00 04 00)
//	Offset 4:   opcode
//	Offset 5:   reserved (00)
//	Offset 6-:  opcode specific body
//
// Bodies are heterogeneous. Some are TLV bags, some fixed float structs,
// some NUL separated string tables and some free-text key/value blobs, so
// every opcode has its own codec in this package. The standalone Parse*
// functions return *DecodeError for malformed input; Session.Receive logs
// and drops malformed packets instead so one bad packet never ends a
// session.
//
// Based on reverse engineering work from:
//   - LibrePods: https://github.com/kavishdevar/librepods
//   - OpenPods: https://github.com/adolfintel/OpenPods
package aacp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// PSM is the L2CAP Protocol/Service Multiplexer AACP is served on.
const PSM = 0x1001

// HeaderSize is the length of the session header plus opcode and reserved
// byte, i.e. the offset at which every body starts.
const HeaderSize = 6

var header = []byte{0x04, 0x00, 0x04, 0x00}

// Opcode selects the body codec of an AACP packet.
type Opcode uint8

const (
	OpcodeBattery               Opcode = 0x04
	OpcodeEarDetection          Opcode = 0x06
	OpcodeControlCommand        Opcode = 0x09
	OpcodeAudioSource           Opcode = 0x0E
	OpcodeRequestNotifications  Opcode = 0x0F
	OpcodeSmartRouting          Opcode = 0x10
	OpcodeSmartRoutingResponse  Opcode = 0x11
	OpcodeHeadTracking          Opcode = 0x17
	OpcodeStemPress             Opcode = 0x19
	OpcodeInformation           Opcode = 0x1D
	OpcodeRename                Opcode = 0x1E
	OpcodeConnectedDevices      Opcode = 0x2E
	OpcodeProximityKeysRequest  Opcode = 0x30
	OpcodeProximityKeysResponse Opcode = 0x31
	OpcodeConversationAwareness Opcode = 0x4B
	OpcodeSetFeatureFlags       Opcode = 0x4D
	OpcodeEQ                    Opcode = 0x53
)

func (o Opcode) String() string {
	switch o {
	case OpcodeBattery:
		return "Battery"
	case OpcodeEarDetection:
		return "EarDetection"
	case OpcodeControlCommand:
		return "ControlCommand"
	case OpcodeAudioSource:
		return "AudioSource"
	case OpcodeRequestNotifications:
		return "RequestNotifications"
	case OpcodeSmartRouting:
		return "SmartRouting"
	case OpcodeSmartRoutingResponse:
		return "SmartRoutingResponse"
	case OpcodeHeadTracking:
		return "HeadTracking"
	case OpcodeStemPress:
		return "StemPress"
	case OpcodeInformation:
		return "Information"
	case OpcodeRename:
		return "Rename"
	case OpcodeConnectedDevices:
		return "ConnectedDevices"
	case OpcodeProximityKeysRequest:
		return "ProximityKeysRequest"
	case OpcodeProximityKeysResponse:
		return "ProximityKeysResponse"
	case OpcodeConversationAwareness:
		return "ConversationAwareness"
	case OpcodeSetFeatureFlags:
		return "SetFeatureFlags"
	case OpcodeEQ:
		return "EQ"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(o))
	}
}

// Fixed request packets.
var (
	// packetHandshake opens the AACP session. It is the only packet that
	// does not carry the session header.
	packetHandshake = []byte{0x00, 0x00, 0x04, 0x00, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	// packetRequestNotifications subscribes to every notification class.
	packetRequestNotifications = Frame(OpcodeRequestNotifications, 0xFF, 0xFF, 0xFF, 0xFF)

	// packetSetFeatureFlags enables conversation awareness and adaptive
	// transparency.
	packetSetFeatureFlags = Frame(OpcodeSetFeatureFlags, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)

	// packetProximityKeysRequest asks for the IRK and ENC_KEY.
	packetProximityKeysRequest = Frame(OpcodeProximityKeysRequest, 0x05, 0x00)
)

// ErrDecode matches every *DecodeError.
var ErrDecode = errors.New("aacp: malformed packet")

// ErrNotConnected is returned by sends on a session without a transport.
var ErrNotConnected = errors.New("aacp: not connected")

// DecodeError describes a structurally invalid packet.
type DecodeError struct {
	Packet string // packet kind, e.g. "stem press"
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("aacp: malformed %s packet: %s", e.Packet, e.Reason)
}

// Is makes errors.Is(err, ErrDecode) hold for every DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func decodeErrorf(packet, format string, args ...any) error {
	return &DecodeError{Packet: packet, Reason: fmt.Sprintf(format, args...)}
}

// Frame prepends the session header, opcode and reserved byte to body.
func Frame(op Opcode, body ...byte) []byte {
	packet := make([]byte, 0, HeaderSize+len(body))
	packet = append(packet, header...)
	packet = append(packet, byte(op), 0x00)
	return append(packet, body...)
}

// HasHeader reports whether packet starts with the session header and is
// long enough to carry an opcode.
func HasHeader(packet []byte) bool {
	return len(packet) >= HeaderSize && bytes.HasPrefix(packet, header)
}

// PacketOpcode returns the opcode of a framed packet.
func PacketOpcode(packet []byte) (Opcode, bool) {
	if !HasHeader(packet) {
		return 0, false
	}
	return Opcode(packet[4]), true
}

// checkPacket validates framing for a standalone parser.
func checkPacket(kind string, packet []byte, op Opcode, minLen int) error {
	if len(packet) < max(minLen, HeaderSize) {
		return decodeErrorf(kind, "need at least %d bytes, got %d", max(minLen, HeaderSize), len(packet))
	}
	if !bytes.HasPrefix(packet, header) {
		return decodeErrorf(kind, "missing session header")
	}
	if Opcode(packet[4]) != op {
		return decodeErrorf(kind, "opcode 0x%02X, expected 0x%02X", packet[4], uint8(op))
	}
	return nil
}

// DumpPacket renders a packet as space separated hex for logs.
func DumpPacket(packet []byte) string {
	var sb strings.Builder
	for i, b := range packet {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

// formatMAC renders 6 bytes as "XX:XX:XX:XX:XX:XX", optionally reversing
// them first (several bodies carry little-endian addresses).
func formatMAC(b []byte, reversed bool) string {
	var mac [6]byte
	copy(mac[:], b)
	if reversed {
		for i, j := 0, 5; i < j; i, j = i+1, j-1 {
			mac[i], mac[j] = mac[j], mac[i]
		}
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
