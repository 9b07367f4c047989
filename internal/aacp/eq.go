package aacp

import (
	"encoding/binary"
	"math"
)

const (
	// EQPacketSize is the exact length of an EQ notification.
	EQPacketSize = 140

	eqMarker       = 0x84
	eqMarkerOffset = HeaderSize
	eqMediaOffset  = 10
	eqPhoneOffset  = 11
	eqBlockOffset  = 12
	eqBands        = 8
)

// EQState is the user equalizer as reported by the buds. The packet repeats
// the gain block four times; only the first copy is kept.
type EQState struct {
	Gains           [eqBands]float32
	EnabledForPhone bool
	EnabledForMedia bool
}

// ParseEQ checks size and marker before decoding anything.
func ParseEQ(packet []byte) (EQState, error) {
	if len(packet) != EQPacketSize {
		return EQState{}, decodeErrorf("eq", "need exactly %d bytes, got %d", EQPacketSize, len(packet))
	}
	if err := checkPacket("eq", packet, OpcodeEQ, EQPacketSize); err != nil {
		return EQState{}, err
	}
	if packet[eqMarkerOffset] != eqMarker {
		return EQState{}, decodeErrorf("eq", "marker 0x%02X at offset %d, expected 0x%02X", packet[eqMarkerOffset], eqMarkerOffset, eqMarker)
	}

	eq := EQState{
		EnabledForMedia: packet[eqMediaOffset] == 0x01,
		EnabledForPhone: packet[eqPhoneOffset] == 0x01,
	}
	for i := range eq.Gains {
		eq.Gains[i] = math.Float32frombits(binary.LittleEndian.Uint32(packet[eqBlockOffset+4*i:]))
	}
	return eq, nil
}
