package aacp

import (
	"fmt"
)

// ProximityKeyType represents the type of encryption key
type ProximityKeyType uint8

const (
	KeyTypeUnknown ProximityKeyType = 0x00
	KeyTypeIRK     ProximityKeyType = 0x01 // Identity Resolving Key
	KeyTypeENCKEY  ProximityKeyType = 0x04 // Encryption Key
)

// String returns the human-readable name of the key type
func (k ProximityKeyType) String() string {
	switch k {
	case KeyTypeIRK:
		return "IRK (Identity Resolving Key)"
	case KeyTypeENCKEY:
		return "ENC_KEY (Encryption Key)"
	default:
		return fmt.Sprintf("UNKNOWN (0x%02X)", uint8(k))
	}
}

// ProximityKey represents a single encryption key retrieved from AirPods
type ProximityKey struct {
	Type ProximityKeyType
	Data []byte
}

// proximityKeyHeaderSize is the per-key "{type} 00 {len} 00" prefix.
const proximityKeyHeaderSize = 4

// IsKeyPacket checks if a packet is a framed proximity key response.
func IsKeyPacket(packet []byte) bool {
	op, ok := PacketOpcode(packet)
	return ok && op == OpcodeProximityKeysResponse && len(packet) > HeaderSize
}

// ParseProximityKeys parses encryption keys from a key response packet
//
// Packet format:
//
//	Offset 0-3:  Session header (04 00 04 00)
//	Offset 4:    Opcode (0x31)
//	Offset 5:    Reserved
//	Offset 6:    Key count
//
// For each key:
//
//	+0:  Key type (0x01=IRK, 0x04=ENC_KEY)
//	+1:  Reserved
//	+2:  Key length (bytes)
//	+3:  Reserved
//	+4:  Key data (length bytes)
//
// The whole packet is bounds checked before any key is returned, so a
// truncated packet never yields a partial key set.
func ParseProximityKeys(packet []byte) ([]ProximityKey, error) {
	if err := checkPacket("proximity keys", packet, OpcodeProximityKeysResponse, HeaderSize+1); err != nil {
		return nil, err
	}

	keyCount := int(packet[HeaderSize])

	// First pass: walk the headers so an overrun fails before anything is
	// allocated.
	offset := HeaderSize + 1
	for i := 0; i < keyCount; i++ {
		if offset+proximityKeyHeaderSize > len(packet) {
			return nil, decodeErrorf("proximity keys", "packet too short for key %d header (offset=%d, len=%d)", i+1, offset, len(packet))
		}
		keyLength := int(packet[offset+2])
		offset += proximityKeyHeaderSize
		if offset+keyLength > len(packet) {
			return nil, decodeErrorf("proximity keys", "packet too short for key %d data (need %d bytes, have %d)", i+1, keyLength, len(packet)-offset)
		}
		offset += keyLength
	}

	keys := make([]ProximityKey, 0, keyCount)
	offset = HeaderSize + 1
	for i := 0; i < keyCount; i++ {
		keyType := ProximityKeyType(packet[offset])
		keyLength := int(packet[offset+2])
		offset += proximityKeyHeaderSize

		keyData := make([]byte, keyLength)
		copy(keyData, packet[offset:offset+keyLength])
		keys = append(keys, ProximityKey{Type: keyType, Data: keyData})

		offset += keyLength
	}

	return keys, nil
}

// ProximityKeySet maps key type to raw key bytes. A later key of the same
// type replaces an earlier one.
type ProximityKeySet map[ProximityKeyType][]byte

// KeySet indexes keys by type.
func KeySet(keys []ProximityKey) ProximityKeySet {
	set := make(ProximityKeySet, len(keys))
	for _, key := range keys {
		set[key.Type] = key.Data
	}
	return set
}

// FindEncryptionKey searches for the ENC_KEY in a slice of proximity keys.
// Returns the key data if found, or nil if not found.
// The ENC_KEY (type 0x04) is the primary key used for decrypting BLE advertisements.
func FindEncryptionKey(keys []ProximityKey) []byte {
	for _, key := range keys {
		if key.Type == KeyTypeENCKEY {
			return key.Data
		}
	}
	return nil
}

// FindIRK searches for the IRK in a slice of proximity keys.
// Returns the key data if found, or nil if not found.
// The IRK (type 0x01) is used for resolving Bluetooth addresses.
func FindIRK(keys []ProximityKey) []byte {
	for _, key := range keys {
		if key.Type == KeyTypeIRK {
			return key.Data
		}
	}
	return nil
}
