package ble

import (
	"fmt"
	"strings"
)

const (
	appleCompanyID = 0x004C
	proximityType  = 0x07

	plainSize     = 9
	encryptedSize = 16
)

// ProximityData is a decoded Apple Continuity proximity pairing message.
// Battery levels come from 4-bit nibbles (10% steps) unless AddDecryptedData
// replaced them with the exact values from the encrypted tail.
type ProximityData struct {
	DeviceModel     uint16
	Status          uint8
	LeftBattery     *uint8 // nil if unknown
	RightBattery    *uint8 // nil if unknown
	CaseBattery     *uint8 // nil if unknown
	LeftCharging    bool
	RightCharging   bool
	CaseCharging    bool
	LeftInEar       bool
	RightInEar      bool
	LidOpen         bool
	Color           uint8
	ConnectionState uint8
	IsFlipped       bool   // right pod is primary
	RawData         []byte // unencrypted payload

	HasDecrypted bool
	RawDecrypted []byte
}

// ParseProximityData parses the Apple manufacturer data of an advertisement:
// type 0x07, a length byte and the payload.
//
// Payload layout:
//
//	Byte 0:    prefix 0x01
//	Byte 1-2:  device model (big endian)
//	Byte 3:    status (bit 5 primary left, bit 6 this pod in case, ear bits)
//	Byte 4:    pod battery nibbles
//	Byte 5:    charging bits (high nibble) and case battery (low nibble)
//	Byte 6:    lid open counter
//	Byte 7:    color
//	Byte 8:    lid state
//	Byte 9:    connection state
//	Byte 9-24: encrypted block when present (see DecryptProximityPayload)
func ParseProximityData(data []byte) (*ProximityData, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("data too short")
	}
	if data[0] != proximityType {
		return nil, fmt.Errorf("not a proximity pairing message: type 0x%02X", data[0])
	}

	length := int(data[1])
	if len(data) < 2+length {
		return nil, fmt.Errorf("incomplete data: want %d bytes, got %d", 2+length, len(data))
	}
	payload := data[2 : 2+length]
	if len(payload) < 10 {
		return nil, fmt.Errorf("payload too short: %d bytes", len(payload))
	}
	if payload[0] != 0x01 {
		return nil, fmt.Errorf("invalid prefix 0x%02X", payload[0])
	}

	pd := &ProximityData{
		DeviceModel:     uint16(payload[1])<<8 | uint16(payload[2]),
		Status:          payload[3],
		Color:           payload[7],
		LidOpen:         (payload[8]>>3)&0x01 == 0,
		ConnectionState: payload[9],
		RawData:         append([]byte(nil), payload...),
	}

	// When the right pod is primary the pod fields are mirrored.
	status := payload[3]
	primaryLeft := (status>>5)&0x01 == 1
	thisInCase := (status>>6)&0x01 == 1
	pd.IsFlipped = !primaryLeft

	left, right := payload[4]>>4, payload[4]&0x0F
	if pd.IsFlipped {
		left, right = right, left
	}
	pd.LeftBattery = DecodeBattery(left)
	pd.RightBattery = DecodeBattery(right)
	pd.CaseBattery = DecodeBattery(payload[5] & 0x0F)

	// | 0 | 1 | 2 | 3 | 4 5 6 7      |
	// | ? | C | R | L | case battery |
	charging := payload[5]
	pd.CaseCharging = (charging>>6)&0x01 != 0
	pd.RightCharging = (charging>>5)&0x01 != 0
	pd.LeftCharging = (charging>>4)&0x01 != 0
	if pd.IsFlipped {
		pd.LeftCharging, pd.RightCharging = pd.RightCharging, pd.LeftCharging
	}

	pd.LeftInEar = status&0x08 != 0
	pd.RightInEar = status&0x02 != 0
	if primaryLeft != thisInCase {
		pd.LeftInEar, pd.RightInEar = pd.RightInEar, pd.LeftInEar
	}

	return pd, nil
}

// EncryptedPayload returns the trailing encrypted block of the payload, if
// the message carries one.
func (pd *ProximityData) EncryptedPayload() ([]byte, bool) {
	if len(pd.RawData) < plainSize+encryptedSize {
		return nil, false
	}
	return pd.RawData[len(pd.RawData)-encryptedSize:], true
}

// AddDecryptedData replaces the approximate battery fields with the values
// from a decrypted block.
//
//	Byte 0: unknown
//	Byte 1: primary pod battery (bit 7 charging, bits 0-6 level)
//	Byte 2: secondary pod battery
//	Byte 3: case battery
//	Byte 4: 0x2D
func (pd *ProximityData) AddDecryptedData(decrypted []byte) error {
	if len(decrypted) != encryptedSize {
		return fmt.Errorf("decrypted data must be %d bytes, got %d", encryptedSize, len(decrypted))
	}
	pd.HasDecrypted = true
	pd.RawDecrypted = append([]byte(nil), decrypted...)

	first, firstCharging := decodeExactBattery(decrypted[1])
	second, secondCharging := decodeExactBattery(decrypted[2])
	if pd.IsFlipped {
		pd.LeftBattery, pd.RightBattery = second, first
		pd.LeftCharging, pd.RightCharging = secondCharging, firstCharging
	} else {
		pd.LeftBattery, pd.RightBattery = first, second
		pd.LeftCharging, pd.RightCharging = firstCharging, secondCharging
	}

	pd.CaseBattery, pd.CaseCharging = decodeExactBattery(decrypted[3])
	return nil
}

func decodeExactBattery(b byte) (*uint8, bool) {
	level := b & 0x7F
	if level > 100 {
		return nil, false
	}
	return &level, b&0x80 != 0
}

// DecodeBattery decodes a battery nibble: 0x0-0x9 are 0-90%, 0xA-0xE are
// 100% and 0xF is unknown.
func DecodeBattery(nibble uint8) *uint8 {
	var v uint8
	switch {
	case nibble <= 0x9:
		v = nibble * 10
	case nibble <= 0xE:
		v = 100
	default:
		return nil
	}
	return &v
}

var colors = map[uint8]string{
	0x00: "White",
	0x01: "Black",
	0x02: "Red",
	0x03: "Blue",
	0x04: "Pink",
	0x05: "Gray",
	0x06: "Silver",
	0x07: "Gold",
	0x08: "Rose Gold",
	0x09: "Space Gray",
	0x0A: "Dark Blue",
	0x0B: "Light Blue",
	0x0C: "Yellow",
}

// DecodeColor names the color byte.
func DecodeColor(color uint8) string {
	if name, ok := colors[color]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", color)
}

var connectionStates = map[uint8]string{
	0x00: "Disconnected",
	0x04: "Idle",
	0x05: "Music",
	0x06: "Call",
	0x07: "Ringing",
	0x09: "Hanging Up",
	0xFF: "Unknown",
}

// DecodeConnectionState names the connection state byte.
func DecodeConnectionState(state uint8) string {
	if name, ok := connectionStates[state]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", state)
}

var models = map[uint16]string{
	0x0220: "AirPods (2nd gen)",
	0x0f20: "AirPods (2nd gen)",
	0x1320: "AirPods (3rd gen)",
	0x0e20: "AirPods Pro",
	0x1420: "AirPods Pro (2nd gen)",
	0x2420: "AirPods Pro (2nd gen)",
	0x2720: "AirPods Pro 3",
	0x0a20: "AirPods Max",
}

// DecodeModelName names a device model code.
func DecodeModelName(model uint16) string {
	if name, ok := models[model]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%04X)", model)
}

func writeBattery(b *strings.Builder, label string, level *uint8, charging, inEar bool) {
	fmt.Fprintf(b, "  %-6s ", label+":")
	if level == nil {
		b.WriteString("Unknown")
		return
	}
	fmt.Fprintf(b, "%d%%", *level)
	if charging {
		b.WriteString(" (Charging)")
	}
	if inEar {
		b.WriteString(" [In Ear]")
	}
}

func (pd *ProximityData) String() string {
	var b strings.Builder

	accuracy := "BLE, approximate"
	if pd.HasDecrypted {
		accuracy = "decrypted, exact"
	}
	fmt.Fprintf(&b, "AirPods Battery (%s):\n", accuracy)

	writeBattery(&b, "Left", pd.LeftBattery, pd.LeftCharging, pd.LeftInEar)
	b.WriteString("\n")
	writeBattery(&b, "Right", pd.RightBattery, pd.RightCharging, pd.RightInEar)
	b.WriteString("\n")
	writeBattery(&b, "Case", pd.CaseBattery, pd.CaseCharging, false)

	lid := "Closed"
	if pd.LidOpen {
		lid = "Open"
	}
	fmt.Fprintf(&b, "\n  Lid:   %s", lid)
	fmt.Fprintf(&b, "\n  Model: %s", DecodeModelName(pd.DeviceModel))
	fmt.Fprintf(&b, "\n  Color: %s", DecodeColor(pd.Color))
	fmt.Fprintf(&b, "\n  Connection: %s", DecodeConnectionState(pd.ConnectionState))

	primary := "left"
	if pd.IsFlipped {
		primary = "right"
	}
	fmt.Fprintf(&b, "\n  Primary: %s", primary)
	fmt.Fprintf(&b, "\n  Raw: % x", pd.RawData)
	return b.String()
}
