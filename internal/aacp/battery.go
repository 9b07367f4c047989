package aacp

import (
	"fmt"
	"strings"
)

// BatteryComponent represents which component the battery belongs to
type BatteryComponent uint8

const (
	ComponentUnknown BatteryComponent = 0
	ComponentSingle  BatteryComponent = 1
	ComponentRight   BatteryComponent = 2
	ComponentLeft    BatteryComponent = 4
	ComponentCase    BatteryComponent = 8
)

func (c BatteryComponent) String() string {
	switch c {
	case ComponentSingle:
		return "Single"
	case ComponentRight:
		return "Right"
	case ComponentLeft:
		return "Left"
	case ComponentCase:
		return "Case"
	default:
		return "Unknown"
	}
}

// BatteryStatus represents the charging status
type BatteryStatus uint8

const (
	StatusUnknown      BatteryStatus = 0
	StatusCharging     BatteryStatus = 1
	StatusDischarging  BatteryStatus = 2
	StatusDisconnected BatteryStatus = 4
)

func (s BatteryStatus) String() string {
	switch s {
	case StatusCharging:
		return "Charging"
	case StatusDischarging:
		return "Discharging"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Battery is a single battery component
type Battery struct {
	Component BatteryComponent
	Level     uint8
	Status    BatteryStatus
}

// Charging reports whether the component is on power.
func (b *Battery) Charging() bool {
	return b != nil && b.Status == StatusCharging
}

// BatteryInfo contains battery information for all components. Components
// the packet did not mention stay nil.
type BatteryInfo struct {
	Left   *Battery
	Right  *Battery
	Case   *Battery
	Single *Battery
}

// batteryEntrySize is one "[component] 01 [level] [status] 01" record.
const batteryEntrySize = 5

// ParseBattery parses a battery status packet
// Format: 04 00 04 00 04 00 [count] ([component] 01 [level] [status] 01)...
func ParseBattery(packet []byte) (*BatteryInfo, error) {
	if err := checkPacket("battery", packet, OpcodeBattery, HeaderSize+1); err != nil {
		return nil, err
	}

	count := int(packet[HeaderSize])
	offset := HeaderSize + 1
	if offset+count*batteryEntrySize > len(packet) {
		return nil, decodeErrorf("battery", "%d entries need %d bytes, got %d", count, offset+count*batteryEntrySize, len(packet))
	}

	info := &BatteryInfo{}
	for i := 0; i < count; i++ {
		battery := &Battery{
			Component: BatteryComponent(packet[offset]),
			Level:     packet[offset+2],
			Status:    BatteryStatus(packet[offset+3]),
		}

		switch battery.Component {
		case ComponentLeft:
			info.Left = battery
		case ComponentRight:
			info.Right = battery
		case ComponentCase:
			info.Case = battery
		case ComponentSingle:
			info.Single = battery
		}

		offset += batteryEntrySize
	}

	return info, nil
}

func (bi *BatteryInfo) String() string {
	var sb strings.Builder
	sb.WriteString("Battery Status:\n")
	for _, b := range []*Battery{bi.Left, bi.Right, bi.Case, bi.Single} {
		if b != nil {
			fmt.Fprintf(&sb, "  %-6s %d%% (%s)\n", b.Component.String()+":", b.Level, b.Status)
		}
	}
	return sb.String()
}
