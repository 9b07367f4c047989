package aacp

import (
	"fmt"
)

// ConnectedDevice is one host the buds are currently connected to.
type ConnectedDevice struct {
	MAC   string
	Info1 byte
	Info2 byte
	// Type is learned later from smart routing traffic; DeviceTypeUnknown
	// until then.
	Type DeviceType
}

func (d ConnectedDevice) String() string {
	return fmt.Sprintf("%s (%s, %02x %02x)", d.MAC, d.Type, d.Info1, d.Info2)
}

const (
	connectedDevicesCountOffset = 8
	connectedDeviceSize         = 8
)

// ParseConnectedDevices parses:
//
//	04 00 04 00 2E 00 [reserved x2] [count] ([mac x6] [info1] [info2])...
//
// Every entry is bounds checked before any device is returned.
func ParseConnectedDevices(packet []byte) ([]ConnectedDevice, error) {
	if err := checkPacket("connected devices", packet, OpcodeConnectedDevices, connectedDevicesCountOffset+1); err != nil {
		return nil, err
	}

	count := int(packet[connectedDevicesCountOffset])
	start := connectedDevicesCountOffset + 1
	if need := start + count*connectedDeviceSize; need > len(packet) {
		return nil, decodeErrorf("connected devices", "%d devices need %d bytes, got %d", count, need, len(packet))
	}

	devices := make([]ConnectedDevice, 0, count)
	for i := 0; i < count; i++ {
		entry := packet[start+i*connectedDeviceSize:]
		devices = append(devices, ConnectedDevice{
			MAC:   formatMAC(entry[:6], false),
			Info1: entry[6],
			Info2: entry[7],
		})
	}
	return devices, nil
}

// AudioSourceType says what the source is streaming.
type AudioSourceType uint8

const (
	AudioSourceNone  AudioSourceType = 0x00
	AudioSourceCall  AudioSourceType = 0x01
	AudioSourceMedia AudioSourceType = 0x02
)

func (t AudioSourceType) String() string {
	switch t {
	case AudioSourceNone:
		return "None"
	case AudioSourceCall:
		return "Call"
	case AudioSourceMedia:
		return "Media"
	default:
		return fmt.Sprintf("AudioSourceType(0x%02X)", uint8(t))
	}
}

// AudioSource is the host currently feeding audio to the buds.
type AudioSource struct {
	MAC  string
	Type AudioSourceType
}

const audioSourceSize = HeaderSize + 6 + 1

// ParseAudioSource parses: 04 00 04 00 0E 00 [mac x6, reversed] [type]
func ParseAudioSource(packet []byte) (AudioSource, error) {
	if err := checkPacket("audio source", packet, OpcodeAudioSource, audioSourceSize); err != nil {
		return AudioSource{}, err
	}

	src := AudioSource{
		MAC:  formatMAC(packet[HeaderSize:HeaderSize+6], true),
		Type: AudioSourceType(packet[HeaderSize+6]),
	}
	switch src.Type {
	case AudioSourceNone, AudioSourceCall, AudioSourceMedia:
	default:
		return AudioSource{}, decodeErrorf("audio source", "unknown source type 0x%02X", uint8(src.Type))
	}
	return src, nil
}
