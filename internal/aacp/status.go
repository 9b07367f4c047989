package aacp

import (
	"encoding/binary"
	"fmt"
)

// EarStatus is the placement of one bud.
type EarStatus uint8

const (
	EarStatusInEar  EarStatus = 0x00
	EarStatusOutEar EarStatus = 0x01
	EarStatusInCase EarStatus = 0x02
)

func (s EarStatus) String() string {
	switch s {
	case EarStatusInEar:
		return "InEar"
	case EarStatusOutEar:
		return "OutOfEar"
	case EarStatusInCase:
		return "InCase"
	default:
		return fmt.Sprintf("EarStatus(0x%02X)", uint8(s))
	}
}

// EarDetection reports the placement of the primary and secondary bud.
type EarDetection struct {
	Primary   EarStatus
	Secondary EarStatus
}

// BothInEar reports whether both buds are being worn.
func (e EarDetection) BothInEar() bool {
	return e.Primary == EarStatusInEar && e.Secondary == EarStatusInEar
}

// ParseEarDetection parses: 04 00 04 00 06 00 [primary] [secondary]
func ParseEarDetection(packet []byte) (EarDetection, error) {
	if err := checkPacket("ear detection", packet, OpcodeEarDetection, HeaderSize+2); err != nil {
		return EarDetection{}, err
	}
	return EarDetection{
		Primary:   EarStatus(packet[HeaderSize]),
		Secondary: EarStatus(packet[HeaderSize+1]),
	}, nil
}

// conversationLevelOffset is where the speech level sits in a conversation
// awareness notification.
const conversationLevelOffset = 9

// ConversationAwareness is a speech level update. Levels 1 and 2 mean the
// wearer started speaking and media volume is being lowered; higher levels
// ramp volume back up.
type ConversationAwareness struct {
	Level uint8
}

// Speaking reports whether the wearer is currently talking.
func (c ConversationAwareness) Speaking() bool {
	return c.Level == 1 || c.Level == 2
}

// ParseConversationAwareness parses a 0x4B notification.
func ParseConversationAwareness(packet []byte) (ConversationAwareness, error) {
	if err := checkPacket("conversation awareness", packet, OpcodeConversationAwareness, conversationLevelOffset+1); err != nil {
		return ConversationAwareness{}, err
	}
	return ConversationAwareness{Level: packet[conversationLevelOffset]}, nil
}

// HeadTrackingMinSize is the shortest head tracking packet that carries
// orientation and acceleration samples.
const HeadTrackingMinSize = 70

// HeadTracking is one IMU sample.
type HeadTracking struct {
	Orientation            [3]int16
	HorizontalAcceleration int16
	VerticalAcceleration   int16
	Raw                    []byte
}

// ParseHeadTracking decodes the sample fields of a 0x17 packet.
func ParseHeadTracking(packet []byte) (*HeadTracking, error) {
	if err := checkPacket("head tracking", packet, OpcodeHeadTracking, HeadTrackingMinSize); err != nil {
		return nil, err
	}

	h := &HeadTracking{Raw: append([]byte(nil), packet...)}
	for i := range h.Orientation {
		h.Orientation[i] = int16(binary.LittleEndian.Uint16(packet[43+2*i:]))
	}
	h.HorizontalAcceleration = int16(binary.LittleEndian.Uint16(packet[51:]))
	h.VerticalAcceleration = int16(binary.LittleEndian.Uint16(packet[53:]))
	return h, nil
}

// StemPressType is the gesture performed on the stem.
type StemPressType uint8

const (
	StemPressSingle StemPressType = 0x05
	StemPressDouble StemPressType = 0x06
	StemPressTriple StemPressType = 0x07
	StemPressLong   StemPressType = 0x08
)

func (t StemPressType) String() string {
	switch t {
	case StemPressSingle:
		return "Single"
	case StemPressDouble:
		return "Double"
	case StemPressTriple:
		return "Triple"
	case StemPressLong:
		return "Long"
	default:
		return fmt.Sprintf("StemPressType(0x%02X)", uint8(t))
	}
}

// Bud identifies the left or right earbud.
type Bud uint8

const (
	BudLeft  Bud = 0x01
	BudRight Bud = 0x02
)

func (b Bud) String() string {
	switch b {
	case BudLeft:
		return "Left"
	case BudRight:
		return "Right"
	default:
		return fmt.Sprintf("Bud(0x%02X)", uint8(b))
	}
}

// StemPressSize is the exact length of a stem press packet.
const StemPressSize = 8

// StemPress is a decoded stem gesture.
type StemPress struct {
	Type StemPressType
	Bud  Bud
}

// ParseStemPress parses: 04 00 04 00 19 00 [type] [bud]
func ParseStemPress(packet []byte) (StemPress, error) {
	if len(packet) != StemPressSize {
		return StemPress{}, decodeErrorf("stem press", "need exactly %d bytes, got %d", StemPressSize, len(packet))
	}
	if err := checkPacket("stem press", packet, OpcodeStemPress, StemPressSize); err != nil {
		return StemPress{}, err
	}

	press := StemPress{
		Type: StemPressType(packet[HeaderSize]),
		Bud:  Bud(packet[HeaderSize+1]),
	}
	switch press.Type {
	case StemPressSingle, StemPressDouble, StemPressTriple, StemPressLong:
	default:
		return StemPress{}, decodeErrorf("stem press", "unknown press type 0x%02X", uint8(press.Type))
	}
	switch press.Bud {
	case BudLeft, BudRight:
	default:
		return StemPress{}, decodeErrorf("stem press", "unknown bud 0x%02X", uint8(press.Bud))
	}
	return press, nil
}
