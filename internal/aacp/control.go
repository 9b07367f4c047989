package aacp

import (
	"bytes"
	"fmt"
)

// ControlCommandID selects one configuration knob in a control command.
type ControlCommandID uint8

const (
	ControlMicMode                   ControlCommandID = 0x01
	ControlButtonSendMode            ControlCommandID = 0x05
	ControlOwnsConnection            ControlCommandID = 0x06
	ControlEarDetectionConfig        ControlCommandID = 0x0A
	ControlListeningMode             ControlCommandID = 0x0D
	ControlVoiceTrigger              ControlCommandID = 0x12
	ControlSingleClickMode           ControlCommandID = 0x14
	ControlDoubleClickMode           ControlCommandID = 0x15
	ControlClickHoldMode             ControlCommandID = 0x16
	ControlDoubleClickInterval       ControlCommandID = 0x17
	ControlClickHoldInterval         ControlCommandID = 0x18
	ControlListeningModeConfigs      ControlCommandID = 0x1A
	ControlOneBudANCMode             ControlCommandID = 0x1B
	ControlCrownRotationDirection    ControlCommandID = 0x1C
	ControlAutoAnswerMode            ControlCommandID = 0x1E
	ControlChimeVolume               ControlCommandID = 0x1F
	ControlAutomaticConnectionConfig ControlCommandID = 0x20
	ControlVolumeSwipeInterval       ControlCommandID = 0x23
	ControlCallManagementConfig      ControlCommandID = 0x24
	ControlVolumeSwipeMode           ControlCommandID = 0x25
	ControlAdaptiveVolumeConfig      ControlCommandID = 0x26
	ControlSoftwareMuteConfig        ControlCommandID = 0x27
	ControlConversationDetectConfig  ControlCommandID = 0x28
	ControlSSL                       ControlCommandID = 0x29
	ControlHearingAid                ControlCommandID = 0x2C
	ControlAutoANCStrength           ControlCommandID = 0x2E
	ControlHPSGainSwipe              ControlCommandID = 0x2F
	ControlHRMState                  ControlCommandID = 0x30
	ControlInCaseToneConfig          ControlCommandID = 0x31
	ControlSiriMultitoneConfig       ControlCommandID = 0x32
	ControlHearingAssistConfig       ControlCommandID = 0x33
	ControlAllowOffOption            ControlCommandID = 0x34
	ControlSleepDetectionConfig      ControlCommandID = 0x35
	ControlAllowAutoConnect          ControlCommandID = 0x36
	ControlPPEToggleConfig           ControlCommandID = 0x37
	ControlPPECapLevelConfig         ControlCommandID = 0x38
	ControlStemConfig                ControlCommandID = 0x39
)

var controlNames = map[ControlCommandID]string{
	ControlMicMode:                   "MicMode",
	ControlButtonSendMode:            "ButtonSendMode",
	ControlOwnsConnection:            "OwnsConnection",
	ControlEarDetectionConfig:        "EarDetectionConfig",
	ControlListeningMode:             "ListeningMode",
	ControlVoiceTrigger:              "VoiceTrigger",
	ControlSingleClickMode:           "SingleClickMode",
	ControlDoubleClickMode:           "DoubleClickMode",
	ControlClickHoldMode:             "ClickHoldMode",
	ControlDoubleClickInterval:       "DoubleClickInterval",
	ControlClickHoldInterval:         "ClickHoldInterval",
	ControlListeningModeConfigs:      "ListeningModeConfigs",
	ControlOneBudANCMode:             "OneBudANCMode",
	ControlCrownRotationDirection:    "CrownRotationDirection",
	ControlAutoAnswerMode:            "AutoAnswerMode",
	ControlChimeVolume:               "ChimeVolume",
	ControlAutomaticConnectionConfig: "AutomaticConnectionConfig",
	ControlVolumeSwipeInterval:       "VolumeSwipeInterval",
	ControlCallManagementConfig:      "CallManagementConfig",
	ControlVolumeSwipeMode:           "VolumeSwipeMode",
	ControlAdaptiveVolumeConfig:      "AdaptiveVolumeConfig",
	ControlSoftwareMuteConfig:        "SoftwareMuteConfig",
	ControlConversationDetectConfig:  "ConversationDetectConfig",
	ControlSSL:                       "SSL",
	ControlHearingAid:                "HearingAid",
	ControlAutoANCStrength:           "AutoANCStrength",
	ControlHPSGainSwipe:              "HPSGainSwipe",
	ControlHRMState:                  "HRMState",
	ControlInCaseToneConfig:          "InCaseToneConfig",
	ControlSiriMultitoneConfig:       "SiriMultitoneConfig",
	ControlHearingAssistConfig:       "HearingAssistConfig",
	ControlAllowOffOption:            "AllowOffOption",
	ControlSleepDetectionConfig:      "SleepDetectionConfig",
	ControlAllowAutoConnect:          "AllowAutoConnect",
	ControlPPEToggleConfig:           "PPEToggleConfig",
	ControlPPECapLevelConfig:         "PPECapLevelConfig",
	ControlStemConfig:                "StemConfig",
}

// Known reports whether id is one of the identifiers the session tracks.
func (id ControlCommandID) Known() bool {
	_, ok := controlNames[id]
	return ok
}

func (id ControlCommandID) String() string {
	if name, ok := controlNames[id]; ok {
		return name
	}
	return fmt.Sprintf("ControlCommandID(0x%02X)", uint8(id))
}

// ParseControlCommandID looks an identifier up by its String name.
func ParseControlCommandID(name string) (ControlCommandID, bool) {
	for id, n := range controlNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// ListeningMode values for ControlListeningMode.
type ListeningMode uint8

const (
	ListeningModeOff          ListeningMode = 0x01
	ListeningModeNoiseCancel  ListeningMode = 0x02
	ListeningModeTransparency ListeningMode = 0x03
	ListeningModeAdaptive     ListeningMode = 0x04
)

func (m ListeningMode) String() string {
	switch m {
	case ListeningModeOff:
		return "Off"
	case ListeningModeNoiseCancel:
		return "NoiseCancellation"
	case ListeningModeTransparency:
		return "Transparency"
	case ListeningModeAdaptive:
		return "Adaptive"
	default:
		return fmt.Sprintf("ListeningMode(0x%02X)", uint8(m))
	}
}

// Boolean control values. Most toggles use 1 for on and 2 for off.
const (
	controlOn  byte = 0x01
	controlOff byte = 0x02
)

func toggle(on bool) byte {
	if on {
		return controlOn
	}
	return controlOff
}

// controlValueSize is the fixed width of the value field on the wire.
const controlValueSize = 4

// ControlCommand is one entry of the control command table.
type ControlCommand struct {
	ID    ControlCommandID
	Value []byte
}

func (c ControlCommand) String() string {
	return fmt.Sprintf("%s=%s", c.ID, DumpPacket(c.Value))
}

// Bool interprets the first value byte as a 1 = on toggle.
func (c ControlCommand) Bool() bool {
	return len(c.Value) > 0 && c.Value[0] == controlOn
}

// EncodeControlCommand builds a framed control command packet:
//
//	04 00 04 00 09 00 [id] [v0] [v1] [v2] [v3]
//
// value is zero padded to four bytes.
func EncodeControlCommand(id ControlCommandID, value []byte) ([]byte, error) {
	if len(value) == 0 || len(value) > controlValueSize {
		return nil, fmt.Errorf("control command %s: value must be 1-%d bytes, got %d", id, controlValueSize, len(value))
	}

	body := make([]byte, 1+controlValueSize)
	body[0] = byte(id)
	copy(body[1:], value)
	return Frame(OpcodeControlCommand, body...), nil
}

// ParseControlCommand decodes a control command packet. Trailing zero
// bytes of the value are trimmed; an all zero value decodes to a single zero
// byte. Unknown identifiers are returned as-is; callers decide whether to
// track them.
func ParseControlCommand(packet []byte) (ControlCommand, error) {
	if err := checkPacket("control command", packet, OpcodeControlCommand, HeaderSize+2); err != nil {
		return ControlCommand{}, err
	}

	end := min(len(packet), HeaderSize+1+controlValueSize)
	return ControlCommand{
		ID:    ControlCommandID(packet[HeaderSize]),
		Value: trimValue(packet[HeaderSize+1 : end]),
	}, nil
}

func trimValue(raw []byte) []byte {
	trimmed := bytes.TrimRight(raw, "\x00")
	if len(trimmed) == 0 {
		return []byte{0x00}
	}
	return append([]byte(nil), trimmed...)
}
