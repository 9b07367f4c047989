package att

import "fmt"

// Opcode is the first octet of every ATT PDU.
type Opcode uint8

// Vol 3, Part F, Section 3.4.8 of the Bluetooth Core Specification. The
// AirPods only use the read / write / notify subset.
const (
	OpcodeErrorResponse           Opcode = 0x01
	OpcodeExchangeMTURequest      Opcode = 0x02
	OpcodeExchangeMTUResponse     Opcode = 0x03
	OpcodeReadRequest             Opcode = 0x0A
	OpcodeReadResponse            Opcode = 0x0B
	OpcodeWriteRequest            Opcode = 0x12
	OpcodeWriteResponse           Opcode = 0x13
	OpcodeHandleValueNotification Opcode = 0x1B
	OpcodeHandleValueIndication   Opcode = 0x1D
	OpcodeHandleValueConfirmation Opcode = 0x1E
	OpcodeWriteCommand            Opcode = 0x52
)

func (o Opcode) String() string {
	switch o {
	case OpcodeErrorResponse:
		return "ErrorResponse"
	case OpcodeExchangeMTURequest:
		return "ExchangeMTURequest"
	case OpcodeExchangeMTUResponse:
		return "ExchangeMTUResponse"
	case OpcodeReadRequest:
		return "ReadRequest"
	case OpcodeReadResponse:
		return "ReadResponse"
	case OpcodeWriteRequest:
		return "WriteRequest"
	case OpcodeWriteResponse:
		return "WriteResponse"
	case OpcodeHandleValueNotification:
		return "HandleValueNotification"
	case OpcodeHandleValueIndication:
		return "HandleValueIndication"
	case OpcodeHandleValueConfirmation:
		return "HandleValueConfirmation"
	case OpcodeWriteCommand:
		return "WriteCommand"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(o))
	}
}

// Handle identifies an attribute on the AirPods' ATT server.
type Handle uint16

// Fixed characteristic handles exposed by the AirPods. The client
// characteristic configuration descriptor of each lives at handle+1.
const (
	HandleTransparency       Handle = 0x18
	HandleLoudSoundReduction Handle = 0x1B
	HandleHearingAid         Handle = 0x2A
)

// Descriptor returns the companion configuration descriptor handle.
func (h Handle) Descriptor() Handle {
	return h + 1
}

func (h Handle) String() string {
	switch h {
	case HandleTransparency:
		return "Transparency"
	case HandleLoudSoundReduction:
		return "LoudSoundReduction"
	case HandleHearingAid:
		return "HearingAid"
	default:
		return fmt.Sprintf("Handle(0x%04X)", uint16(h))
	}
}
