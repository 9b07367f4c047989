package att

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PSM is the L2CAP PSM the AirPods serve ATT on (BR/EDR ATT bearer).
const PSM = 0x001F

// notificationsEnabled is the client characteristic configuration value
// that turns notifications on.
var notificationsEnabled = []byte{0x01, 0x00}

// ErrorCode is the error code carried in an ATT Error Response.
type ErrorCode uint8

// Error is returned when the peer answers a request with an Error Response.
type Error struct {
	Request Opcode
	Handle  Handle
	Code    ErrorCode
}

func (e *Error) Error() string {
	return fmt.Sprintf("att: %s on %s failed with code 0x%02X", e.Request, e.Handle, uint8(e.Code))
}

// Request is a client request PDU: opcode, little-endian handle, payload.
type Request struct {
	Opcode  Opcode
	Handle  Handle
	Payload []byte
}

func (r *Request) Marshal() []byte {
	buf := make([]byte, 3+len(r.Payload))
	buf[0] = byte(r.Opcode)
	binary.LittleEndian.PutUint16(buf[1:], uint16(r.Handle))
	copy(buf[3:], r.Payload)
	return buf
}

func (r *Request) Unmarshal(buf []byte) error {
	if len(buf) < 3 {
		return io.ErrShortBuffer
	}
	r.Opcode = Opcode(buf[0])
	r.Handle = Handle(binary.LittleEndian.Uint16(buf[1:]))
	r.Payload = buf[3:]
	return nil
}

// Notification is an unsolicited Handle Value Notification.
type Notification struct {
	Handle Handle
	Value  []byte
}

func (n *Notification) Marshal() []byte {
	buf := make([]byte, 3+len(n.Value))
	buf[0] = byte(OpcodeHandleValueNotification)
	binary.LittleEndian.PutUint16(buf[1:], uint16(n.Handle))
	copy(buf[3:], n.Value)
	return buf
}

func (n *Notification) Unmarshal(buf []byte) error {
	if len(buf) < 3 {
		return io.ErrShortBuffer
	}
	if Opcode(buf[0]) != OpcodeHandleValueNotification {
		return errors.New("att: not a notification")
	}
	n.Handle = Handle(binary.LittleEndian.Uint16(buf[1:]))
	n.Value = buf[3:]
	return nil
}

// parseErrorResponse decodes `01 | request opcode | handle LE16 | code`.
func parseErrorResponse(buf []byte) (*Error, error) {
	if len(buf) < 5 || Opcode(buf[0]) != OpcodeErrorResponse {
		return nil, io.ErrShortBuffer
	}
	return &Error{
		Request: Opcode(buf[1]),
		Handle:  Handle(binary.LittleEndian.Uint16(buf[2:])),
		Code:    ErrorCode(buf[4]),
	}, nil
}
