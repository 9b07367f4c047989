package aacp

import (
	"bytes"
)

// informationStringsOffset is where the NUL separated table begins; bytes
// 6-9 are a fixed preamble.
const informationStringsOffset = 10

// Information is the identity table reported by the buds.
type Information struct {
	Name             string
	ModelNumber      string
	Manufacturer     string
	SerialNumber     string
	FirmwareVersion  string
	FirmwareVersion2 string
	HardwareRevision string
	UpdaterID        string
	LeftSerial       string
	RightSerial      string
	FirmwareVersion3 string
}

func (i *Information) fields() []*string {
	return []*string{
		&i.Name,
		&i.ModelNumber,
		&i.Manufacturer,
		&i.SerialNumber,
		&i.FirmwareVersion,
		&i.FirmwareVersion2,
		&i.HardwareRevision,
		&i.UpdaterID,
		&i.LeftSerial,
		&i.RightSerial,
		&i.FirmwareVersion3,
	}
}

// ParseInformation splits the string table on NUL. The first token is
// always empty and is discarded; the rest fill the fields in order and
// missing fields stay empty.
func ParseInformation(packet []byte) (*Information, error) {
	if err := checkPacket("information", packet, OpcodeInformation, informationStringsOffset); err != nil {
		return nil, err
	}

	tokens := bytes.Split(packet[informationStringsOffset:], []byte{0x00})
	if len(tokens) > 0 {
		tokens = tokens[1:]
	}

	info := &Information{}
	for i, field := range info.fields() {
		if i < len(tokens) {
			*field = string(tokens[i])
		}
	}
	return info, nil
}
