package hearing

import "fmt"

const (
	hearingAidHeaderSize = 4

	// HearingAidSize is the minimum hearing aid characteristic value length.
	HearingAidSize = hearingAidHeaderSize + 2*earBlockSize

	// HearingAidOwnVoiceSize is the length when own voice amplification is
	// present.
	HearingAidOwnVoiceSize = HearingAidSize + 4
)

// HearingAid is the hearing aid / hearing assistance configuration block.
//
//	Offset   0-3:   header (opaque, preserved)
//	Offset   4-51:  left ear
//	Offset  52-99:  right ear
//	Offset 100-103: own voice amplification (optional)
type HearingAid struct {
	Left  Ear
	Right Ear

	// OwnVoiceAmplification is nil when the AirPods did not send it.
	OwnVoiceAmplification *float32

	raw []byte
}

// ParseHearingAid decodes a hearing aid characteristic value.
func ParseHearingAid(data []byte) (*HearingAid, error) {
	if len(data) < HearingAidSize {
		return nil, fmt.Errorf("%w: hearing aid needs %d bytes, got %d", ErrShortBlock, HearingAidSize, len(data))
	}

	h := &HearingAid{
		Left:  parseEar(data[hearingAidHeaderSize:]),
		Right: parseEar(data[hearingAidHeaderSize+earBlockSize:]),
		raw:   append([]byte(nil), data...),
	}
	if len(data) >= HearingAidOwnVoiceSize {
		v := getFloat(data, HearingAidSize)
		h.OwnVoiceAmplification = &v
	}
	return h, nil
}

// Amplification returns the derived net amplification and balance.
func (h *HearingAid) Amplification() Amplification {
	return Derive(h.Left, h.Right)
}

// SetAmplification updates both ears from a net/balance pair.
func (h *HearingAid) SetAmplification(a Amplification) {
	a.Apply(&h.Left, &h.Right)
}

// Marshal encodes the block. The header and any trailing bytes are copied
// from the parsed value.
func (h *HearingAid) Marshal() []byte {
	size := max(HearingAidSize, len(h.raw))
	if h.OwnVoiceAmplification != nil {
		size = max(size, HearingAidOwnVoiceSize)
	}

	buf := make([]byte, size)
	copy(buf, h.raw)

	h.Left.put(buf[hearingAidHeaderSize:])
	h.Right.put(buf[hearingAidHeaderSize+earBlockSize:])
	if h.OwnVoiceAmplification != nil {
		putFloat(buf, HearingAidSize, *h.OwnVoiceAmplification)
	}
	return buf
}

// LoudSoundReduction encodes the loud sound reduction characteristic value.
func LoudSoundReduction(enabled bool) []byte {
	if enabled {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// ParseLoudSoundReduction decodes the loud sound reduction value.
func ParseLoudSoundReduction(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: loud sound reduction value is empty", ErrShortBlock)
	}
	return data[0] == 0x01, nil
}
