package hearing

import "fmt"

// TransparencySize is the length of the transparency characteristic value.
const TransparencySize = 4 + 2*earBlockSize

// Transparency is the customised transparency mode block.
//
//	Offset  0-3:  enabled (float, 1.0 = on)
//	Offset  4-51: left ear
//	Offset 52-99: right ear
type Transparency struct {
	Enabled bool
	Left    Ear
	Right   Ear

	raw []byte
}

// ParseTransparency decodes a transparency characteristic value.
func ParseTransparency(data []byte) (*Transparency, error) {
	if len(data) < TransparencySize {
		return nil, fmt.Errorf("%w: transparency needs %d bytes, got %d", ErrShortBlock, TransparencySize, len(data))
	}

	return &Transparency{
		Enabled: getFloat(data, 0) > 0.5,
		Left:    parseEar(data[4:]),
		Right:   parseEar(data[4+earBlockSize:]),
		raw:     append([]byte(nil), data...),
	}, nil
}

// Amplification returns the derived net amplification and balance.
func (t *Transparency) Amplification() Amplification {
	return Derive(t.Left, t.Right)
}

// SetAmplification updates both ears from a net/balance pair.
func (t *Transparency) SetAmplification(a Amplification) {
	a.Apply(&t.Left, &t.Right)
}

// Marshal encodes the block, preserving any bytes past the known layout.
func (t *Transparency) Marshal() []byte {
	buf := make([]byte, max(TransparencySize, len(t.raw)))
	copy(buf, t.raw)

	putFloat(buf, 0, boolFloat(t.Enabled))
	t.Left.put(buf[4:])
	t.Right.put(buf[4+earBlockSize:])
	return buf
}
