// Package hearing encodes the AirPods' hearing parameter blocks that are
// exchanged as ATT characteristic values: transparency customisation
// (handle 0x18), hearing aid settings (handle 0x2A) and loud sound reduction
// (handle 0x1B).
//
// All numbers are little-endian float32. Both blocks embed the same 48 byte
// per-ear layout:
//
//	Offset  0-31: EQ, 8 bands
//	Offset 32-35: amplification
//	Offset 36-39: tone
//	Offset 40-43: conversation boost (> 0.5 means on)
//	Offset 44-47: ambient noise reduction
//
// Parsed values keep the raw buffer they came from, and Marshal writes the
// known fields over a copy of it, so bytes this package does not understand
// survive a read-modify-write cycle unchanged.
package hearing

import (
	"encoding/binary"
	"errors"
	"math"
)

// EQBands is the number of per-ear equalizer bands.
const EQBands = 8

const earBlockSize = 48

// ErrShortBlock is returned for values shorter than their fixed layout.
var ErrShortBlock = errors.New("hearing: block too short")

// Ear holds one earbud's parameters.
type Ear struct {
	EQ                    [EQBands]float32
	Amplification         float32
	Tone                  float32
	ConversationBoost     bool
	AmbientNoiseReduction float32
}

func getFloat(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func putFloat(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
}

func boolFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func parseEar(buf []byte) Ear {
	var e Ear
	for i := range e.EQ {
		e.EQ[i] = getFloat(buf, i*4)
	}
	e.Amplification = getFloat(buf, 32)
	e.Tone = getFloat(buf, 36)
	e.ConversationBoost = getFloat(buf, 40) > 0.5
	e.AmbientNoiseReduction = getFloat(buf, 44)
	return e
}

func (e *Ear) put(buf []byte) {
	for i, g := range e.EQ {
		putFloat(buf, i*4, g)
	}
	putFloat(buf, 32, e.Amplification)
	putFloat(buf, 36, e.Tone)
	putFloat(buf, 40, boolFloat(e.ConversationBoost))
	putFloat(buf, 44, e.AmbientNoiseReduction)
}

// clamp limits v to [-1, 1].
func clamp(v float32) float32 {
	return max(-1, min(1, v))
}

// Amplification is the derived stereo view of a left/right pair.
type Amplification struct {
	Net     float32
	Balance float32 // negative leans left
}

// Derive computes net amplification (mean) and balance (right minus left),
// both clamped to [-1, 1].
func Derive(left, right Ear) Amplification {
	return Amplification{
		Net:     clamp((left.Amplification + right.Amplification) / 2),
		Balance: clamp(right.Amplification - left.Amplification),
	}
}

// Apply writes a net/balance pair back into per-ear amplification.
func (a Amplification) Apply(left, right *Ear) {
	net, balance := clamp(a.Net), clamp(a.Balance)
	left.Amplification = net - balance/2
	right.Amplification = net + balance/2
}
