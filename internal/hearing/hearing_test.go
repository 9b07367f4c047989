package hearing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEar(base float32) Ear {
	e := Ear{
		Amplification:         base,
		Tone:                  base / 2,
		ConversationBoost:     true,
		AmbientNoiseReduction: 0.25,
	}
	for i := range e.EQ {
		e.EQ[i] = base + float32(i)
	}
	return e
}

func TestTransparencyParseMarshal(t *testing.T) {
	in := &Transparency{
		Enabled: true,
		Left:    sampleEar(0.5),
		Right:   sampleEar(-0.5),
	}
	in.Right.ConversationBoost = false

	data := in.Marshal()
	require.Len(t, data, TransparencySize)

	out, err := ParseTransparency(data)
	require.NoError(t, err)
	assert.True(t, out.Enabled)
	assert.Equal(t, in.Left, out.Left)
	assert.Equal(t, in.Right, out.Right)
}

func TestTransparencyPreservesTrailingBytes(t *testing.T) {
	data := (&Transparency{Left: sampleEar(0), Right: sampleEar(0)}).Marshal()
	data = append(data, 0xDE, 0xAD)

	parsed, err := ParseTransparency(data)
	require.NoError(t, err)
	parsed.Enabled = true

	out := parsed.Marshal()
	require.Len(t, out, len(data))
	assert.Equal(t, []byte{0xDE, 0xAD}, out[TransparencySize:])
	assert.Equal(t, data[4:], out[4:], "only the enabled field changed")
}

func TestTransparencyShort(t *testing.T) {
	_, err := ParseTransparency(make([]byte, TransparencySize-1))
	assert.ErrorIs(t, err, ErrShortBlock)
}

func TestHearingAidKeepsHeader(t *testing.T) {
	data := make([]byte, HearingAidSize)
	copy(data, []byte{0x02, 0x00, 0x60, 0x01})
	(&Ear{Amplification: 0.1}).put(data[4:])
	(&Ear{Amplification: 0.3}).put(data[52:])

	h, err := ParseHearingAid(data)
	require.NoError(t, err)
	assert.Nil(t, h.OwnVoiceAmplification)
	assert.InDelta(t, 0.1, h.Left.Amplification, 1e-6)
	assert.InDelta(t, 0.3, h.Right.Amplification, 1e-6)

	h.Left.Tone = 0.75
	out := h.Marshal()
	require.Len(t, out, HearingAidSize)
	assert.Equal(t, []byte{0x02, 0x00, 0x60, 0x01}, out[:4])

	again, err := ParseHearingAid(out)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, again.Left.Tone, 1e-6)
}

func TestHearingAidOwnVoice(t *testing.T) {
	v := float32(0.6)
	h := &HearingAid{Left: sampleEar(0), Right: sampleEar(0), OwnVoiceAmplification: &v}

	data := h.Marshal()
	require.Len(t, data, HearingAidOwnVoiceSize)

	parsed, err := ParseHearingAid(data)
	require.NoError(t, err)
	require.NotNil(t, parsed.OwnVoiceAmplification)
	assert.InDelta(t, 0.6, *parsed.OwnVoiceAmplification, 1e-6)
}

func TestDeriveClamps(t *testing.T) {
	tests := []struct {
		name        string
		left, right float32
		want        Amplification
	}{
		{"centered", 0.5, 0.5, Amplification{Net: 0.5, Balance: 0}},
		{"right heavy", 0, 0.5, Amplification{Net: 0.25, Balance: 0.5}},
		{"left heavy", 0.5, 0, Amplification{Net: 0.25, Balance: -0.5}},
		{"clamped", 2, -2, Amplification{Net: 0, Balance: -1}},
		{"clamped net", 3, 3, Amplification{Net: 1, Balance: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(Ear{Amplification: tt.left}, Ear{Amplification: tt.right})
			assert.InDelta(t, tt.want.Net, got.Net, 1e-6)
			assert.InDelta(t, tt.want.Balance, got.Balance, 1e-6)
		})
	}
}

func TestAmplificationApplyInvertsDerive(t *testing.T) {
	var left, right Ear
	Amplification{Net: 0.4, Balance: -0.2}.Apply(&left, &right)

	assert.InDelta(t, 0.5, left.Amplification, 1e-6)
	assert.InDelta(t, 0.3, right.Amplification, 1e-6)

	got := Derive(left, right)
	assert.InDelta(t, 0.4, got.Net, 1e-6)
	assert.InDelta(t, -0.2, got.Balance, 1e-6)
}

func TestLoudSoundReduction(t *testing.T) {
	on, err := ParseLoudSoundReduction(LoudSoundReduction(true))
	require.NoError(t, err)
	assert.True(t, on)

	off, err := ParseLoudSoundReduction(LoudSoundReduction(false))
	require.NoError(t, err)
	assert.False(t, off)

	_, err = ParseLoudSoundReduction(nil)
	assert.ErrorIs(t, err, ErrShortBlock)
}
