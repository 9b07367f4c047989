package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const capturedPayload = "07 19 01 27 20 0b 99 8f 11 00 05 63 fc fb b4 39 01 1c 61 e7 e4 aa 95 83 2c 5b 57"

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"0a1b", []byte{0x0A, 0x1B}},
		{"0a 1b", []byte{0x0A, 0x1B}},
		{"0A:1B", []byte{0x0A, 0x1B}},
	}
	for _, tt := range tests {
		got, err := parseHex(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseHex("0g")
	assert.Error(t, err)
}

func TestDecodeWithoutKey(t *testing.T) {
	payload, err := parseHex(capturedPayload)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, decode(&out, payload, nil))

	text := out.String()
	assert.Contains(t, text, "Model:     0x2720")
	assert.Contains(t, text, "flipped=true")
	assert.Contains(t, text, "Encrypted block: 63fcfbb439011c61e7e4aa95832c5b57")
	assert.Contains(t, text, "=== Result ===")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, decode(&out, []byte{0x10, 0x02, 0x00, 0x00}, nil))
}
