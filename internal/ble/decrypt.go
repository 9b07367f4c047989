package ble

import (
	"crypto/aes"
	"errors"
	"fmt"
)

// ErrWrongKey is returned when a decrypted block fails validation.
var ErrWrongKey = errors.New("ble: decryption validation failed")

// DecryptProximityPayload decrypts the 16-byte encrypted block of a
// proximity pairing payload with the ENC_KEY retrieved over AACP. The block
// is a single AES-128 block with no IV.
//
// A wrong key still yields 16 bytes, so the result is checked against the
// known layout: the high nibble of byte 0 is zero and byte 4 is 0x2D.
func DecryptProximityPayload(encrypted, key []byte) ([]byte, error) {
	if len(encrypted) != encryptedSize {
		return nil, fmt.Errorf("encrypted data must be %d bytes, got %d", encryptedSize, len(encrypted))
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("encryption key must be 16 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	decrypted := make([]byte, encryptedSize)
	block.Decrypt(decrypted, encrypted)

	if decrypted[0]&0xF0 != 0 || decrypted[4] != 0x2D {
		return nil, ErrWrongKey
	}
	return decrypted, nil
}
