// Package rpa resolves Bluetooth Resolvable Private Addresses.
//
// AirPods advertise over BLE with a random address that rotates every few
// minutes. The address is derived from the Identity Resolving Key (IRK) the
// AirPods hand out over AACP (proximity key type 0x01), so a host holding the
// IRK can tell its own AirPods apart from every other pair in range.
//
// Address layout (display order, most significant byte first):
//
//	Byte 0-2: prand (random part, top two bits 0b01)
//	Byte 3-5: hash = ah(IRK, prand)
//
// The Core Specification describes ah() on little-endian integers while
// crypto/aes works on big-endian blocks, so every byte array in this package
// is least significant byte first (wire order) unless it is a display-order
// address.
package rpa

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// EncryptBlock is the security function e() from the Core Specification
// (Vol 3, Part H, Section 2.2.1). Key and plaintext are LSB first; the
// ciphertext is returned LSB first as well.
func EncryptBlock(key, plaintext [16]byte) [16]byte {
	slices.Reverse(key[:])
	slices.Reverse(plaintext[:])

	// aes.NewCipher only fails on key sizes other than 16, 24 or 32 bytes
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(fmt.Sprintf("rpa: aes cipher: %v", err))
	}

	var out [16]byte
	block.Encrypt(out[:], plaintext[:])
	slices.Reverse(out[:])
	return out
}

// Resolve is the random address hash function ah(). prand is LSB first and
// is zero padded to a full block before encryption.
func Resolve(irk [16]byte, prand [3]byte) [3]byte {
	var padded [16]byte
	copy(padded[:], prand[:])

	encrypted := EncryptBlock(irk, padded)

	var hash [3]byte
	copy(hash[:], encrypted[:3])
	return hash
}

// Verify reports whether addr (display order) was generated from irk.
func Verify(addr [6]byte, irk [16]byte) bool {
	wire := addr
	slices.Reverse(wire[:])

	var hash, prand [3]byte
	copy(hash[:], wire[0:3])
	copy(prand[:], wire[3:6])

	computed := Resolve(irk, prand)
	return subtle.ConstantTimeCompare(hash[:], computed[:]) == 1
}

// VerifyString is Verify for an "XX:XX:XX:XX:XX:XX" address.
func VerifyString(addr string, irk [16]byte) (bool, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return false, err
	}
	return Verify(a, irk), nil
}

// IsResolvable reports whether the two most significant bits mark addr as a
// resolvable private address.
func IsResolvable(addr [6]byte) bool {
	return addr[0]>>6 == 0b01
}

// ParseAddress parses a colon separated MAC address into display order.
func ParseAddress(addr string) ([6]byte, error) {
	var out [6]byte

	cleaned := strings.ReplaceAll(strings.TrimSpace(addr), ":", "")
	if len(cleaned) != 12 {
		return out, fmt.Errorf("invalid MAC address length: %q", addr)
	}

	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, fmt.Errorf("invalid hex in MAC address: %w", err)
	}
	copy(out[:], raw)
	return out, nil
}

// FormatAddress renders a display-order address as upper case hex pairs.
func FormatAddress(addr [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[0], addr[1], addr[2], addr[3], addr[4], addr[5])
}

// KeyFromBytes converts an IRK as received from the AirPods (wire order)
// into the array form used by this package.
func KeyFromBytes(b []byte) ([16]byte, error) {
	var key [16]byte
	if len(b) != 16 {
		return key, fmt.Errorf("identity resolving key must be 16 bytes, got %d", len(b))
	}
	copy(key[:], b)
	return key, nil
}
