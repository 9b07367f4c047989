// ble_decode explains a captured proximity pairing advertisement byte by
// byte. With -enc-key the encrypted block is decrypted and merged as well.
//
// The payload starts at the Apple type byte (07 19 ...), which is what
// ble_scan and btmon print after the company id.
//
// Usage:
//
//	ble_decode [-enc-key HEX] 0719012720...
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"podlink/internal/ble"
	"podlink/internal/config"
	"podlink/internal/logging"
)

func main() {
	encHex := flag.String("enc-key", "", "advertisement encryption key (32 hex digits)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-enc-key HEX] PAYLOAD_HEX\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	undo, err := logging.Install(config.LogConfig{Level: "info", Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer undo()
	logger := zap.L()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	payload, err := parseHex(strings.Join(flag.Args(), ""))
	if err != nil {
		logger.Fatal("invalid payload", zap.Error(err))
	}

	var key []byte
	if *encHex != "" {
		if key, err = parseHex(*encHex); err != nil {
			logger.Fatal("invalid encryption key", zap.Error(err))
		}
		if len(key) != 16 {
			logger.Fatal("encryption key must be 16 bytes", zap.Int("got", len(key)))
		}
	}

	if err := decode(os.Stdout, payload, key); err != nil {
		logger.Fatal("decode failed", zap.Error(err))
	}
}

// parseHex accepts "0a1b", "0a 1b" and "0a:1b".
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	return hex.DecodeString(s)
}

func decode(w io.Writer, payload, key []byte) error {
	pd, err := ble.ParseProximityData(payload)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Unencrypted fields ===")
	showPlain(w, pd)
	fmt.Fprintln(w)

	enc, ok := pd.EncryptedPayload()
	switch {
	case !ok:
		fmt.Fprintln(w, "No encrypted block in this advertisement.")
	case key == nil:
		fmt.Fprintf(w, "Encrypted block: %s (pass -enc-key to decrypt)\n", hex.EncodeToString(enc))
	default:
		decrypted, err := ble.DecryptProximityPayload(enc, key)
		if err != nil {
			return err
		}
		if err := pd.AddDecryptedData(decrypted); err != nil {
			return err
		}
		fmt.Fprintln(w, "=== Decrypted block ===")
		showDecrypted(w, decrypted, pd.IsFlipped)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Result ===")
	fmt.Fprintln(w, pd.String())
	return nil
}

func showPlain(w io.Writer, pd *ble.ProximityData) {
	raw := pd.RawData
	fmt.Fprintf(w, "Model:     0x%04X (%s)\n", pd.DeviceModel, ble.DecodeModelName(pd.DeviceModel))
	fmt.Fprintf(w, "Status:    0x%02X %08b\n", pd.Status, pd.Status)
	fmt.Fprintf(w, "  primary left=%t this in case=%t\n", pd.Status&0x20 != 0, pd.Status&0x40 != 0)
	fmt.Fprintf(w, "  in ear   left=%t right=%t\n", pd.LeftInEar, pd.RightInEar)
	fmt.Fprintf(w, "Pods:      0x%02X (nibbles %X/%X, flipped=%t)\n", raw[4], raw[4]>>4, raw[4]&0x0F, pd.IsFlipped)
	fmt.Fprintf(w, "Charging:  0x%02X case=%t left=%t right=%t\n", raw[5], pd.CaseCharging, pd.LeftCharging, pd.RightCharging)
	fmt.Fprintf(w, "Lid:       counter 0x%02X, open=%t\n", raw[6], pd.LidOpen)
	fmt.Fprintf(w, "Color:     0x%02X (%s)\n", pd.Color, ble.DecodeColor(pd.Color))
	fmt.Fprintf(w, "Conn:      0x%02X (%s)\n", pd.ConnectionState, ble.DecodeConnectionState(pd.ConnectionState))
}

func showDecrypted(w io.Writer, dec []byte, flipped bool) {
	names := [3]string{"primary", "secondary", "case"}
	for i, name := range names {
		b := dec[i+1]
		fmt.Fprintf(w, "Byte %d:    0x%02X %-9s level=%d charging=%t\n", i+1, b, name, b&0x7F, b&0x80 != 0)
	}
	if flipped {
		fmt.Fprintln(w, "Right pod is primary: byte 1 is the right pod.")
	} else {
		fmt.Fprintln(w, "Left pod is primary: byte 1 is the left pod.")
	}
}
