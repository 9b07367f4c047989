// aacp_keys retrieves the proximity pairing keys from a pair of AirPods.
//
// It opens the AACP channel, sends the handshake and asks for the keys. The
// IRK resolves the AirPods' rotating BLE address and the ENC_KEY decrypts
// the last 16 bytes of their proximity pairing advertisements; both can be
// handed to ble_scan.
//
// Usage:
//
//	aacp_keys [-timeout 10s] <MAC_ADDRESS>
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"podlink/internal/aacp"
	"podlink/internal/config"
	"podlink/internal/logging"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "how long to wait for the key response")
	level := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <MAC_ADDRESS>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	mac := flag.Arg(0)

	undo, err := logging.Install(config.LogConfig{Level: *level, Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer undo()
	logger := zap.L()

	keys, err := retrieveKeys(mac, *timeout)
	if err != nil {
		logger.Fatal("failed to retrieve keys", zap.String("mac", mac), zap.Error(err))
	}

	fmt.Println("=== Proximity Keys ===")
	for i, key := range keys {
		fmt.Printf("\nKey %d:\n", i+1)
		fmt.Printf("  Type: %s\n", key.Type)
		fmt.Printf("  Data: %s\n", hex.EncodeToString(key.Data))
	}
	fmt.Println()

	irk := aacp.FindIRK(keys)
	encKey := aacp.FindEncryptionKey(keys)
	if irk != nil || encKey != nil {
		fmt.Println("Scan for these AirPods with:")
		fmt.Printf("  ble_scan -irk %s -enc-key %s\n", hex.EncodeToString(irk), hex.EncodeToString(encKey))
	}
}

// retrieveKeys connects, requests the keys and waits for the response. The
// AirPods usually send a burst of status packets first.
func retrieveKeys(mac string, timeout time.Duration) ([]aacp.ProximityKey, error) {
	client, err := aacp.Dial(mac)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	got := make(chan []aacp.ProximityKey, 1)
	session := aacp.NewSession(client, aacp.WithCallbacks(aacp.Callbacks{
		OnProximityKeys: func(keys []aacp.ProximityKey) {
			select {
			case got <- keys:
			default:
			}
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, session) }()

	if err := session.SendHandshake(); err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if err := session.RequestProximityKeys(); err != nil {
		return nil, fmt.Errorf("key request: %w", err)
	}

	select {
	case keys := <-got:
		return keys, nil
	case err := <-runErr:
		if err == nil {
			err = fmt.Errorf("connection closed")
		}
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("no key response within %s", timeout)
	}
}
