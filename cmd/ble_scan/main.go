// ble_scan prints AirPods proximity pairing advertisements.
//
// It works without a connection, even while the AirPods are connected to a
// phone. With -irk only advertisements from the AirPods owning that key are
// shown; with -enc-key the encrypted block is decrypted for exact battery
// levels. Both keys are printed by aacp_keys.
//
// Usage:
//
//	ble_scan [-adapter hci0] [-window 5s] [-irk HEX] [-enc-key HEX]
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"podlink/internal/ble"
	"podlink/internal/bluez"
	"podlink/internal/config"
	"podlink/internal/logging"
	"podlink/internal/rpa"
)

func main() {
	adapter := flag.String("adapter", "hci0", "Bluetooth adapter")
	window := flag.Duration("window", 5*time.Second, "scan window per report")
	irkHex := flag.String("irk", "", "identity resolving key (32 hex digits)")
	encHex := flag.String("enc-key", "", "advertisement encryption key (32 hex digits)")
	level := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	undo, err := logging.Install(config.LogConfig{Level: *level, Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer undo()
	logger := zap.L()

	keys, err := parseKeys(*irkHex, *encHex)
	if err != nil {
		logger.Fatal("invalid key", zap.Error(err))
	}

	m, err := bluez.NewManager(*adapter)
	if err != nil {
		logger.Fatal("bluez unavailable", zap.Error(err))
	}
	defer m.Close()

	scanner := ble.NewScanner(m)
	scanner.SetKeys(keys)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("scanning for AirPods advertisements",
		zap.String("adapter", *adapter),
		zap.Bool("irk_filter", keys.IRK != nil),
		zap.Bool("decrypt", keys.EncryptionKey != nil))

	for ctx.Err() == nil {
		windowCtx, cancel := context.WithTimeout(ctx, *window)
		adv, err := scanner.First(windowCtx)
		cancel()

		switch {
		case err == nil:
			fmt.Println()
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Printf("Address: %s\n", adv.Address)
			fmt.Println(adv.Data.String())
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		case errors.Is(err, context.DeadlineExceeded):
			logger.Info("no AirPods found in this scan window")
		case errors.Is(err, context.Canceled):
		default:
			logger.Fatal("scan failed", zap.Error(err))
		}
	}
}

func parseKeys(irkHex, encHex string) (ble.Keys, error) {
	var keys ble.Keys
	if irkHex != "" {
		raw, err := hex.DecodeString(irkHex)
		if err != nil {
			return keys, fmt.Errorf("irk: %w", err)
		}
		irk, err := rpa.KeyFromBytes(raw)
		if err != nil {
			return keys, err
		}
		keys.IRK = &irk
	}
	if encHex != "" {
		raw, err := hex.DecodeString(encHex)
		if err != nil {
			return keys, fmt.Errorf("enc-key: %w", err)
		}
		if len(raw) != 16 {
			return keys, fmt.Errorf("enc-key must be 16 bytes, got %d", len(raw))
		}
		keys.EncryptionKey = raw
	}
	return keys, nil
}
