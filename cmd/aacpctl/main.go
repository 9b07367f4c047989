// aacpctl is an interactive console for an AACP session: it connects to the
// AirPods, prints every notification and lets you change settings by hand.
//
// Usage:
//
//	aacpctl [-config podlink.yaml] [-device AA:BB:CC:DD:EE:FF] [-att]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"podlink/internal/att"
	"podlink/internal/bluez"
	"podlink/internal/config"
	"podlink/internal/podstate"
)

func main() {
	configPath := flag.String("config", "", "configuration file (.yaml or .toml)")
	device := flag.String("device", "", "AirPods MAC; discovered via BlueZ when empty")
	useATT := flag.Bool("att", false, "also open the ATT channel for hearing settings")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	if *device != "" {
		cfg.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	c, err := newConsole(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Log lines go through readline so they don't garble the prompt.
	logger := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(c.rl.Stderr()),
		cfg.Log.ZapLevel(),
	))
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	mac := cfg.Device
	if mac == "" {
		mac, err = discover(cfg.Adapter)
		if err != nil {
			logger.Fatal("no device", zap.Error(err))
		}
	}

	opts := []podstate.Option{
		podstate.WithLogger(logger),
		podstate.WithSessionCallbacks(c.callbacks()),
	}
	if *useATT {
		opts = append(opts, podstate.WithATT(att.WithTimeout(cfg.ATT.Timeout.Std()), att.WithRequestLock()))
	}
	c.coord = podstate.NewCoordinator(opts...)
	defer c.coord.Close()

	fmt.Fprintf(c.rl.Stdout(), "Connecting to %s...\n", mac)
	if err := c.coord.Connect(ctx, mac); err != nil {
		logger.Fatal("connect failed", zap.String("mac", mac), zap.Error(err))
	}
	c.mac = mac

	go func() {
		select {
		case <-c.coord.Done():
			fmt.Fprintln(c.rl.Stdout(), "Connection closed.")
		case <-ctx.Done():
		}
	}()

	c.Run(ctx, cancel)
}

func discover(adapter string) (string, error) {
	m, err := bluez.NewManager(adapter)
	if err != nil {
		return "", err
	}
	defer m.Close()

	dev, err := m.DiscoverAirPods()
	if err != nil {
		return "", err
	}
	return dev.Address, nil
}
