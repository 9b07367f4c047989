// podlinkd keeps an AACP session open to the AirPods and publishes their
// battery level to BlueZ, so it shows up in the desktop's Bluetooth settings.
//
// Without a configured device it follows BlueZ: the session is opened when
// AirPods connect and closed when they go away. BLE advertisements fill in
// the state while no session is open.
//
// Usage:
//
//	podlinkd [-config podlink.yaml] [-device AA:BB:CC:DD:EE:FF] [-log-level info]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"podlink/internal/aacp"
	"podlink/internal/att"
	"podlink/internal/ble"
	"podlink/internal/bluez"
	"podlink/internal/capture"
	"podlink/internal/config"
	"podlink/internal/logging"
	"podlink/internal/podstate"
)

const (
	batteryName    = "airpods"
	reconnectDelay = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "configuration file (.yaml or .toml)")
	device := flag.String("device", "", "AirPods MAC, overrides the config file")
	level := flag.String("log-level", "", "log level, overrides the config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *device, *level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	undo, err := logging.Install(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		zap.L().Error("podlinkd stopped", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path, device, level string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	if device != "" {
		cfg.Device = device
	}
	if level != "" {
		cfg.Log.Level = level
	}
	return cfg, cfg.Validate()
}

type daemon struct {
	cfg      config.Config
	coord    *podstate.Coordinator
	provider *bluez.BatteryProvider
	logger   *zap.Logger

	mu  sync.Mutex
	mac string
}

func run(ctx context.Context, cfg config.Config) error {
	logger := zap.L()

	mgr, err := bluez.NewManager(cfg.Adapter)
	if err != nil {
		return err
	}
	defer mgr.Close()

	d := &daemon{cfg: cfg, logger: logger}

	opts := []podstate.Option{
		podstate.WithSessionCallbacks(d.sessionCallbacks()),
	}
	if cfg.Capture.Path != "" {
		recorder, err := capture.NewRecorder(cfg.Capture.Path)
		if err != nil {
			return fmt.Errorf("failed to open capture file: %w", err)
		}
		defer recorder.Close()
		opts = append(opts, podstate.WithRecorder(recorder))
		logger.Info("capturing packets", zap.String("path", cfg.Capture.Path))
	}
	if cfg.ATT.Enabled {
		attOpts := []att.Option{att.WithTimeout(cfg.ATT.Timeout.Std())}
		if cfg.ATT.Serialize {
			attOpts = append(attOpts, att.WithRequestLock())
		}
		opts = append(opts, podstate.WithATT(attOpts...))
	}
	if cfg.BLE.Enabled {
		opts = append(opts, podstate.WithScanner(ble.NewScanner(mgr)))
	}

	d.coord = podstate.NewCoordinator(opts...)
	defer d.coord.Close()

	d.provider, err = bluez.NewBatteryProvider(mgr)
	if err != nil {
		logger.Warn("battery won't appear in the Bluetooth settings", zap.Error(err))
	} else {
		defer d.provider.Close()
	}

	d.coord.RegisterCallback(d.onState)

	if cfg.BLE.Enabled {
		go func() {
			if err := d.coord.RunScanner(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("BLE scanning stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Device != "" {
		d.keepConnected(ctx, cfg.Device)
		return nil
	}

	err = mgr.WatchAirPods(ctx,
		func(dev bluez.Device) {
			logger.Info("AirPods connected", zap.Stringer("device", dev))
			go d.connect(ctx, dev.Address)
		},
		func(dev bluez.Device) {
			logger.Info("AirPods disconnected", zap.Stringer("device", dev))
			d.disconnect()
		})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (d *daemon) connect(ctx context.Context, mac string) error {
	d.mu.Lock()
	d.mac = mac
	d.mu.Unlock()

	if err := d.coord.Connect(ctx, mac); err != nil {
		d.logger.Warn("AACP unavailable, falling back to BLE", zap.String("mac", mac), zap.Error(err))
		return err
	}

	if d.cfg.Host.MAC != "" {
		if err := d.coord.Session().SendMediaInformationNewDevice(d.cfg.Host.MAC, mac, d.cfg.Host.Name); err != nil {
			d.logger.Warn("failed to announce host", zap.Error(err))
		}
	}
	return nil
}

func (d *daemon) disconnect() {
	d.coord.Disconnect()
	if d.provider != nil {
		if err := d.provider.RemoveBattery(batteryName); err != nil {
			d.logger.Debug("remove battery", zap.Error(err))
		}
	}
}

// keepConnected reconnects to mac whenever the session ends.
func (d *daemon) keepConnected(ctx context.Context, mac string) {
	for ctx.Err() == nil {
		if err := d.connect(ctx, mac); err == nil {
			select {
			case <-d.coord.Done():
				d.logger.Info("session ended, reconnecting", zap.Duration("delay", reconnectDelay))
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (d *daemon) onState(st podstate.PodState) {
	d.logger.Info("state updated",
		zap.Stringer("source", st.Source),
		zap.Int("lowest", st.LowestBattery()),
		zap.Bool("left_in_ear", st.LeftInEar),
		zap.Bool("right_in_ear", st.RightInEar))

	if d.provider == nil || !st.HasBatteryData() {
		return
	}

	d.mu.Lock()
	mac := d.mac
	d.mu.Unlock()
	if mac == "" {
		return
	}

	device := bluez.DevicePath(d.cfg.Adapter, mac)
	if err := d.provider.SetBattery(batteryName, device, uint8(st.LowestBattery())); err != nil {
		d.logger.Warn("failed to update BlueZ battery", zap.Error(err))
	}
}

func (d *daemon) sessionCallbacks() aacp.Callbacks {
	return aacp.Callbacks{
		OnOwnershipChanged: func(owns bool) {
			d.logger.Info("audio ownership changed", zap.Bool("owns", owns))
		},
		OnShowNearbyUI: func(sig aacp.RoutingSignal) {
			d.logger.Info("nearby host offers to take audio",
				zap.String("sender", sig.Sender),
				zap.Stringer("type", sig.DeviceType))
		},
		OnConnectedDevices: func(old, current []aacp.ConnectedDevice) {
			d.logger.Info("connected devices changed",
				zap.Int("before", len(old)),
				zap.Int("now", len(current)))
		},
		OnStemPress: func(press aacp.StemPress) {
			d.logger.Debug("stem press", zap.Stringer("type", press.Type), zap.Stringer("bud", press.Bud))
		},
	}
}
