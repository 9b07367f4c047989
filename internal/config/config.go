// Package config loads the daemon configuration from YAML or TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"podlink/internal/rpa"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Duration is a time.Duration written as a Go duration string ("2s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	// Device is the AirPods MAC. Empty means "discover via BlueZ".
	Device  string        `yaml:"device" toml:"device"`
	Adapter string        `yaml:"adapter" toml:"adapter"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	ATT     ATTConfig     `yaml:"att" toml:"att"`
	BLE     BLEConfig     `yaml:"ble" toml:"ble"`
	Capture CaptureConfig `yaml:"capture" toml:"capture"`
	Host    HostConfig    `yaml:"host" toml:"host"`
}

type LogConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

type ATTConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	// Serialize holds a lock across each request/response exchange.
	Serialize bool `yaml:"serialize" toml:"serialize"`
}

type BLEConfig struct {
	Enabled    bool     `yaml:"enabled" toml:"enabled"`
	ScanWindow Duration `yaml:"scan_window" toml:"scan_window"`
}

type CaptureConfig struct {
	// Path of the CBOR capture file; empty disables capturing.
	Path string `yaml:"path" toml:"path"`
}

// HostConfig describes this machine in smart routing exchanges.
type HostConfig struct {
	Name string `yaml:"name" toml:"name"`
	MAC  string `yaml:"mac" toml:"mac"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() Config {
	return Config{
		Adapter: "hci0",
		Log: LogConfig{
			Level: "info",
		},
		ATT: ATTConfig{
			Enabled:   true,
			Timeout:   Duration(2 * time.Second),
			Serialize: true,
		},
		BLE: BLEConfig{
			Enabled:    true,
			ScanWindow: Duration(5 * time.Second),
		},
		Host: HostConfig{
			Name: "Linux",
		},
	}
}

// Load reads path over Default and validates the result. The format is
// chosen by extension: .yaml, .yml or .toml.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Device != "" {
		if _, err := rpa.ParseAddress(c.Device); err != nil {
			return fmt.Errorf("device: %w", err)
		}
	}
	if strings.TrimSpace(c.Adapter) == "" {
		return fmt.Errorf("adapter is required")
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.ATT.Enabled && c.ATT.Timeout <= 0 {
		return fmt.Errorf("att.timeout must be positive")
	}
	if c.BLE.Enabled && c.BLE.ScanWindow <= 0 {
		return fmt.Errorf("ble.scan_window must be positive")
	}
	if strings.TrimSpace(c.Host.Name) == "" {
		return fmt.Errorf("host.name is required")
	}
	if c.Host.MAC != "" {
		if _, err := rpa.ParseAddress(c.Host.MAC); err != nil {
			return fmt.Errorf("host.mac: %w", err)
		}
	}
	return nil
}

// ZapLevel returns the parsed log level, or info if it does not parse.
func (c LogConfig) ZapLevel() zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}
