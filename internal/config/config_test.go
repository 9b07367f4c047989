package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "podlink.yaml", `
device: "AA:BB:CC:DD:EE:FF"
log:
  level: debug
att:
  timeout: 500ms
ble:
  enabled: false
capture:
  path: /tmp/pods.cbor
host:
  name: "Linux workstation"
  mac: "00:11:22:33:44:55"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device)
	assert.Equal(t, "hci0", cfg.Adapter, "defaults survive")
	assert.Equal(t, zapcore.DebugLevel, cfg.Log.ZapLevel())
	assert.True(t, cfg.ATT.Enabled)
	assert.True(t, cfg.ATT.Serialize)
	assert.Equal(t, 500*time.Millisecond, cfg.ATT.Timeout.Std())
	assert.False(t, cfg.BLE.Enabled)
	assert.Equal(t, 5*time.Second, cfg.BLE.ScanWindow.Std())
	assert.Equal(t, "/tmp/pods.cbor", cfg.Capture.Path)
	assert.Equal(t, "Linux workstation", cfg.Host.Name)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "podlink.toml", `
adapter = "hci1"

[log]
level = "warn"
development = true

[att]
serialize = false
timeout = "3s"

[ble]
scan_window = "10s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hci1", cfg.Adapter)
	assert.Empty(t, cfg.Device)
	assert.Equal(t, zapcore.WarnLevel, cfg.Log.ZapLevel())
	assert.True(t, cfg.Log.Development)
	assert.False(t, cfg.ATT.Serialize)
	assert.Equal(t, 3*time.Second, cfg.ATT.Timeout.Std())
	assert.Equal(t, 10*time.Second, cfg.BLE.ScanWindow.Std())
	assert.Equal(t, "Linux", cfg.Host.Name)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"bad extension", "podlink.json", `{}`, "unsupported"},
		{"bad device", "a.yaml", "device: nope\n", "device"},
		{"bad level", "a.yaml", "log:\n  level: loud\n", "log.level"},
		{"bad timeout", "a.toml", "[att]\ntimeout = \"0s\"\n", "att.timeout"},
		{"bad duration", "a.yaml", "att:\n  timeout: soon\n", "parse"},
		{"empty host name", "a.toml", "[host]\nname = \"\"\n", "host.name"},
		{"bad host mac", "a.yaml", "host:\n  mac: 11:22\n", "host.mac"},
		{"broken yaml", "a.yml", "log: [\n", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load(writeFile(t, "podlink.ini", "device=x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDisabledATTSkipsTimeoutCheck(t *testing.T) {
	cfg := Default()
	cfg.ATT.Enabled = false
	cfg.ATT.Timeout = 0
	assert.NoError(t, cfg.Validate())
}
