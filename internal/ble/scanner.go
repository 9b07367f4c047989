// Package ble reads AirPods battery and ear state from BLE advertisements.
//
// AirPods broadcast an Apple Continuity "proximity pairing" message even
// while they are connected to another device. The unencrypted part carries
// 10% battery steps; the trailing block, decrypted with the ENC_KEY handed
// out over AACP, carries exact levels. Advertisements come from a rotating
// resolvable private address, so the IRK is used to keep only our own pair.
//
// Scanning goes through BlueZ on the bluez.Manager's bus connection.
package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"podlink/internal/bluez"
	"podlink/internal/rpa"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	propertiesIface = "org.freedesktop.DBus.Properties"
	objectManager   = "org.freedesktop.DBus.ObjectManager"
)

// Advertisement is one proximity pairing message and the address it came
// from.
type Advertisement struct {
	Address string
	Data    *ProximityData
}

// Keys are the proximity keys used to filter and decrypt advertisements.
type Keys struct {
	IRK           *[16]byte
	EncryptionKey []byte
}

// Scanner runs BlueZ LE discovery and decodes Apple advertisements.
type Scanner struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	logger  *zap.Logger

	mu   sync.RWMutex
	keys Keys
}

// NewScanner creates a scanner on m's connection and adapter.
func NewScanner(m *bluez.Manager) *Scanner {
	return &Scanner{
		conn:    m.Conn(),
		adapter: bluez.AdapterPath(m.Adapter()),
		logger:  zap.L(),
	}
}

// SetKeys installs the proximity keys. With an IRK, advertisements from
// addresses that do not resolve with it are ignored. With an encryption
// key, the encrypted block is decrypted when possible.
func (s *Scanner) SetKeys(keys Keys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *Scanner) currentKeys() Keys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys
}

func (s *Scanner) matchRules() []string {
	return []string{
		"type='signal',interface='" + propertiesIface + "',member='PropertiesChanged',path_namespace='" + string(s.adapter) + "'",
		"type='signal',interface='" + objectManager + "',member='InterfacesAdded'",
	}
}

// Scan runs discovery until ctx is done, calling handler for every
// accepted advertisement. handler runs on the calling goroutine.
func (s *Scanner) Scan(ctx context.Context, handler func(Advertisement)) error {
	adapter := s.conn.Object(bluezService, s.adapter)

	filter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": true,
	}
	if err := adapter.Call(adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		return fmt.Errorf("failed to set discovery filter: %w", err)
	}

	for _, rule := range s.matchRules() {
		if err := s.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
			return fmt.Errorf("failed to add match rule: %w", err)
		}
		defer s.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}

	signals := make(chan *dbus.Signal, 64)
	s.conn.Signal(signals)
	defer s.conn.RemoveSignal(signals)

	if err := adapter.Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	defer func() {
		if err := adapter.Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
			s.logger.Debug("stop discovery failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("bus connection closed")
			}
			if adv, ok := s.accept(sig); ok {
				handler(adv)
			}
		}
	}
}

// First scans until one advertisement is accepted or ctx is done.
func (s *Scanner) First(ctx context.Context) (Advertisement, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found *Advertisement
	err := s.Scan(ctx, func(adv Advertisement) {
		if found == nil {
			found = &adv
			cancel()
		}
	})
	if found != nil {
		return *found, nil
	}
	return Advertisement{}, err
}

// accept decodes sig and applies the key filter and decryption.
func (s *Scanner) accept(sig *dbus.Signal) (Advertisement, bool) {
	addr, apple, ok := appleData(sig)
	if !ok {
		return Advertisement{}, false
	}
	return s.decode(addr, apple)
}

func (s *Scanner) decode(addr string, apple []byte) (Advertisement, bool) {
	data, err := ParseProximityData(apple)
	if err != nil {
		return Advertisement{}, false
	}

	keys := s.currentKeys()
	if keys.IRK != nil {
		match, err := rpa.VerifyString(addr, *keys.IRK)
		if err != nil || !match {
			return Advertisement{}, false
		}
	}

	if keys.EncryptionKey != nil {
		if block, ok := data.EncryptedPayload(); ok {
			decrypted, err := DecryptProximityPayload(block, keys.EncryptionKey)
			if err != nil {
				s.logger.Debug("advertisement not decrypted", zap.String("address", addr), zap.Error(err))
			} else if err := data.AddDecryptedData(decrypted); err != nil {
				s.logger.Debug("decrypted block rejected", zap.Error(err))
			}
		}
	}

	return Advertisement{Address: addr, Data: data}, true
}

// appleData pulls the sender address and Apple manufacturer data out of a
// PropertiesChanged or InterfacesAdded signal.
func appleData(sig *dbus.Signal) (string, []byte, bool) {
	if sig == nil || len(sig.Body) < 2 {
		return "", nil, false
	}

	var props map[string]dbus.Variant
	var addr string

	switch sig.Name {
	case propertiesIface + ".PropertiesChanged":
		if iface, _ := sig.Body[0].(string); iface != deviceIface {
			return "", nil, false
		}
		props, _ = sig.Body[1].(map[string]dbus.Variant)
		addr, _ = bluez.AddressFromPath(sig.Path)
	case objectManager + ".InterfacesAdded":
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props = ifaces[deviceIface]
		if v, ok := props["Address"]; ok {
			addr, _ = v.Value().(string)
		}
		if addr == "" {
			addr, _ = bluez.AddressFromPath(path)
		}
	default:
		return "", nil, false
	}

	if addr == "" || props == nil {
		return "", nil, false
	}
	v, ok := props["ManufacturerData"]
	if !ok {
		return "", nil, false
	}
	mfg, ok := v.Value().(map[uint16]dbus.Variant)
	if !ok {
		return "", nil, false
	}
	apple, ok := mfg[appleCompanyID]
	if !ok {
		return "", nil, false
	}
	data, ok := apple.Value().([]byte)
	return addr, data, ok
}
