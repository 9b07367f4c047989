package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Manager holds the system bus connection used for discovery, connection
// watching and the battery provider.
type Manager struct {
	conn    *dbus.Conn
	adapter string
	logger  *zap.Logger
}

// NewManager connects to the system bus. adapter names the controller, for
// example "hci0".
func NewManager(adapter string) (*Manager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &Manager{
		conn:    conn,
		adapter: adapter,
		logger:  zap.L().With(zap.String("adapter", adapter)),
	}, nil
}

// Adapter returns the adapter name the manager was created for.
func (m *Manager) Adapter() string {
	return m.adapter
}

// Conn returns the shared bus connection.
func (m *Manager) Conn() *dbus.Conn {
	return m.conn
}

// ManagedObjects fetches every object BlueZ exports.
func (m *Manager) ManagedObjects() (ManagedObjects, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := m.conn.Object(bluezService, "/")
	if err := obj.Call(objectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to get managed objects: %w", err)
	}
	return ManagedObjects(objects), nil
}

// DiscoverAirPods returns the currently connected AirPods.
func (m *Manager) DiscoverAirPods() (Device, error) {
	objects, err := m.ManagedObjects()
	if err != nil {
		return Device{}, err
	}
	return FindAirPods(objects)
}

// Device fetches the properties of a single device object.
func (m *Manager) Device(path dbus.ObjectPath) (Device, error) {
	var props map[string]dbus.Variant
	obj := m.conn.Object(bluezService, path)
	if err := obj.Call(propertiesIface+".GetAll", 0, deviceIface).Store(&props); err != nil {
		return Device{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return deviceFromProps(path, props), nil
}

// WatchAirPods reports AirPods connecting and disconnecting until ctx is
// done. AirPods that are already connected are reported first. Callbacks
// run on the watcher goroutine.
func (m *Manager) WatchAirPods(ctx context.Context, onConnect, onDisconnect func(Device)) error {
	rule := "type='signal',interface='" + propertiesIface + "',member='PropertiesChanged',path_namespace='/org/bluez'"
	if err := m.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("failed to add match rule: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	m.conn.Signal(signals)

	if d, err := m.DiscoverAirPods(); err == nil {
		m.logger.Info("AirPods already connected", zap.String("device", d.String()))
		onConnect(d)
	}

	go func() {
		defer m.conn.RemoveSignal(signals)
		defer m.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				path, connected, ok := connectionChange(sig)
				if !ok {
					continue
				}
				d, err := m.Device(path)
				if err != nil {
					m.logger.Debug("device lookup failed", zap.String("path", string(path)), zap.Error(err))
					continue
				}
				if !d.IsAirPods() {
					continue
				}
				d.Connected = connected
				if connected {
					m.logger.Info("AirPods connected", zap.String("device", d.String()))
					onConnect(d)
				} else {
					m.logger.Info("AirPods disconnected", zap.String("device", d.String()))
					onDisconnect(d)
				}
			}
		}
	}()

	return nil
}

// Close closes the bus connection.
func (m *Manager) Close() error {
	return m.conn.Close()
}
