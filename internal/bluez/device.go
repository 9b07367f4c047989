// Package bluez talks to BlueZ over the D-Bus system bus.
//
// It finds the connected AirPods, watches them connect and disconnect and
// exposes their battery level through BlueZ's Battery Provider API so that
// desktop settings panels can show it.
//
// All objects share the Manager's bus connection. BlueZ only accepts
// battery objects announced with InterfacesAdded on the connection that
// registered the provider, so a second connection silently does nothing.
package bluez

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService     = "org.bluez"
	deviceIface      = "org.bluez.Device1"
	objectManager    = "org.freedesktop.DBus.ObjectManager"
	propertiesIface  = "org.freedesktop.DBus.Properties"
	propertiesChange = propertiesIface + ".PropertiesChanged"
)

// AirPodsMarker is the alias fragment used to recognise AirPods.
const AirPodsMarker = "AirPods"

// ErrNotFound is returned when no connected AirPods are known to BlueZ.
var ErrNotFound = errors.New("bluez: no connected AirPods found")

// ManagedObjects is the reply of ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Device is a BlueZ device object.
type Device struct {
	Path      dbus.ObjectPath
	Address   string
	Alias     string
	Connected bool
}

// IsAirPods reports whether the alias names a pair of AirPods.
func (d Device) IsAirPods() bool {
	return strings.Contains(d.Alias, AirPodsMarker)
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Alias, d.Address)
}

// AdapterPath returns the object path of an adapter such as "hci0".
func AdapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// DevicePath returns the object path BlueZ uses for mac on adapter.
func DevicePath(adapter, mac string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", AdapterPath(adapter),
		strings.ReplaceAll(strings.ToUpper(mac), ":", "_")))
}

// AddressFromPath recovers the MAC from a device object path.
func AddressFromPath(path dbus.ObjectPath) (string, bool) {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return "", false
	}
	addr := s[i+len("/dev_"):]
	if len(addr) != 17 || strings.Contains(addr, "/") {
		return "", false
	}
	return strings.ReplaceAll(addr, "_", ":"), true
}

func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) Device {
	d := Device{Path: path}
	if v, ok := props["Address"]; ok {
		d.Address, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok {
		d.Alias, _ = v.Value().(string)
	}
	if v, ok := props["Connected"]; ok {
		d.Connected, _ = v.Value().(bool)
	}
	if d.Address == "" {
		d.Address, _ = AddressFromPath(path)
	}
	return d
}

// Devices lists the device objects in objects, sorted by path.
func Devices(objects ManagedObjects) []Device {
	var devices []Device
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		devices = append(devices, deviceFromProps(path, props))
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})
	return devices
}

// FindAirPods returns the first connected device whose alias names AirPods.
func FindAirPods(objects ManagedObjects) (Device, error) {
	for _, d := range Devices(objects) {
		if d.Connected && d.IsAirPods() {
			return d, nil
		}
	}
	return Device{}, ErrNotFound
}

// connectionChange extracts a Connected transition from a PropertiesChanged
// signal on a device object.
func connectionChange(sig *dbus.Signal) (path dbus.ObjectPath, connected bool, ok bool) {
	if sig == nil || sig.Name != propertiesChange || len(sig.Body) < 2 {
		return "", false, false
	}
	if iface, _ := sig.Body[0].(string); iface != deviceIface {
		return "", false, false
	}
	changes, isMap := sig.Body[1].(map[string]dbus.Variant)
	if !isMap {
		return "", false, false
	}
	v, has := changes["Connected"]
	if !has {
		return "", false, false
	}
	connected, ok = v.Value().(bool)
	return sig.Path, connected, ok
}
