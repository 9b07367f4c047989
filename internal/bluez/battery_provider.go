package bluez

import (
	"fmt"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"
)

const (
	batteryProviderManagerIface = "org.bluez.BatteryProviderManager1"
	batteryProviderIface        = "org.bluez.BatteryProvider1"

	// ProviderPath is the root object of the exported battery provider.
	ProviderPath dbus.ObjectPath = "/io/podlink/battery"

	// BatterySource is reported as the Source property of every battery.
	BatterySource = "podlink"
)

const providerIntrospection = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.freedesktop.DBus.ObjectManager">
		<method name="GetManagedObjects">
			<arg name="objects" type="a{oa{sa{sv}}}" direction="out"/>
		</method>
		<signal name="InterfacesAdded">
			<arg name="object_path" type="o"/>
			<arg name="interfaces_and_properties" type="a{sa{sv}}"/>
		</signal>
		<signal name="InterfacesRemoved">
			<arg name="object_path" type="o"/>
			<arg name="interfaces" type="as"/>
		</signal>
	</interface>
</node>`

const batteryIntrospection = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.bluez.BatteryProvider1">
		<property name="Percentage" type="y" access="read"/>
		<property name="Device" type="o" access="read"/>
		<property name="Source" type="s" access="read"/>
	</interface>
	<interface name="org.freedesktop.DBus.Properties">
		<method name="Get">
			<arg name="interface_name" type="s" direction="in"/>
			<arg name="property_name" type="s" direction="in"/>
			<arg name="value" type="v" direction="out"/>
		</method>
		<method name="GetAll">
			<arg name="interface_name" type="s" direction="in"/>
			<arg name="properties" type="a{sv}" direction="out"/>
		</method>
	</interface>
</node>`

// Battery is one exported battery object. It serves
// org.freedesktop.DBus.Properties for BlueZ.
type Battery struct {
	mu         sync.RWMutex
	path       dbus.ObjectPath
	device     dbus.ObjectPath
	percentage uint8
}

func newBattery(path, device dbus.ObjectPath, percentage uint8) *Battery {
	return &Battery{path: path, device: device, percentage: percentage}
}

func (b *Battery) properties() map[string]dbus.Variant {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]dbus.Variant{
		"Percentage": dbus.MakeVariant(b.percentage),
		"Device":     dbus.MakeVariant(b.device),
		"Source":     dbus.MakeVariant(BatterySource),
	}
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (b *Battery) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	if iface != batteryProviderIface {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	v, ok := b.properties()[property]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (b *Battery) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != batteryProviderIface {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	return b.properties(), nil
}

// Set implements org.freedesktop.DBus.Properties.Set. Every property is
// read only.
func (b *Battery) Set(iface, property string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []interface{}{property})
}

// setPercentage stores p and reports whether it changed.
func (b *Battery) setPercentage(p uint8) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.percentage == p {
		return false
	}
	b.percentage = p
	return true
}

// BatteryProvider exports battery objects under ProviderPath and registers
// them with the adapter's BatteryProviderManager1.
type BatteryProvider struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	logger  *zap.Logger

	mu        sync.RWMutex
	batteries map[string]*Battery
}

// NewBatteryProvider exports the provider root on m's connection and
// registers it with BlueZ.
func NewBatteryProvider(m *Manager) (*BatteryProvider, error) {
	bp := &BatteryProvider{
		conn:      m.conn,
		adapter:   AdapterPath(m.adapter),
		logger:    m.logger,
		batteries: make(map[string]*Battery),
	}

	if err := bp.conn.Export(bp, ProviderPath, objectManager); err != nil {
		return nil, fmt.Errorf("failed to export provider: %w", err)
	}
	if err := bp.conn.Export(introspect.Introspectable(providerIntrospection), ProviderPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("failed to export provider introspection: %w", err)
	}

	call := bp.conn.Object(bluezService, bp.adapter).Call(batteryProviderManagerIface+".RegisterBatteryProvider", 0, ProviderPath)
	if call.Err != nil {
		return nil, fmt.Errorf("failed to register battery provider: %w", call.Err)
	}
	return bp, nil
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager.
func (bp *BatteryProvider) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return managedBatteries(bp.batteries), nil
}

func managedBatteries(batteries map[string]*Battery) map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(batteries))
	for _, b := range batteries {
		objects[b.path] = map[string]map[string]dbus.Variant{
			batteryProviderIface: b.properties(),
		}
	}
	return objects
}

// batteryPath returns the object path of the battery called name.
func batteryPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/%s", ProviderPath, name))
}

// SetBattery publishes percentage for device under name, adding the battery
// object on first use and emitting PropertiesChanged afterwards.
func (bp *BatteryProvider) SetBattery(name string, device dbus.ObjectPath, percentage uint8) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if b, ok := bp.batteries[name]; ok {
		if !b.setPercentage(percentage) {
			return nil
		}
		changes := map[string]dbus.Variant{"Percentage": dbus.MakeVariant(percentage)}
		return bp.conn.Emit(b.path, propertiesChange, batteryProviderIface, changes, []string{})
	}

	b := newBattery(batteryPath(name), device, percentage)
	if err := bp.conn.Export(b, b.path, propertiesIface); err != nil {
		return fmt.Errorf("failed to export battery %s: %w", name, err)
	}
	if err := bp.conn.Export(introspect.Introspectable(batteryIntrospection), b.path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export battery introspection: %w", err)
	}
	bp.batteries[name] = b

	ifaces := map[string]map[string]dbus.Variant{batteryProviderIface: b.properties()}
	if err := bp.conn.Emit(ProviderPath, objectManager+".InterfacesAdded", b.path, ifaces); err != nil {
		return fmt.Errorf("failed to emit InterfacesAdded: %w", err)
	}
	bp.logger.Info("battery registered", zap.String("name", name), zap.String("device", string(device)))
	return nil
}

// RemoveBattery withdraws the battery called name.
func (bp *BatteryProvider) RemoveBattery(name string) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	b, ok := bp.batteries[name]
	if !ok {
		return fmt.Errorf("battery %s not found", name)
	}
	delete(bp.batteries, name)

	if err := bp.conn.Emit(ProviderPath, objectManager+".InterfacesRemoved", b.path, []string{batteryProviderIface}); err != nil {
		return fmt.Errorf("failed to emit InterfacesRemoved: %w", err)
	}
	_ = bp.conn.Export(nil, b.path, propertiesIface)
	_ = bp.conn.Export(nil, b.path, "org.freedesktop.DBus.Introspectable")
	return nil
}

// Names lists the registered battery names.
func (bp *BatteryProvider) Names() []string {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	names := make([]string, 0, len(bp.batteries))
	for name := range bp.batteries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close unregisters the provider. The shared connection stays open.
func (bp *BatteryProvider) Close() error {
	call := bp.conn.Object(bluezService, bp.adapter).Call(batteryProviderManagerIface+".UnregisterBatteryProvider", 0, ProviderPath)
	return call.Err
}
