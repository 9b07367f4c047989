// bluez_discover lists the Bluetooth devices BlueZ knows about and shows
// every property and interface of the AirPods among them.
//
// Usage:
//
//	bluez_discover [-adapter hci0]
//
// Useful for finding the MAC address to put into the podlinkd config and
// for checking that the battery provider shows up as org.bluez.Battery1.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"podlink/internal/bluez"
)

var serviceNames = map[string]string{
	"0000110b-0000-1000-8000-00805f9b34fb": "Audio Sink",
	"0000110c-0000-1000-8000-00805f9b34fb": "A/V Remote Control Target",
	"0000110e-0000-1000-8000-00805f9b34fb": "A/V Remote Control",
	"0000111e-0000-1000-8000-00805f9b34fb": "Handsfree",
	"74ec2172-0bad-4d01-8f77-997b2be0722a": "Apple Media Service",
	"89d3502b-0f36-433a-8ef4-c502ad55f8dc": "Apple Notification Center Service",
	"d0611e78-bbb4-4591-a5f8-487910ae4366": "Apple Continuity",
}

func main() {
	adapter := flag.String("adapter", "hci0", "Bluetooth adapter")
	flag.Parse()

	m, err := bluez.NewManager(*adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	objects, err := m.ManagedObjects()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	found := false
	for _, d := range bluez.Devices(objects) {
		marker := " "
		if d.Connected {
			marker = "*"
		}
		fmt.Printf("%s %s  %s\n", marker, d.Address, d.Alias)
		if !d.IsAirPods() {
			continue
		}
		found = true
		describe(d, objects[d.Path])
	}

	if !found {
		fmt.Println("\nNo AirPods found. Pair them with this machine first.")
	}
}

func describe(d bluez.Device, ifaces map[string]map[string]dbus.Variant) {
	fmt.Printf("\n  Path: %s\n  Connected: %v\n", d.Path, d.Connected)

	fmt.Println("\n  --- Interfaces ---")
	for _, name := range sortedKeys(ifaces) {
		fmt.Printf("    %s\n", name)
	}

	props := ifaces["org.bluez.Device1"]
	fmt.Println("\n  --- Device Properties ---")
	for _, key := range sortedKeys(props) {
		v := props[key]
		fmt.Printf("    %s: %v (%s)\n", key, v.Value(), v.Signature())
	}

	if battery, ok := ifaces["org.bluez.Battery1"]; ok {
		fmt.Println("\n  --- Battery ---")
		for _, key := range sortedKeys(battery) {
			fmt.Printf("    %s: %v\n", key, battery[key].Value())
		}
	}

	if v, ok := props["UUIDs"]; ok {
		if uuids, ok := v.Value().([]string); ok {
			fmt.Println("\n  --- Services ---")
			for _, uuid := range uuids {
				name, known := serviceNames[strings.ToLower(uuid)]
				if !known {
					name = "Unknown Service"
				}
				fmt.Printf("    %s: %s\n", uuid, name)
			}
		}
	}
	fmt.Println()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
