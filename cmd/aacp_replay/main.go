// aacp_replay decodes a capture file written by podlinkd.
//
// Inbound AACP packets are fed through a session exactly as they were
// received, so the output shows what the daemon saw. Outbound packets and
// ATT traffic are dumped as hex.
//
// Usage:
//
//	aacp_replay -file capture.cbor [-conn ID] [-protocol aacp|att]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"podlink/internal/aacp"
	"podlink/internal/capture"
	"podlink/internal/config"
	"podlink/internal/logging"
)

func main() {
	file := flag.String("file", "", "capture file")
	conn := flag.String("conn", "", "only replay this connection ID")
	protocol := flag.String("protocol", "", "only replay aacp or att records")
	level := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: aacp_replay -file capture.cbor [-conn ID] [-protocol aacp|att]")
		os.Exit(2)
	}

	undo, err := logging.Install(config.LogConfig{Level: *level, Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer undo()

	filter := capture.Filter{ConnectionID: *conn}
	switch strings.ToLower(*protocol) {
	case "":
	case "aacp":
		p := capture.ProtocolAACP
		filter.Protocol = &p
	case "att":
		p := capture.ProtocolATT
		filter.Protocol = &p
	default:
		zap.L().Fatal("unknown protocol", zap.String("protocol", *protocol))
	}

	if err := replay(os.Stdout, *file, filter); err != nil {
		zap.L().Fatal("replay failed", zap.Error(err))
	}
}

func replay(w io.Writer, path string, filter capture.Filter) error {
	r, err := capture.NewFilteredReader(path, filter)
	if err != nil {
		return err
	}
	defer r.Close()

	// One session per connection, so state never leaks between them.
	sessions := make(map[string]*aacp.Session)
	count := 0

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", count, err)
		}
		count++

		fmt.Fprintf(w, "%s %-4s %-3s %s %s\n",
			rec.Timestamp.Format("15:04:05.000"), rec.Protocol, rec.Direction, rec.Device, aacp.DumpPacket(rec.Data))

		if rec.Protocol != capture.ProtocolAACP || rec.Direction != capture.DirectionIn {
			continue
		}
		s, ok := sessions[rec.ConnectionID]
		if !ok {
			s = aacp.NewSession(nil, aacp.WithCallbacks(printer(w)))
			sessions[rec.ConnectionID] = s
		}
		s.Receive(rec.Data)
	}

	fmt.Fprintf(w, "%d records, %d AACP connections\n", count, len(sessions))
	return nil
}

func printer(w io.Writer) aacp.Callbacks {
	show := func(format string, args ...any) {
		fmt.Fprintf(w, "    -> "+format+"\n", args...)
	}
	return aacp.Callbacks{
		OnBattery: func(info *aacp.BatteryInfo) {
			for _, b := range []*aacp.Battery{info.Left, info.Right, info.Case, info.Single} {
				if b != nil {
					show("battery %s %d%% %s", b.Component, b.Level, b.Status)
				}
			}
		},
		OnEarDetection: func(ed aacp.EarDetection) {
			show("ear detection primary=%s secondary=%s", ed.Primary, ed.Secondary)
		},
		OnConversationAwareness: func(ca aacp.ConversationAwareness) {
			show("conversation awareness level=%d", ca.Level)
		},
		OnHeadTracking: func(ht *aacp.HeadTracking) {
			show("head tracking orientation=%v", ht.Orientation)
		},
		OnStemPress: func(press aacp.StemPress) {
			show("stem press %s %s", press.Type, press.Bud)
		},
		OnProximityKeys: func(keys []aacp.ProximityKey) {
			for _, k := range keys {
				show("proximity key %s (%d bytes)", k.Type, len(k.Data))
			}
		},
		OnAudioSource: func(src aacp.AudioSource) {
			show("audio source %s %s", src.MAC, src.Type)
		},
		OnEQ: func(eq aacp.EQState) {
			show("eq %v phone=%t media=%t", eq.Gains, eq.EnabledForPhone, eq.EnabledForMedia)
		},
		OnInformation: func(info *aacp.Information) {
			show("information %q model=%s firmware=%s", info.Name, info.ModelNumber, info.FirmwareVersion)
		},
		OnControlCommand: func(cmd aacp.ControlCommand) {
			show("control %s", cmd)
		},
		OnSmartRouting: func(sig aacp.RoutingSignal) {
			show("smart routing from %s (%s) relinquish=%t nearby=%t",
				sig.Sender, sig.DeviceType, sig.Relinquish, sig.ShowNearbyUI)
		},
		OnConnectedDevices: func(_, current []aacp.ConnectedDevice) {
			for _, d := range current {
				show("connected device %s", d)
			}
		},
		OnOwnershipChanged: func(owns bool) {
			show("owns connection %t", owns)
		},
		OnUnknown: func(op aacp.Opcode, _ []byte) {
			show("unhandled %s", op)
		},
	}
}
