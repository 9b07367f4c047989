package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"podlink/internal/aacp"
	"podlink/internal/config"
	"podlink/internal/podstate"
)

const commandTimeout = 5 * time.Second

type console struct {
	cfg   config.Config
	rl    *readline.Instance
	coord *podstate.Coordinator
	mac   string
}

func newConsole(cfg config.Config) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "aacp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &console{cfg: cfg, rl: rl}, nil
}

func (c *console) out() io.Writer {
	return c.rl.Stdout()
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out(), format, args...)
}

// Run reads commands until quit, EOF or ctx is done.
func (c *console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out(), "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		var cmdErr error
		switch cmd {
		case "help", "?":
			c.printHelp()
		case "status", "s":
			c.cmdStatus()
		case "battery", "b":
			c.cmdBattery()
		case "ear":
			c.cmdEar()
		case "mode", "m":
			cmdErr = c.cmdMode(args)
		case "ca":
			cmdErr = c.cmdToggle(args, c.coord.Session().SetConversationAwareness)
		case "pv":
			cmdErr = c.cmdToggle(args, c.coord.Session().SetPersonalizedVolume)
		case "onebud":
			cmdErr = c.cmdToggle(args, c.coord.Session().SetOneBudANC)
		case "eardetect":
			cmdErr = c.cmdToggle(args, c.coord.Session().SetEarDetection)
		case "owns":
			cmdErr = c.cmdToggle(args, c.coord.Session().SetOwnsConnection)
		case "rename":
			cmdErr = c.cmdRename(args)
		case "control", "ctl":
			cmdErr = c.cmdControl(args)
		case "controls":
			c.cmdControls()
		case "devices", "d":
			c.cmdDevices()
		case "source":
			c.cmdSource()
		case "eq":
			c.cmdEQ()
		case "info":
			c.cmdInfo()
		case "keys":
			c.cmdKeys()
		case "hijack":
			cmdErr = c.cmdRouting(args, c.coord.Session().SendHijackRequest)
		case "takeover":
			cmdErr = c.cmdRouting(args, c.coord.Session().SendTakeoverRequest)
		case "mediainfo":
			cmdErr = c.cmdMediaInfo(args)
		case "transparency", "tp":
			cmdErr = c.cmdTransparency(ctx, args)
		case "lsr":
			cmdErr = c.cmdLoudSoundReduction(ctx, args)
		case "quit", "exit", "q":
			fmt.Fprintln(c.out(), "Exiting...")
			cancel()
			return
		default:
			c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
		if cmdErr != nil {
			c.printf("Error: %v\n", cmdErr)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out(), `
AACP Console Commands:
  State:
    status                    - Show the merged AirPods state
    battery                   - Show the last battery report
    ear                       - Show ear detection
    controls                  - List the control command table
    devices                   - List hosts connected to the AirPods
    source                    - Show the current audio source
    eq                        - Show the equalizer
    info                      - Show model, serial and firmware
    keys                      - Show the proximity keys

  Settings:
    mode <off|anc|transparency|adaptive>
    ca <on|off>               - Conversation awareness
    pv <on|off>               - Personalized volume
    onebud <on|off>           - Noise cancellation with one bud
    eardetect <on|off>        - Automatic ear detection
    owns <on|off>             - Claim or release the audio connection
    rename <name>             - Rename the AirPods
    control <name|hex> <hex>  - Send a raw control command

  Smart routing:
    hijack <mac>              - Take audio from another host
    takeover <mac>            - Accept a banner offer from another host
    mediainfo [app] [playing] - Announce what this host plays

  Hearing (needs -att):
    transparency [on|off|net <v>|balance <v>]
    lsr <on|off>              - Loud sound reduction

    quit                      - Exit`)
}

func parseToggle(args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("expected on or off")
	}
	switch strings.ToLower(args[0]) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", args[0])
	}
}

func (c *console) cmdToggle(args []string, set func(bool) error) error {
	on, err := parseToggle(args)
	if err != nil {
		return err
	}
	return set(on)
}

func (c *console) cmdStatus() {
	st, ok := c.coord.State()
	if !ok {
		fmt.Fprintln(c.out(), "No state yet.")
		return
	}
	c.printf("Source:    %s\n", st.Source)
	c.printf("Connected: %t (owns audio: %t)\n", c.coord.Connected(), c.coord.Session().OwnsConnection())
	c.printf("Left:      %s%s\n", levelString(st.LeftBattery), chargingSuffix(st.LeftCharging))
	c.printf("Right:     %s%s\n", levelString(st.RightBattery), chargingSuffix(st.RightCharging))
	c.printf("Case:      %s%s\n", levelString(st.CaseBattery), chargingSuffix(st.CaseCharging))
	c.printf("In ear:    left=%t right=%t\n", st.LeftInEar, st.RightInEar)
	c.printf("Primary:   %s\n", st.PrimaryPod)
	if mode, ok := c.coord.Session().ListeningMode(); ok {
		c.printf("Mode:      %s\n", mode)
	}
}

func levelString(level *uint8) string {
	if level == nil {
		return "--"
	}
	return fmt.Sprintf("%d%%", *level)
}

func chargingSuffix(charging bool) string {
	if charging {
		return " (charging)"
	}
	return ""
}

func (c *console) cmdBattery() {
	info, ok := c.coord.Session().Battery()
	if !ok {
		fmt.Fprintln(c.out(), "No battery report yet.")
		return
	}
	fmt.Fprint(c.out(), info.String())
}

func (c *console) cmdEar() {
	ed, ok := c.coord.Session().EarDetection()
	if !ok {
		fmt.Fprintln(c.out(), "No ear detection report yet.")
		return
	}
	c.printf("Primary: %s  Secondary: %s\n", ed.Primary, ed.Secondary)
}

var listeningModes = map[string]aacp.ListeningMode{
	"off":          aacp.ListeningModeOff,
	"anc":          aacp.ListeningModeNoiseCancel,
	"transparency": aacp.ListeningModeTransparency,
	"adaptive":     aacp.ListeningModeAdaptive,
}

func (c *console) cmdMode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mode <off|anc|transparency|adaptive>")
	}
	mode, ok := listeningModes[strings.ToLower(args[0])]
	if !ok {
		return fmt.Errorf("unknown mode %q", args[0])
	}
	return c.coord.Session().SetListeningMode(mode)
}

func (c *console) cmdRename(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rename <name>")
	}
	return c.coord.Session().Rename(strings.Join(args, " "))
}

// parseControlID accepts a command name or a hex identifier.
func parseControlID(s string) (aacp.ControlCommandID, error) {
	if id, ok := aacp.ParseControlCommandID(s); ok {
		return id, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown control command %q", s)
	}
	return aacp.ControlCommandID(v), nil
}

func (c *console) cmdControl(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: control <name|hex> <hex bytes...>")
	}
	id, err := parseControlID(args[0])
	if err != nil {
		return err
	}
	value, err := hex.DecodeString(strings.Join(args[1:], ""))
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return c.coord.Session().SendControlCommand(id, value...)
}

func (c *console) cmdControls() {
	cmds := c.coord.Session().ControlCommands()
	if len(cmds) == 0 {
		fmt.Fprintln(c.out(), "Control table is empty.")
		return
	}
	for _, cmd := range cmds {
		c.printf("  %-34s % X\n", cmd.ID, cmd.Value)
	}
}

func (c *console) cmdDevices() {
	devices := c.coord.Session().ConnectedDevices()
	if len(devices) == 0 {
		fmt.Fprintln(c.out(), "No connected devices reported.")
		return
	}
	for _, d := range devices {
		c.printf("  %s\n", d)
	}
}

func (c *console) cmdSource() {
	src, ok := c.coord.Session().AudioSource()
	if !ok {
		fmt.Fprintln(c.out(), "No audio source reported.")
		return
	}
	c.printf("%s (%s)\n", src.MAC, src.Type)
}

func (c *console) cmdEQ() {
	eq, ok := c.coord.Session().EQ()
	if !ok {
		fmt.Fprintln(c.out(), "No equalizer data yet.")
		return
	}
	c.printf("Gains: %v\n", eq.Gains)
	c.printf("Phone: %t  Media: %t\n", eq.EnabledForPhone, eq.EnabledForMedia)
}

func (c *console) cmdInfo() {
	info, ok := c.coord.Session().Information()
	if !ok {
		fmt.Fprintln(c.out(), "No device information yet.")
		return
	}
	rows := []struct{ name, value string }{
		{"Name", info.Name},
		{"Model", info.ModelNumber},
		{"Manufacturer", info.Manufacturer},
		{"Serial", info.SerialNumber},
		{"Firmware", info.FirmwareVersion},
		{"Hardware", info.HardwareRevision},
		{"Left serial", info.LeftSerial},
		{"Right serial", info.RightSerial},
	}
	for _, r := range rows {
		if r.value != "" {
			c.printf("  %-13s %s\n", r.name+":", r.value)
		}
	}
}

func (c *console) cmdKeys() {
	keys := c.coord.Session().ProximityKeys()
	if len(keys) == 0 {
		fmt.Fprintln(c.out(), "No proximity keys received.")
		return
	}
	for typ, data := range keys {
		c.printf("  %s: %s\n", typ, hex.EncodeToString(data))
	}
}

func (c *console) cmdRouting(args []string, send func(string) error) error {
	target := c.mac
	if len(args) > 0 {
		target = args[0]
	}
	return send(target)
}

func (c *console) cmdMediaInfo(args []string) error {
	if c.cfg.Host.MAC == "" {
		return fmt.Errorf("host.mac is not configured")
	}
	appID := "NA"
	if len(args) > 0 {
		appID = args[0]
	}
	playing := false
	if len(args) > 1 {
		var err error
		if playing, err = parseToggle(args[1:]); err != nil {
			return err
		}
	}
	return c.coord.Session().SendMediaInformation(c.cfg.Host.MAC, c.mac, playing, appID)
}

func (c *console) cmdTransparency(ctx context.Context, args []string) error {
	t, ok := c.coord.Transparency()
	if !ok {
		return podstate.ErrNoATT
	}
	if len(args) == 0 {
		amp := t.Amplification()
		c.printf("Enabled: %t  Net: %.2f  Balance: %.2f\n", t.Enabled, amp.Net, amp.Balance)
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "on", "off":
		t.Enabled = strings.EqualFold(args[0], "on")
	case "net", "balance":
		if len(args) != 2 {
			return fmt.Errorf("usage: transparency %s <-1..1>", args[0])
		}
		v, err := strconv.ParseFloat(args[1], 32)
		if err != nil {
			return err
		}
		amp := t.Amplification()
		if args[0] == "net" {
			amp.Net = float32(v)
		} else {
			amp.Balance = float32(v)
		}
		t.SetAmplification(amp)
	default:
		return fmt.Errorf("usage: transparency [on|off|net <v>|balance <v>]")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return c.coord.SetTransparency(ctx, t)
}

func (c *console) cmdLoudSoundReduction(ctx context.Context, args []string) error {
	on, err := parseToggle(args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return c.coord.SetLoudSoundReduction(ctx, on)
}

func (c *console) callbacks() aacp.Callbacks {
	return aacp.Callbacks{
		OnBattery: func(info *aacp.BatteryInfo) {
			fmt.Fprint(c.out(), info.String())
		},
		OnEarDetection: func(ed aacp.EarDetection) {
			c.printf("Ear detection: primary=%s secondary=%s\n", ed.Primary, ed.Secondary)
		},
		OnConversationAwareness: func(ca aacp.ConversationAwareness) {
			c.printf("Conversation awareness: level=%d speaking=%t\n", ca.Level, ca.Speaking())
		},
		OnStemPress: func(press aacp.StemPress) {
			c.printf("Stem press: %s on %s\n", press.Type, press.Bud)
		},
		OnProximityKeys: func(keys []aacp.ProximityKey) {
			c.printf("Received %d proximity keys (see 'keys')\n", len(keys))
		},
		OnAudioSource: func(src aacp.AudioSource) {
			c.printf("Audio source: %s (%s)\n", src.MAC, src.Type)
		},
		OnInformation: func(info *aacp.Information) {
			c.printf("Device: %s (%s)\n", info.Name, info.ModelNumber)
		},
		OnControlCommand: func(cmd aacp.ControlCommand) {
			c.printf("Control: %s\n", cmd)
		},
		OnConnectedDevices: func(old, current []aacp.ConnectedDevice) {
			c.printf("Connected devices: %d -> %d\n", len(old), len(current))
		},
		OnOwnershipChanged: func(owns bool) {
			c.printf("Owns connection: %t\n", owns)
		},
		OnRelinquishOwnership: func(sig aacp.RoutingSignal) {
			c.printf("%s (%s) took the audio route\n", sig.Sender, sig.DeviceType)
		},
		OnShowNearbyUI: func(sig aacp.RoutingSignal) {
			c.printf("%s (%s) offers to move audio here, 'takeover %s' to accept\n", sig.Sender, sig.DeviceType, sig.Sender)
		},
		OnUnknown: func(op aacp.Opcode, packet []byte) {
			c.printf("Unhandled %s: %s\n", op, aacp.DumpPacket(packet))
		},
	}
}
