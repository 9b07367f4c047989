package aacp

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Sender is the transport a Session writes packets to.
type Sender interface {
	Send(packet []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(packet []byte) error

func (f SenderFunc) Send(packet []byte) error { return f(packet) }

// ControlListener observes accepted updates for one control command.
type ControlListener func(cmd ControlCommand)

// Callbacks are invoked after the session state has been updated, outside
// the session lock. They must not modify the values they are handed. Nil
// callbacks are skipped.
type Callbacks struct {
	OnBattery               func(info *BatteryInfo)
	OnEarDetection          func(ed EarDetection)
	OnConversationAwareness func(ca ConversationAwareness)
	OnHeadTracking          func(ht *HeadTracking)
	OnStemPress             func(press StemPress)
	OnProximityKeys         func(keys []ProximityKey)
	OnAudioSource           func(src AudioSource)
	OnEQ                    func(eq EQState)
	OnInformation           func(info *Information)
	OnControlCommand        func(cmd ControlCommand)
	OnSmartRouting          func(sig RoutingSignal)
	OnUnknown               func(op Opcode, packet []byte)

	// OnConnectedDevices fires on every device list refresh with the
	// previous and the new snapshot.
	OnConnectedDevices func(old, current []ConnectedDevice)
	// OnOwnershipChanged fires whenever an OwnsConnection update is
	// accepted.
	OnOwnershipChanged func(owns bool)
	// OnRelinquishOwnership fires when another host asks us to give up
	// audio ownership.
	OnRelinquishOwnership func(sig RoutingSignal)
	// OnShowNearbyUI fires when another host asks us to show the "move
	// audio here" banner.
	OnShowNearbyUI func(sig RoutingSignal)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCallbacks sets the session's event callbacks.
func WithCallbacks(cb Callbacks) SessionOption {
	return func(s *Session) {
		s.cb = cb
	}
}

// WithSessionLogger overrides the global zap logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is the AACP state machine of one connection. It owns the control
// command table, the connected device list, the audio source and the EQ
// state. Receive and every send method may be called from any goroutine.
type Session struct {
	logger *zap.Logger
	cb     Callbacks

	mu               sync.RWMutex
	sender           Sender
	controls         map[ControlCommandID]ControlCommand
	controlListeners map[ControlCommandID][]ControlListener
	ownsConnection   bool
	devices          []ConnectedDevice
	oldDevices       []ConnectedDevice
	audioSource      *AudioSource
	eq               *EQState
	info             *Information
	keys             ProximityKeySet
	battery          *BatteryInfo
	earDetection     *EarDetection
}

// NewSession creates a session writing to sender. sender may be nil and
// attached later with SetSender.
func NewSession(sender Sender, opts ...SessionOption) *Session {
	s := &Session{
		logger:           zap.L(),
		sender:           sender,
		controls:         make(map[ControlCommandID]ControlCommand),
		controlListeners: make(map[ControlCommandID][]ControlListener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSender attaches or replaces the transport.
func (s *Session) SetSender(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// AddControlListener registers listener for updates of id. Listeners of one
// id run in registration order.
func (s *Session) AddControlListener(id ControlCommandID, listener ControlListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlListeners[id] = append(s.controlListeners[id], listener)
}

// Disconnect drops the transport and clears everything learned from the
// connection. Listeners stay registered.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sender = nil
	clear(s.controls)
	s.ownsConnection = false
	s.devices = nil
	s.oldDevices = nil
	s.audioSource = nil
	s.eq = nil
	s.info = nil
	s.keys = nil
	s.battery = nil
	s.earDetection = nil
}

// Receive decodes one inbound packet, updates the session state and fires
// the matching callbacks. Malformed packets are logged and dropped.
func (s *Session) Receive(packet []byte) {
	if !HasHeader(packet) {
		s.logger.Warn("aacp dropping packet without session header", zap.Binary("packet", packet))
		return
	}

	op := Opcode(packet[4])
	s.logger.Debug("aacp received", zap.Stringer("opcode", op), zap.Binary("packet", packet))

	var err error
	switch op {
	case OpcodeBattery:
		err = s.receiveBattery(packet)
	case OpcodeEarDetection:
		err = s.receiveEarDetection(packet)
	case OpcodeControlCommand:
		err = s.receiveControlCommand(packet)
	case OpcodeConversationAwareness:
		err = s.receiveConversationAwareness(packet)
	case OpcodeHeadTracking:
		err = s.receiveHeadTracking(packet)
	case OpcodeStemPress:
		err = s.receiveStemPress(packet)
	case OpcodeProximityKeysResponse:
		err = s.receiveProximityKeys(packet)
	case OpcodeConnectedDevices:
		err = s.receiveConnectedDevices(packet)
	case OpcodeAudioSource:
		err = s.receiveAudioSource(packet)
	case OpcodeEQ:
		err = s.receiveEQ(packet)
	case OpcodeInformation:
		err = s.receiveInformation(packet)
	case OpcodeSmartRouting, OpcodeSmartRoutingResponse:
		err = s.receiveSmartRouting(packet)
	default:
		if s.cb.OnUnknown != nil {
			s.cb.OnUnknown(op, packet)
		}
	}

	if err != nil {
		s.logger.Warn("aacp dropping malformed packet",
			zap.Stringer("opcode", op), zap.Int("len", len(packet)), zap.Error(err))
	}
}

func (s *Session) receiveBattery(packet []byte) error {
	info, err := ParseBattery(packet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.battery = info
	s.mu.Unlock()

	if s.cb.OnBattery != nil {
		s.cb.OnBattery(info)
	}
	return nil
}

func (s *Session) receiveEarDetection(packet []byte) error {
	ed, err := ParseEarDetection(packet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.earDetection = &ed
	s.mu.Unlock()

	if s.cb.OnEarDetection != nil {
		s.cb.OnEarDetection(ed)
	}
	return nil
}

func (s *Session) receiveControlCommand(packet []byte) error {
	cmd, err := ParseControlCommand(packet)
	if err != nil {
		return err
	}
	if !cmd.ID.Known() {
		s.logger.Debug("aacp ignoring unknown control command", zap.Uint8("id", uint8(cmd.ID)))
		return nil
	}
	s.applyControlCommand(cmd)
	return nil
}

func (s *Session) receiveConversationAwareness(packet []byte) error {
	ca, err := ParseConversationAwareness(packet)
	if err != nil {
		return err
	}
	if s.cb.OnConversationAwareness != nil {
		s.cb.OnConversationAwareness(ca)
	}
	return nil
}

func (s *Session) receiveHeadTracking(packet []byte) error {
	if len(packet) < HeadTrackingMinSize {
		s.logger.Warn("aacp head tracking packet too short", zap.Int("len", len(packet)))
		return nil
	}
	ht, err := ParseHeadTracking(packet)
	if err != nil {
		return err
	}
	if s.cb.OnHeadTracking != nil {
		s.cb.OnHeadTracking(ht)
	}
	return nil
}

func (s *Session) receiveStemPress(packet []byte) error {
	press, err := ParseStemPress(packet)
	if err != nil {
		return err
	}
	if s.cb.OnStemPress != nil {
		s.cb.OnStemPress(press)
	}
	return nil
}

func (s *Session) receiveProximityKeys(packet []byte) error {
	keys, err := ParseProximityKeys(packet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.keys = KeySet(keys)
	s.mu.Unlock()

	if s.cb.OnProximityKeys != nil {
		s.cb.OnProximityKeys(keys)
	}
	return nil
}

func (s *Session) receiveConnectedDevices(packet []byte) error {
	devices, err := ParseConnectedDevices(packet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for i := range devices {
		for _, prev := range s.devices {
			if prev.MAC == devices[i].MAC {
				devices[i].Type = prev.Type
				break
			}
		}
	}
	s.oldDevices = s.devices
	s.devices = devices
	old, current := slices.Clone(s.oldDevices), slices.Clone(s.devices)
	s.mu.Unlock()

	if s.cb.OnConnectedDevices != nil {
		s.cb.OnConnectedDevices(old, current)
	}
	return nil
}

func (s *Session) receiveAudioSource(packet []byte) error {
	src, err := ParseAudioSource(packet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.audioSource = &src
	s.mu.Unlock()

	if s.cb.OnAudioSource != nil {
		s.cb.OnAudioSource(src)
	}
	return nil
}

func (s *Session) receiveEQ(packet []byte) error {
	eq, err := ParseEQ(packet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.eq = &eq
	s.mu.Unlock()

	if s.cb.OnEQ != nil {
		s.cb.OnEQ(eq)
	}
	return nil
}

func (s *Session) receiveInformation(packet []byte) error {
	info, err := ParseInformation(packet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.info = info
	s.mu.Unlock()

	if s.cb.OnInformation != nil {
		copied := *info
		s.cb.OnInformation(&copied)
	}
	return nil
}

func (s *Session) receiveSmartRouting(packet []byte) error {
	sig, err := ParseSmartRouting(packet)
	if err != nil {
		return err
	}

	if sig.DeviceType != DeviceTypeUnknown {
		s.learnDeviceType(sig.Sender, sig.DeviceType)
	}

	if s.cb.OnSmartRouting != nil {
		s.cb.OnSmartRouting(sig)
	}
	if sig.Relinquish && s.cb.OnRelinquishOwnership != nil {
		s.cb.OnRelinquishOwnership(sig)
	}
	if sig.ShowNearbyUI && s.cb.OnShowNearbyUI != nil {
		s.cb.OnShowNearbyUI(sig)
	}
	return nil
}

// learnDeviceType labels a tracked device. An existing label is kept.
func (s *Session) learnDeviceType(mac string, typ DeviceType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.devices {
		if s.devices[i].MAC == mac && s.devices[i].Type == DeviceTypeUnknown {
			s.devices[i].Type = typ
			s.logger.Debug("aacp learned device type",
				zap.String("mac", mac), zap.Stringer("type", typ))
		}
	}
}

// applyControlCommand is the single update rule for the control command
// table, shared by sends and receives.
func (s *Session) applyControlCommand(cmd ControlCommand) {
	s.mu.Lock()
	s.controls[cmd.ID] = cmd
	ownershipChanged := cmd.ID == ControlOwnsConnection
	owns := s.ownsConnection
	if ownershipChanged {
		owns = cmd.Value[0] == 0x01
		s.ownsConnection = owns
	}
	listeners := slices.Clone(s.controlListeners[cmd.ID])
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(ControlCommand{ID: cmd.ID, Value: slices.Clone(cmd.Value)})
	}
	if s.cb.OnControlCommand != nil {
		s.cb.OnControlCommand(cmd)
	}
	if ownershipChanged && s.cb.OnOwnershipChanged != nil {
		s.cb.OnOwnershipChanged(owns)
	}
}

// ControlCommand returns the last accepted value for id.
func (s *Session) ControlCommand(id ControlCommandID) (ControlCommand, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.controls[id]
	if !ok {
		return ControlCommand{}, false
	}
	return ControlCommand{ID: cmd.ID, Value: slices.Clone(cmd.Value)}, true
}

// ControlCommands returns the whole table ordered by identifier.
func (s *Session) ControlCommands() []ControlCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ControlCommand, 0, len(s.controls))
	for _, cmd := range s.controls {
		out = append(out, ControlCommand{ID: cmd.ID, Value: slices.Clone(cmd.Value)})
	}
	slices.SortFunc(out, func(a, b ControlCommand) int { return int(a.ID) - int(b.ID) })
	return out
}

// ListeningMode returns the current noise control mode, if known.
func (s *Session) ListeningMode() (ListeningMode, bool) {
	cmd, ok := s.ControlCommand(ControlListeningMode)
	if !ok {
		return 0, false
	}
	return ListeningMode(cmd.Value[0]), true
}

// OwnsConnection reports whether this host currently owns the buds.
func (s *Session) OwnsConnection() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownsConnection
}

// ConnectedDevices returns the latest device list.
func (s *Session) ConnectedDevices() []ConnectedDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.devices)
}

// OldConnectedDevices returns the list the latest refresh replaced.
func (s *Session) OldConnectedDevices() []ConnectedDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.oldDevices)
}

// AudioSource returns the latest audio source.
func (s *Session) AudioSource() (AudioSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.audioSource == nil {
		return AudioSource{}, false
	}
	return *s.audioSource, true
}

// EQ returns the latest equalizer state.
func (s *Session) EQ() (EQState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.eq == nil {
		return EQState{}, false
	}
	return *s.eq, true
}

// Information returns a copy of the device information table.
func (s *Session) Information() (Information, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return Information{}, false
	}
	return *s.info, true
}

// ProximityKeys returns the keys received on this connection.
func (s *Session) ProximityKeys() ProximityKeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(ProximityKeySet, len(s.keys))
	for k, v := range s.keys {
		out[k] = slices.Clone(v)
	}
	return out
}

// Battery returns the latest battery report.
func (s *Session) Battery() (*BatteryInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.battery, s.battery != nil
}

// EarDetection returns the latest bud placement.
func (s *Session) EarDetection() (EarDetection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.earDetection == nil {
		return EarDetection{}, false
	}
	return *s.earDetection, true
}

func (s *Session) send(kind string, packet []byte) error {
	s.mu.RLock()
	sender := s.sender
	s.mu.RUnlock()

	if sender == nil {
		return fmt.Errorf("failed to send %s: %w", kind, ErrNotConnected)
	}
	s.logger.Debug("aacp sending", zap.String("kind", kind), zap.Binary("packet", packet))
	if err := sender.Send(packet); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	return nil
}

// SendHandshake opens the AACP session.
func (s *Session) SendHandshake() error {
	return s.send("handshake", packetHandshake)
}

// RequestNotifications subscribes to battery, ear detection and every other
// notification class.
func (s *Session) RequestNotifications() error {
	return s.send("notification request", packetRequestNotifications)
}

// SetFeatureFlags enables conversation awareness and adaptive transparency.
func (s *Session) SetFeatureFlags() error {
	return s.send("feature flags", packetSetFeatureFlags)
}

// RequestProximityKeys asks for the IRK and ENC_KEY. The answer arrives as
// an OpcodeProximityKeysResponse packet.
func (s *Session) RequestProximityKeys() error {
	return s.send("key request", packetProximityKeysRequest)
}

// SendControlCommand applies the command locally, then writes it. The
// local update happens even if the write fails; the error reports only
// transport failure or an invalid value.
func (s *Session) SendControlCommand(id ControlCommandID, value ...byte) error {
	if !id.Known() {
		return fmt.Errorf("unknown control command %s", id)
	}
	packet, err := EncodeControlCommand(id, value)
	if err != nil {
		return err
	}
	cmd, err := ParseControlCommand(packet)
	if err != nil {
		return err
	}

	s.applyControlCommand(cmd)
	return s.send("control command "+id.String(), packet)
}

// SetListeningMode switches noise control.
func (s *Session) SetListeningMode(mode ListeningMode) error {
	return s.SendControlCommand(ControlListeningMode, byte(mode))
}

// SetConversationAwareness toggles lowering media while the wearer speaks.
func (s *Session) SetConversationAwareness(on bool) error {
	return s.SendControlCommand(ControlConversationDetectConfig, toggle(on))
}

// SetPersonalizedVolume toggles adaptive volume.
func (s *Session) SetPersonalizedVolume(on bool) error {
	return s.SendControlCommand(ControlAdaptiveVolumeConfig, toggle(on))
}

// SetOneBudANC allows noise cancellation with a single bud in.
func (s *Session) SetOneBudANC(on bool) error {
	return s.SendControlCommand(ControlOneBudANCMode, toggle(on))
}

// SetEarDetection toggles automatic ear detection.
func (s *Session) SetEarDetection(on bool) error {
	return s.SendControlCommand(ControlEarDetectionConfig, toggle(on))
}

// SetOwnsConnection claims or releases audio ownership.
func (s *Session) SetOwnsConnection(owns bool) error {
	var v byte
	if owns {
		v = 0x01
	}
	return s.SendControlCommand(ControlOwnsConnection, v)
}

// Rename changes the name the buds advertise.
func (s *Session) Rename(name string) error {
	packet, err := EncodeRename(name)
	if err != nil {
		return err
	}
	return s.send("rename", packet)
}

// SendHijackRequest asks target to hand audio over to this host.
func (s *Session) SendHijackRequest(target string) error {
	packet, err := EncodeHijackRequest(target)
	if err != nil {
		return err
	}
	return s.send("hijack request", packet)
}

// SendTakeoverRequest is sent when the user accepts the nearby banner.
func (s *Session) SendTakeoverRequest(target string) error {
	packet, err := EncodeTakeoverRequest(target)
	if err != nil {
		return err
	}
	return s.send("takeover request", packet)
}

// SendMediaInformationNewDevice introduces this host to target.
func (s *Session) SendMediaInformationNewDevice(self, target, name string) error {
	packet, err := EncodeMediaInformationNewDevice(self, target, name)
	if err != nil {
		return err
	}
	return s.send("media information", packet)
}

// SendMediaInformation reports local playback state to target.
func (s *Session) SendMediaInformation(self, target string, streaming bool, appID string) error {
	packet, err := EncodeMediaInformation(self, target, streaming, appID)
	if err != nil {
		return err
	}
	return s.send("media information", packet)
}
