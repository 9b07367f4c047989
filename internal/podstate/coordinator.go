// Package podstate provides centralized AirPods state management.
//
// Coordinator handles:
//   - the AACP connection and its Session (accurate battery, ear detection,
//     proximity keys, control commands)
//   - the optional ATT connection for the hearing characteristics
//   - BLE advertisements for battery data while AACP is not connected
//   - notifying consumers of state updates via callbacks
//
// AACP data wins whenever a connection is up; BLE updates are ignored until
// it goes away.
package podstate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"podlink/internal/aacp"
	"podlink/internal/att"
	"podlink/internal/ble"
	"podlink/internal/capture"
	"podlink/internal/hearing"
	"podlink/internal/l2cap"
	"podlink/internal/rpa"
)

// UpdateCallback is called when the AirPods state changes.
type UpdateCallback func(PodState)

// Dialer opens an L2CAP channel to mac on psm.
type Dialer func(mac string, psm uint16) (io.ReadWriteCloser, error)

func dialL2CAP(mac string, psm uint16) (io.ReadWriteCloser, error) {
	return l2cap.Dial(mac, psm)
}

// AdvertisementScanner is the part of ble.Scanner the coordinator uses.
type AdvertisementScanner interface {
	Scan(ctx context.Context, handler func(ble.Advertisement)) error
	SetKeys(keys ble.Keys)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDialer replaces the L2CAP dialer.
func WithDialer(d Dialer) Option {
	return func(c *Coordinator) {
		c.dial = d
	}
}

// WithScanner enables BLE scanning through RunScanner.
func WithScanner(s AdvertisementScanner) Option {
	return func(c *Coordinator) {
		c.scanner = s
	}
}

// WithRecorder records every AACP and ATT packet.
func WithRecorder(r *capture.Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithATT opens the ATT channel alongside AACP.
func WithATT(opts ...att.Option) Option {
	return func(c *Coordinator) {
		c.useATT = true
		c.attOpts = opts
	}
}

// WithSessionCallbacks forwards session events to the host. The
// coordinator's own handling runs first.
func WithSessionCallbacks(cb aacp.Callbacks) Option {
	return func(c *Coordinator) {
		c.hostCallbacks = cb
	}
}

// WithLogger overrides the global zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator manages complete AirPods state and coordinates updates.
type Coordinator struct {
	dial          Dialer
	scanner       AdvertisementScanner
	recorder      *capture.Recorder
	useATT        bool
	attOpts       []att.Option
	hostCallbacks aacp.Callbacks
	logger        *zap.Logger
	settle        time.Duration

	session *aacp.Session

	mu        sync.RWMutex
	callbacks []UpdateCallback
	state     *PodState
	primary   PodSide
	client    *aacp.Client
	attClient *att.Client
	done      chan struct{}
	cancel    context.CancelFunc

	transparency       *hearing.Transparency
	hearingAid         *hearing.HearingAid
	loudSoundReduction *bool
}

// NewCoordinator creates a coordinator. Nothing is connected until Connect.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		dial:   dialL2CAP,
		logger: zap.L(),
		settle: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = aacp.NewSession(nil, aacp.WithCallbacks(c.sessionCallbacks()), aacp.WithSessionLogger(c.logger))
	return c
}

// sessionCallbacks chains the coordinator's handlers in front of the
// host's.
func (c *Coordinator) sessionCallbacks() aacp.Callbacks {
	cb := c.hostCallbacks
	host := c.hostCallbacks

	cb.OnBattery = func(info *aacp.BatteryInfo) {
		c.refreshFromSession()
		if host.OnBattery != nil {
			host.OnBattery(info)
		}
	}
	cb.OnEarDetection = func(ed aacp.EarDetection) {
		c.refreshFromSession()
		if host.OnEarDetection != nil {
			host.OnEarDetection(ed)
		}
	}
	cb.OnProximityKeys = func(keys []aacp.ProximityKey) {
		c.installKeys(keys)
		if host.OnProximityKeys != nil {
			host.OnProximityKeys(keys)
		}
	}
	cb.OnRelinquishOwnership = func(sig aacp.RoutingSignal) {
		c.logger.Info("another host took the audio route",
			zap.String("sender", sig.Sender),
			zap.Stringer("type", sig.DeviceType))
		if host.OnRelinquishOwnership != nil {
			host.OnRelinquishOwnership(sig)
		}
	}
	return cb
}

// Session returns the AACP session. It stays valid across reconnects.
func (c *Coordinator) Session() *aacp.Session {
	return c.session
}

// RegisterCallback registers a callback to be notified of state updates. A
// cached state is delivered immediately.
func (c *Coordinator) RegisterCallback(cb UpdateCallback) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, cb)
	var cached *PodState
	if c.state != nil {
		st := *c.state
		cached = &st
	}
	c.mu.Unlock()

	if cached != nil {
		cb(*cached)
	}
}

// State returns the most recent state.
func (c *Coordinator) State() (PodState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return PodState{}, false
	}
	return *c.state, true
}

// Connected reports whether an AACP connection is up.
func (c *Coordinator) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// publish stores st and notifies all callbacks outside the lock.
func (c *Coordinator) publish(st PodState) {
	c.mu.Lock()
	c.state = &st
	callbacks := make([]UpdateCallback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb(st)
	}
}

func (c *Coordinator) refreshFromSession() {
	info, _ := c.session.Battery()
	var ear *aacp.EarDetection
	if ed, ok := c.session.EarDetection(); ok {
		ear = &ed
	}

	c.mu.RLock()
	primary := c.primary
	c.mu.RUnlock()

	c.publish(FromAACP(info, ear, primary))
}

func (c *Coordinator) installKeys(keys []aacp.ProximityKey) {
	if c.scanner == nil {
		return
	}
	var bk ble.Keys
	if raw := aacp.FindIRK(keys); raw != nil {
		irk, err := rpa.KeyFromBytes(raw)
		if err != nil {
			c.logger.Warn("ignoring IRK", zap.Error(err))
		} else {
			bk.IRK = &irk
		}
	}
	bk.EncryptionKey = aacp.FindEncryptionKey(keys)
	c.scanner.SetKeys(bk)
	c.logger.Info("proximity keys installed",
		zap.Bool("irk", bk.IRK != nil),
		zap.Bool("enc_key", bk.EncryptionKey != nil))
}

// Connect opens the AACP channel to mac, runs the setup exchange and starts
// reading. An existing connection is closed first. ATT failures are logged
// and leave AACP running.
func (c *Coordinator) Connect(ctx context.Context, mac string) error {
	c.Disconnect()

	conn, err := c.dial(mac, aacp.PSM)
	if err != nil {
		return fmt.Errorf("failed to open AACP channel: %w", err)
	}
	client := aacp.NewClient(conn, mac)
	if c.recorder != nil {
		client.SetTap(c.recorder.Connection(capture.ProtocolAACP, mac).Packet)
	}
	c.session.SetSender(client)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.client = client
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.readLoop(runCtx, client, done)

	if err := c.setup(ctx); err != nil {
		c.Disconnect()
		return err
	}

	c.logger.Info("AACP connected", zap.String("mac", mac))

	if c.useATT {
		if err := c.connectATT(ctx, mac); err != nil {
			c.logger.Warn("ATT unavailable", zap.String("mac", mac), zap.Error(err))
		}
	}
	return nil
}

func (c *Coordinator) setup(ctx context.Context) error {
	if err := c.session.SendHandshake(); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	steps := []struct {
		name string
		send func() error
	}{
		{"set feature flags", c.session.SetFeatureFlags},
		{"request notifications", c.session.RequestNotifications},
		{"request proximity keys", c.session.RequestProximityKeys},
	}
	for _, step := range steps {
		if err := step.send(); err != nil {
			return fmt.Errorf("failed to %s: %w", step.name, err)
		}
	}
	return nil
}

func (c *Coordinator) readLoop(ctx context.Context, client *aacp.Client, done chan struct{}) {
	defer close(done)

	err := client.Run(ctx, c.session)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("AACP connection lost", zap.String("mac", client.Addr()), zap.Error(err))
	}
	c.teardown(client)
}

// teardown releases everything tied to client if it is still current.
func (c *Coordinator) teardown(client *aacp.Client) {
	c.mu.Lock()
	if c.client != client {
		c.mu.Unlock()
		return
	}
	c.client = nil
	attClient := c.attClient
	c.attClient = nil
	c.transparency = nil
	c.hearingAid = nil
	c.loudSoundReduction = nil
	c.mu.Unlock()

	c.session.Disconnect()
	_ = client.Close()
	if attClient != nil {
		_ = attClient.Close()
	}
	c.logger.Info("AACP disconnected, BLE updates resume", zap.String("mac", client.Addr()))
}

// Disconnect closes the current connection, if any, and waits for the read
// loop to finish.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current connection's read loop ends. It is nil
// when nothing is connected.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// RunScanner feeds BLE advertisements into the state until ctx is done.
// Advertisements are ignored while AACP is connected.
func (c *Coordinator) RunScanner(ctx context.Context) error {
	if c.scanner == nil {
		return errors.New("podstate: no BLE scanner configured")
	}
	return c.scanner.Scan(ctx, c.handleAdvertisement)
}

func (c *Coordinator) handleAdvertisement(adv ble.Advertisement) {
	st := FromAdvertisement(adv.Data)

	c.mu.Lock()
	c.primary = st.PrimaryPod
	connected := c.client != nil
	c.mu.Unlock()

	if connected {
		return
	}
	c.publish(st)
}

// Close disconnects and stops all activity.
func (c *Coordinator) Close() error {
	c.Disconnect()
	return nil
}
