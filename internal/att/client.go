// Package att implements the small subset of the Attribute Protocol the
// AirPods use to expose hearing related characteristics (transparency
// customisation, loud sound reduction, hearing aid) over a BR/EDR L2CAP
// channel on PSM 0x001F.
//
// The client supports three operations: Read, Write and notifications.
// Requests carry no identifier, so responses are matched positionally: the
// next non-notification PDU that arrives answers the request that is in
// flight. At most one request may be outstanding per connection. Callers
// that share a Client between goroutines must serialize themselves or
// construct it WithRequestLock; otherwise two concurrent requests can be
// handed each other's responses.
//
// A single reader goroutine owns the connection's read side. Notifications
// are dispatched on that goroutine, so listeners must return quickly.
package att

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"podlink/internal/l2cap"
)

// DefaultTimeout bounds how long Read and Write wait for a response.
const DefaultTimeout = 2 * time.Second

const (
	maxPDUSize     = 1024
	responseBuffer = 16
)

var (
	// ErrTimeout is returned when no response arrived in time. For writes the
	// peer may still have applied the value.
	ErrTimeout = errors.New("att: response timeout")

	// ErrClosed is returned once the connection's reader has stopped. It
	// always wraps io.EOF.
	ErrClosed = errors.New("att: connection closed")
)

// NotificationListener receives the value of a Handle Value Notification.
type NotificationListener func(handle Handle, value []byte)

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRequestLock makes Read and Write hold a lock for the whole
// request/response exchange so concurrent callers cannot steal each other's
// responses.
func WithRequestLock() Option {
	return func(c *Client) {
		c.serialize = true
	}
}

// WithLogger sets the logger used for dropped PDUs and listener failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTap observes every PDU written or read, in order. The tap must not
// retain the slice.
func WithTap(tap func(outbound bool, pdu []byte)) Option {
	return func(c *Client) {
		c.tap = tap
	}
}

// Client is an ATT client bound to one connection.
type Client struct {
	conn      io.ReadWriteCloser
	timeout   time.Duration
	serialize bool
	logger    *zap.Logger
	tap       func(outbound bool, pdu []byte)

	reqMu   sync.Mutex // held for a full exchange when serialize is set
	writeMu sync.Mutex

	mu        sync.RWMutex
	listeners map[Handle][]NotificationListener

	responses chan []byte
	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// Dial opens the AirPods' ATT channel and starts a client on it.
func Dial(macAddr string, opts ...Option) (*Client, error) {
	conn, err := l2cap.Dial(macAddr, PSM)
	if err != nil {
		return nil, fmt.Errorf("failed to open ATT channel: %w", err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient starts a client on an already open connection. Every Read on
// conn must return exactly one PDU, which holds for L2CAP seqpacket sockets.
func NewClient(conn io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		conn:      conn,
		timeout:   DefaultTimeout,
		logger:    zap.L(),
		listeners: make(map[Handle][]NotificationListener),
		responses: make(chan []byte, responseBuffer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()

	return c
}

// Subscribe registers a listener for notifications on handle. Listeners for
// the same handle are invoked in registration order.
func (c *Client) Subscribe(handle Handle, listener NotificationListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[handle] = append(c.listeners[handle], listener)
}

// Unsubscribe drops every listener registered for handle.
func (c *Client) Unsubscribe(handle Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, handle)
}

// Read reads the value of handle.
func (c *Client) Read(ctx context.Context, handle Handle) ([]byte, error) {
	return c.roundTrip(ctx, &Request{Opcode: OpcodeReadRequest, Handle: handle})
}

// Write writes value to handle and waits for the write response.
func (c *Client) Write(ctx context.Context, handle Handle, value []byte) error {
	_, err := c.roundTrip(ctx, &Request{Opcode: OpcodeWriteRequest, Handle: handle, Payload: value})
	return err
}

// EnableNotifications writes the enable value to the configuration
// descriptor that belongs to handle.
func (c *Client) EnableNotifications(ctx context.Context, handle Handle) error {
	return c.Write(ctx, handle.Descriptor(), notificationsEnabled)
}

// Done is closed when the reader goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the reader once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Close closes the connection. Pending requests return ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) roundTrip(ctx context.Context, req *Request) ([]byte, error) {
	if c.serialize {
		c.reqMu.Lock()
		defer c.reqMu.Unlock()
	}

	if err := c.send(req.Marshal()); err != nil {
		return nil, fmt.Errorf("att: send %s: %w", req.Opcode, err)
	}
	return c.awaitResponse(ctx)
}

func (c *Client) send(pdu []byte) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.conn.Write(pdu)
	if err != nil {
		return err
	}
	if n != len(pdu) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(pdu))
	}
	if c.tap != nil {
		c.tap(true, pdu)
	}
	return nil
}

// awaitResponse takes the next queued response. The response opcode is
// stripped; an Error Response is turned into *Error.
func (c *Client) awaitResponse(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case pdu := <-c.responses:
		if Opcode(pdu[0]) == OpcodeErrorResponse {
			attErr, err := parseErrorResponse(pdu)
			if err != nil {
				return nil, fmt.Errorf("att: malformed error response: %w", err)
			}
			return nil, attErr
		}
		return pdu[1:], nil
	case <-c.done:
		return nil, c.closedErr()
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) closedErr() error {
	return fmt.Errorf("%w: %w", ErrClosed, io.EOF)
}

func (c *Client) readLoop() {
	defer close(c.done)

	buf := make([]byte, maxPDUSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.readErr = err
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.logger.Debug("att reader stopped", zap.Error(err))
			}
			return
		}
		if n == 0 {
			continue
		}

		pdu := make([]byte, n)
		copy(pdu, buf[:n])
		c.logger.Debug("att received", zap.Binary("pdu", pdu))
		if c.tap != nil {
			c.tap(false, pdu)
		}

		if Opcode(pdu[0]) == OpcodeHandleValueNotification {
			c.dispatch(pdu)
			continue
		}

		select {
		case c.responses <- pdu:
		default:
			c.logger.Warn("att response queue full, dropping PDU",
				zap.Stringer("opcode", Opcode(pdu[0])))
		}
	}
}

func (c *Client) dispatch(pdu []byte) {
	var n Notification
	if err := n.Unmarshal(pdu); err != nil {
		c.logger.Warn("att malformed notification", zap.Binary("pdu", pdu), zap.Error(err))
		return
	}

	c.mu.RLock()
	listeners := make([]NotificationListener, len(c.listeners[n.Handle]))
	copy(listeners, c.listeners[n.Handle])
	c.mu.RUnlock()

	for _, listener := range listeners {
		c.invoke(listener, n)
	}
}

func (c *Client) invoke(listener NotificationListener, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("att notification listener failed",
				zap.Stringer("handle", n.Handle), zap.Any("panic", r))
		}
	}()
	listener(n.Handle, n.Value)
}
