package aacp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"podlink/internal/l2cap"
)

// maxPacketSize is larger than any packet the buds send.
const maxPacketSize = 1024

// Tap observes every packet that crosses the connection, e.g. to record a
// capture. It runs on the sending or reading goroutine.
type Tap func(outbound bool, packet []byte)

// Client represents an AACP connection to AirPods
type Client struct {
	conn io.ReadWriteCloser
	addr string

	mu     sync.RWMutex
	tap    Tap
	closed bool
}

// Dial opens an L2CAP connection to the AirPods on the AACP PSM.
func Dial(macAddr string) (*Client, error) {
	conn, err := l2cap.Dial(macAddr, PSM)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AirPods: %w", err)
	}
	return NewClient(conn, macAddr), nil
}

// NewClient wraps an open packet connection. Every Read on conn must return
// exactly one packet.
func NewClient(conn io.ReadWriteCloser, macAddr string) *Client {
	return &Client{conn: conn, addr: macAddr}
}

// Addr returns the AirPods' MAC address.
func (c *Client) Addr() string {
	return c.addr
}

// SetTap installs a packet observer; nil removes it.
func (c *Client) SetTap(tap Tap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tap = tap
}

func (c *Client) observe(outbound bool, packet []byte) {
	c.mu.RLock()
	tap := c.tap
	c.mu.RUnlock()
	if tap != nil {
		tap(outbound, packet)
	}
}

// Send writes one packet and verifies it was fully written. Client
// satisfies Sender.
func (c *Client) Send(packet []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrNotConnected
	}

	n, err := c.conn.Write(packet)
	if err != nil {
		return err
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(packet))
	}

	c.observe(true, packet)
	return nil
}

// ReadPacket reads a single AACP packet from the AirPods
func (c *Client) ReadPacket() ([]byte, error) {
	buf := make([]byte, maxPacketSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, err
	}

	packet := buf[:n]
	c.observe(false, packet)
	return packet, nil
}

// Run feeds every inbound packet to s until the connection fails or ctx is
// cancelled, which also closes the connection. A peer hangup returns nil.
func (c *Client) Run(ctx context.Context, s *Session) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		packet, err := c.ReadPacket()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				zap.L().Info("aacp connection closed by peer", zap.String("mac", c.addr))
				return nil
			}
			return fmt.Errorf("aacp read: %w", err)
		}
		if len(packet) == 0 {
			continue
		}
		s.Receive(packet)
	}
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}
