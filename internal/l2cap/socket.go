// Package l2cap opens connection-oriented L2CAP channels to an already
// paired BR/EDR device.
//
// Both AirPods protocols ride on SOCK_SEQPACKET sockets, so every Read
// returns exactly one protocol packet and every Write sends one.
//
//   - AACP: PSM 0x1001 (4097)
//   - ATT:  PSM 0x001F (31)
package l2cap

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"podlink/internal/rpa"
)

// bdaddrBREDR selects a BR/EDR (classic) peer address.
const bdaddrBREDR = 0x00

// Conn is an open L2CAP seqpacket channel.
type Conn struct {
	fd   int
	addr string
	psm  uint16

	closeOnce sync.Once
	closed    chan struct{}
	wmu       sync.Mutex
}

// Dial connects to PSM psm on the device with the given MAC address
// ("XX:XX:XX:XX:XX:XX").
func Dial(macAddr string, psm uint16) (*Conn, error) {
	bdaddr, err := rpa.ParseAddress(macAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid MAC address: %w", err)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("failed to create L2CAP socket: %w", err)
	}

	// SockaddrL2 reverses Addr into the kernel's little-endian bdaddr_t.
	sa := &unix.SockaddrL2{
		PSM:      psm,
		Addr:     bdaddr,
		AddrType: bdaddrBREDR,
	}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to %s on PSM 0x%04X: %w", macAddr, psm, err)
	}

	zap.L().Debug("l2cap connected", zap.String("mac", macAddr), zap.Uint16("psm", psm))

	return &Conn{
		fd:     fd,
		addr:   macAddr,
		psm:    psm,
		closed: make(chan struct{}),
	}, nil
}

// RemoteAddr returns the peer's MAC address.
func (c *Conn) RemoteAddr() string {
	return c.addr
}

// PSM returns the channel's protocol/service multiplexer.
func (c *Conn) PSM() uint16 {
	return c.psm
}

// Read reads one packet. A zero length read means the peer hung up.
func (c *Conn) Read(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.EOF
	default:
	}

	n, err := unix.Read(c.fd, p)
	if err != nil {
		select {
		case <-c.closed:
			return 0, io.EOF
		default:
		}
		return 0, fmt.Errorf("failed to read packet: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write sends one packet.
func (c *Conn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	n, err := unix.Write(c.fd, p)
	if err != nil {
		return n, fmt.Errorf("failed to write packet: %w", err)
	}
	return n, nil
}

// Close shuts the socket down, which also unblocks a pending Read.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
		err = unix.Close(c.fd)
	})
	return err
}
