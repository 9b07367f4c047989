package l2cap

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// seqpacketPair returns a Conn backed by one end of a unix seqpacket pair,
// which keeps packet boundaries like L2CAP does.
func seqpacketPair(t *testing.T) (*Conn, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })

	c := &Conn{fd: fds[0], addr: "AA:BB:CC:DD:EE:FF", psm: 0x1001, closed: make(chan struct{})}
	t.Cleanup(func() { _ = c.Close() })
	return c, fds[1]
}

func TestDialRejectsBadAddress(t *testing.T) {
	for _, addr := range []string{"", "AA:BB:CC", "not a mac"} {
		_, err := Dial(addr, 0x1001)
		assert.Error(t, err, addr)
	}
}

func TestConnKeepsPacketBoundaries(t *testing.T) {
	c, peer := seqpacketPair(t)

	_, err := unix.Write(peer, []byte{0x04, 0x00, 0x04, 0x00})
	require.NoError(t, err)
	_, err = unix.Write(peer, []byte{0x06, 0x00})
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x00, 0x04, 0x00}, buf[:n])

	n, err = c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06, 0x00}, buf[:n])

	_, err = c.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	n, err = unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf[:n])
}

func TestConnClose(t *testing.T) {
	c, _ := seqpacketPair(t)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", c.RemoteAddr())
	assert.Equal(t, uint16(0x1001), c.PSM())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")

	_, err := c.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
	_, err = c.Write([]byte{0x01})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
