package att

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeClient(t *testing.T, opts ...Option) (*Client, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	c := NewClient(local, opts...)
	t.Cleanup(func() {
		_ = peer.Close()
		_ = c.Close()
	})
	return c, peer
}

func readPDU(t *testing.T, peer net.Conn) []byte {
	t.Helper()
	buf := make([]byte, 256)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := peer.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func writePDU(t *testing.T, peer net.Conn, pdu []byte) {
	t.Helper()
	require.NoError(t, peer.SetWriteDeadline(time.Now().Add(time.Second)))
	_, err := peer.Write(pdu)
	require.NoError(t, err)
}

type result struct {
	value []byte
	err   error
}

func TestWriteThenRead(t *testing.T) {
	c, peer := newPipeClient(t)
	ctx := context.Background()

	writeDone := make(chan error, 1)
	go func() {
		writeDone <- c.Write(ctx, HandleTransparency, []byte{0xAA, 0xBB})
	}()

	assert.Equal(t, []byte{0x12, 0x18, 0x00, 0xAA, 0xBB}, readPDU(t, peer))
	writePDU(t, peer, []byte{byte(OpcodeWriteResponse)})
	require.NoError(t, <-writeDone)

	readDone := make(chan result, 1)
	go func() {
		v, err := c.Read(ctx, HandleHearingAid)
		readDone <- result{v, err}
	}()

	assert.Equal(t, []byte{0x0A, 0x2A, 0x00}, readPDU(t, peer))
	writePDU(t, peer, []byte{byte(OpcodeReadResponse), 0x01, 0x02, 0x03})

	r := <-readDone
	require.NoError(t, r.err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, r.value)
}

func TestEnableNotificationsWritesDescriptor(t *testing.T) {
	c, peer := newPipeClient(t)

	done := make(chan error, 1)
	go func() {
		done <- c.EnableNotifications(context.Background(), HandleLoudSoundReduction)
	}()

	assert.Equal(t, []byte{0x12, 0x1C, 0x00, 0x01, 0x00}, readPDU(t, peer))
	writePDU(t, peer, []byte{byte(OpcodeWriteResponse)})
	require.NoError(t, <-done)
}

func TestNotificationsDispatchByHandle(t *testing.T) {
	c, peer := newPipeClient(t)

	var mu sync.Mutex
	var got [][]byte
	received := make(chan struct{}, 4)

	c.Subscribe(HandleHearingAid, func(h Handle, value []byte) {
		panic("listener failure must not reach the reader")
	})
	c.Subscribe(HandleHearingAid, func(h Handle, value []byte) {
		mu.Lock()
		got = append(got, value)
		mu.Unlock()
		received <- struct{}{}
	})
	c.Subscribe(HandleTransparency, func(h Handle, value []byte) {
		t.Errorf("unexpected notification for %s", h)
	})

	writePDU(t, peer, (&Notification{Handle: HandleHearingAid, Value: []byte{0x07}}).Marshal())
	writePDU(t, peer, (&Notification{Handle: HandleHearingAid, Value: []byte{0x08}}).Marshal())

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("notification not delivered")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]byte{{0x07}, {0x08}}, got)
}

func TestNotificationIsNotAResponse(t *testing.T) {
	c, peer := newPipeClient(t)

	done := make(chan result, 1)
	go func() {
		v, err := c.Read(context.Background(), HandleTransparency)
		done <- result{v, err}
	}()

	readPDU(t, peer)
	writePDU(t, peer, (&Notification{Handle: HandleTransparency, Value: []byte{0xFF}}).Marshal())
	writePDU(t, peer, []byte{byte(OpcodeReadResponse), 0x42})

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, []byte{0x42}, r.value)
}

func TestReadTimeout(t *testing.T) {
	c, peer := newPipeClient(t, WithTimeout(50*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := c.Read(context.Background(), HandleTransparency)
		done <- err
	}()

	readPDU(t, peer)
	assert.ErrorIs(t, <-done, ErrTimeout)
}

func TestErrorResponse(t *testing.T) {
	c, peer := newPipeClient(t)

	done := make(chan error, 1)
	go func() {
		done <- c.Write(context.Background(), HandleHearingAid, []byte{0x00})
	}()

	readPDU(t, peer)
	writePDU(t, peer, []byte{0x01, 0x12, 0x2A, 0x00, 0x03})

	err := <-done
	var attErr *Error
	require.True(t, errors.As(err, &attErr))
	assert.Equal(t, OpcodeWriteRequest, attErr.Request)
	assert.Equal(t, HandleHearingAid, attErr.Handle)
	assert.Equal(t, ErrorCode(0x03), attErr.Code)
}

func TestCloseUnblocksPendingRead(t *testing.T) {
	c, peer := newPipeClient(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.Read(context.Background(), HandleTransparency)
		done <- err
	}()

	readPDU(t, peer)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("pending read not released by Close")
	}

	_, err := c.Read(context.Background(), HandleTransparency)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPeerHangupStopsReader(t *testing.T) {
	c, peer := newPipeClient(t)
	require.NoError(t, peer.Close())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
	assert.ErrorIs(t, c.Err(), io.EOF)
}

// Responses are matched by arrival order only. Two callers that do not
// serialize themselves can receive each other's responses.
func TestConcurrentRequestsCanSwapResponses(t *testing.T) {
	c, peer := newPipeClient(t)
	ctx := context.Background()

	first := make(chan result, 1)
	go func() {
		v, err := c.Read(ctx, HandleTransparency)
		first <- result{v, err}
	}()
	assert.Equal(t, []byte{0x0A, 0x18, 0x00}, readPDU(t, peer))
	time.Sleep(20 * time.Millisecond)

	second := make(chan result, 1)
	go func() {
		v, err := c.Read(ctx, HandleHearingAid)
		second <- result{v, err}
	}()
	assert.Equal(t, []byte{0x0A, 0x2A, 0x00}, readPDU(t, peer))
	time.Sleep(20 * time.Millisecond)

	// The peer answers the hearing aid read first.
	writePDU(t, peer, append([]byte{byte(OpcodeReadResponse)}, "hearing-aid"...))
	writePDU(t, peer, append([]byte{byte(OpcodeReadResponse)}, "transparency"...))

	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, "hearing-aid", string(r1.value), "transparency caller got the hearing aid response")
	assert.Equal(t, "transparency", string(r2.value))
}

func TestRequestLockSerializesExchanges(t *testing.T) {
	c, peer := newPipeClient(t, WithRequestLock())
	ctx := context.Background()

	handles := []Handle{HandleTransparency, HandleHearingAid, HandleLoudSoundReduction}
	results := make([]result, len(handles))

	var wg sync.WaitGroup
	for i, h := range handles {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Read(ctx, h)
			results[i] = result{v, err}
		}()
	}

	for range handles {
		var req Request
		require.NoError(t, req.Unmarshal(readPDU(t, peer)))
		writePDU(t, peer, []byte{byte(OpcodeReadResponse), byte(req.Handle)})
	}
	wg.Wait()

	for i, h := range handles {
		require.NoError(t, results[i].err)
		assert.Equal(t, []byte{byte(h)}, results[i].value)
	}
}

func TestRequestMarshal(t *testing.T) {
	req := &Request{Opcode: OpcodeWriteRequest, Handle: 0x1234, Payload: []byte{0x01}}
	assert.Equal(t, []byte{0x12, 0x34, 0x12, 0x01}, req.Marshal())

	var short Request
	assert.ErrorIs(t, short.Unmarshal([]byte{0x0A, 0x18}), io.ErrShortBuffer)
}

func TestTapSeesBothDirections(t *testing.T) {
	var mu sync.Mutex
	seen := map[bool][]byte{}
	c, peer := newPipeClient(t, WithTap(func(outbound bool, pdu []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen[outbound] = append([]byte(nil), pdu...)
	}))

	readDone := make(chan result, 1)
	go func() {
		v, err := c.Read(context.Background(), HandleTransparency)
		readDone <- result{v, err}
	}()

	readPDU(t, peer)
	writePDU(t, peer, []byte{byte(OpcodeReadResponse), 0x07})
	require.NoError(t, (<-readDone).err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte{0x0A, 0x18, 0x00}, seen[true])
	assert.Equal(t, []byte{0x0B, 0x07}, seen[false])
}
