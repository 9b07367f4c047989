package aacp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tapRecord struct {
	outbound bool
	packet   []byte
}

func TestClientRunFeedsSession(t *testing.T) {
	local, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })

	client := NewClient(local, macA)

	var mu sync.Mutex
	var taps []tapRecord
	client.SetTap(func(outbound bool, packet []byte) {
		mu.Lock()
		defer mu.Unlock()
		taps = append(taps, tapRecord{outbound, append([]byte(nil), packet...)})
	})

	batteries := make(chan *BatteryInfo, 1)
	session := NewSession(client, WithCallbacks(Callbacks{
		OnBattery: func(info *BatteryInfo) { batteries <- info },
	}))

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(context.Background(), session) }()

	sendErr := make(chan error, 1)
	go func() { sendErr <- session.SendHandshake() }()

	buf := make([]byte, 64)
	require.NoError(t, peer.SetDeadline(time.Now().Add(time.Second)))
	n, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, packetHandshake, buf[:n])
	require.NoError(t, <-sendErr)

	_, err = peer.Write(Frame(OpcodeBattery, 0x01, 0x02, 0x01, 0x2A, 0x01, 0x01))
	require.NoError(t, err)

	select {
	case info := <-batteries:
		require.NotNil(t, info.Right)
		assert.Equal(t, uint8(42), info.Right.Level)
	case <-time.After(time.Second):
		t.Fatal("battery packet not delivered")
	}

	require.NoError(t, peer.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err, "peer hangup ends Run cleanly")
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, taps, 2)
	assert.True(t, taps[0].outbound)
	assert.False(t, taps[1].outbound)
	assert.Equal(t, OpcodeBattery, Opcode(taps[1].packet[4]))
}

func TestClientRunStopsOnCancel(t *testing.T) {
	local, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })

	client := NewClient(local, macA)
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, NewSession(client)) }()

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	assert.ErrorIs(t, client.Send(packetHandshake), ErrNotConnected)
}
