package capture

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCBORKeys(t *testing.T) {
	rec := Record{
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 42, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Protocol:     ProtocolATT,
		Data:         []byte{0x0A, 0x18, 0x00},
	}

	data, err := EncodeRecord(rec)
	require.NoError(t, err)

	got, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp), "nanoseconds survive")
	assert.Equal(t, rec.ConnectionID, got.ConnectionID)
	assert.Equal(t, rec.Data, got.Data)
	assert.Empty(t, got.Device)
}

func TestRecorderAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")

	rec, err := NewRecorder(path)
	require.NoError(t, err)

	aacp := rec.Connection(ProtocolAACP, "AA:BB:CC:DD:EE:FF")
	att := rec.Connection(ProtocolATT, "AA:BB:CC:DD:EE:FF")
	_, err = uuid.Parse(aacp.ID())
	require.NoError(t, err)
	assert.NotEqual(t, aacp.ID(), att.ID())

	aacp.Packet(true, []byte{0x00, 0x00, 0x04, 0x00})
	aacp.Packet(false, []byte{0x04, 0x00, 0x04, 0x00, 0x04, 0x00})
	att.Packet(false, []byte{0x1B, 0x18, 0x00, 0x01})
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	aacp.Packet(false, []byte{0xFF}) // ignored after close

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	var all []Record
	for {
		next, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		all = append(all, next)
	}
	require.Len(t, all, 3)
	assert.Equal(t, DirectionOut, all[0].Direction)
	assert.Equal(t, aacp.ID(), all[1].ConnectionID)
	assert.Equal(t, ProtocolATT, all[2].Protocol)
	assert.False(t, all[0].Timestamp.IsZero())
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	rec, err := NewRecorder(path)
	require.NoError(t, err)

	s := rec.Connection(ProtocolAACP, "")
	s.Packet(true, []byte{0x01})
	s.Packet(false, []byte{0x02})
	rec.Connection(ProtocolATT, "").Packet(false, []byte{0x03})
	require.NoError(t, rec.Close())

	in, aacp := DirectionIn, ProtocolAACP
	r, err := NewFilteredReader(path, Filter{Direction: &in, Protocol: &aacp})
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got.Data)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRecorderAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")

	for i := 0; i < 2; i++ {
		rec, err := NewRecorder(path)
		require.NoError(t, err)
		rec.Connection(ProtocolAACP, "").Packet(false, []byte{byte(i)})
		require.NoError(t, rec.Close())
	}

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 2; i++ {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got.Data)
	}
}

func TestRecorderConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	rec, err := NewRecorder(path)
	require.NoError(t, err)
	s := rec.Connection(ProtocolAACP, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.Packet(j%2 == 0, []byte{byte(i), byte(j)})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, rec.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	count := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 200, count)
}

func TestNewReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "missing.cbor"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
