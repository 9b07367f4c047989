package capture

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder appends records to a capture file. It is safe for concurrent
// use; the AACP reader and sender goroutines share one Recorder.
type Recorder struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	now     func() time.Time
}

// NewRecorder opens path for appending, creating it with 0644 if needed.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		file:    f,
		encoder: newEncoder(f),
		now:     time.Now,
	}, nil
}

// Record writes one record. Encoding errors are logged and otherwise
// ignored; capturing must not disturb the session.
func (r *Recorder) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	if err := r.encoder.Encode(rec); err != nil {
		zap.L().Warn("capture write failed", zap.String("file", r.file.Name()), zap.Error(err))
	}
}

// Connection returns a Stream that stamps records with a fresh connection
// id.
func (r *Recorder) Connection(protocol Protocol, device string) *Stream {
	return &Stream{
		recorder: r,
		id:       uuid.NewString(),
		protocol: protocol,
		device:   device,
	}
}

// Close closes the capture file. Later Record calls are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Stream records the packets of one connection.
type Stream struct {
	recorder *Recorder
	id       string
	protocol Protocol
	device   string
}

// ID returns the connection id written into every record.
func (s *Stream) ID() string {
	return s.id
}

// Packet records one packet. Its signature matches aacp.Tap.
func (s *Stream) Packet(outbound bool, data []byte) {
	dir := DirectionIn
	if outbound {
		dir = DirectionOut
	}
	s.recorder.Record(Record{
		ConnectionID: s.id,
		Direction:    dir,
		Protocol:     s.protocol,
		Device:       s.device,
		Data:         append([]byte(nil), data...),
	})
}
