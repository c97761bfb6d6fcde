package simulator

import (
	"net"
	"sync"
	"time"

	"github.com/gregLibert/cardsim/pkg/iso7816"
	"github.com/gregLibert/cardsim/pkg/tlv"
)

// mockStream is an in-memory Stream. Bytes in pending become readable at
// readyAt; reply is moved to pending once the first command bytes are written.
type mockStream struct {
	mu sync.Mutex

	writeDisabled bool
	stalled       bool // Write accepts nothing
	maxWrite      int  // bytes accepted per Write, 0 for all
	writeErr      error
	written       []byte

	reply      []byte
	replyDelay time.Duration
	pending    []byte
	readyAt    time.Time
	readChunk  int // bytes returned per Read, 0 for as many as fit
	readErr    error

	closed     bool
	closeCalls int
	closeErr   error
}

// preloaded returns a stream that already holds data.
func preloaded(data []byte) *mockStream {
	return &mockStream{pending: data}
}

// replying returns a stream answering the first write with data after delay.
func replying(data []byte, delay time.Duration) *mockStream {
	return &mockStream{reply: data, replyDelay: delay}
}

func (m *mockStream) CanWrite() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.writeDisabled && !m.closed
}

func (m *mockStream) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.stalled {
		return 0, nil
	}

	n := len(p)
	if m.maxWrite > 0 && n > m.maxWrite {
		n = m.maxWrite
	}
	m.written = append(m.written, p[:n]...)

	if m.reply != nil {
		m.pending = m.reply
		m.readyAt = time.Now().Add(m.replyDelay)
		m.reply = nil
	}
	return n, nil
}

func (m *mockStream) HasData() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.readErr != nil {
		return true
	}
	return len(m.pending) > 0 && !time.Now().Before(m.readyAt)
}

func (m *mockStream) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	if time.Now().Before(m.readyAt) {
		return 0, nil
	}

	n := min(len(p), len(m.pending))
	if m.readChunk > 0 && n > m.readChunk {
		n = m.readChunk
	}
	copy(p, m.pending[:n])
	m.pending = m.pending[n:]
	return n, nil
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	m.closed = true
	return m.closeErr
}

func (m *mockStream) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written...)
}

func (m *mockStream) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func rawCmd(s string) iso7816.RawCommand {
	return iso7816.RawCommand(tlv.Hex(s))
}
