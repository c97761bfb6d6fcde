package simulator

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Stream is the bidirectional byte channel a Channel runs on.
// Read and HasData never block; Write may accept fewer bytes than offered.
type Stream interface {
	// CanWrite reports whether the output side accepts data.
	CanWrite() bool
	// Write sends p and reports how many bytes were accepted.
	Write(p []byte) (int, error)
	// HasData reports whether a Read would return bytes or a failure.
	HasData() bool
	// Read copies available bytes into p. It returns 0, nil when idle.
	Read(p []byte) (int, error)
	// Close shuts down both directions. It is idempotent.
	Close() error
}

// writeDeadliner is implemented by streams able to bound a blocking write.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// peekWindow is how long HasData waits on the socket before reporting it idle.
const peekWindow = time.Millisecond

// TCPStream adapts a net.Conn to Stream.
//
// Once the connection is closed or has failed, HasData reports true so that
// the next Read surfaces the failure instead of looking idle.
//
// An orderly close by the peer is not a failure when bytes were read since
// the last write: the stream then looks quiet so the received response is
// kept. Before any byte arrived, the EOF is surfaced like a failure. Either
// way the stream stops accepting writes.
type TCPStream struct {
	conn      net.Conn
	closed    atomic.Bool
	eof       atomic.Bool
	delivered atomic.Int64 // bytes read since the last write

	mu      sync.Mutex // guards reader and failure
	reader  *bufio.Reader
	failure error
}

// NewTCPStream wraps an established connection.
func NewTCPStream(conn net.Conn) *TCPStream {
	return &TCPStream{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (s *TCPStream) CanWrite() bool {
	return !s.closed.Load() && !s.eof.Load()
}

func (s *TCPStream) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	s.delivered.Store(0)
	return s.conn.Write(p)
}

// SetWriteDeadline bounds subsequent writes. A zero time removes the bound.
func (s *TCPStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func (s *TCPStream) HasData() bool {
	if s.closed.Load() {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil || s.reader.Buffered() > 0 {
		return true
	}
	if s.eof.Load() {
		return s.delivered.Load() == 0
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(peekWindow)); err != nil {
		s.failure = err
		return true
	}
	_, err := s.reader.Peek(1)
	_ = s.conn.SetReadDeadline(time.Time{})

	switch {
	case err == nil:
		return true
	case errors.Is(err, os.ErrDeadlineExceeded):
		return false
	case errors.Is(err, io.EOF):
		s.eof.Store(true)
		return s.delivered.Load() == 0
	default:
		s.failure = err
		return true
	}
}

func (s *TCPStream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return 0, s.failure
	}

	n := min(len(p), s.reader.Buffered())
	if n == 0 {
		if s.eof.Load() {
			return 0, io.EOF
		}
		return 0, nil
	}
	n, err := s.reader.Read(p[:n])
	s.delivered.Add(int64(n))
	return n, err
}

// Close closes the connection. It may be called while another goroutine is
// blocked in HasData, Read or Write; that call then fails promptly.
func (s *TCPStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}
