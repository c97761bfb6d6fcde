// Package cardsim runs an in-process card simulator speaking the framed APDU
// protocol over TCP. It backs the serve command and end-to-end tests of the
// simulator transport.
package cardsim

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gregLibert/cardsim/pkg/frame"
	"github.com/gregLibert/cardsim/pkg/iso7816"
)

// DefaultMaxCommandLength bounds the payload of one incoming frame.
const DefaultMaxCommandLength = 4096

var ErrServerClosed = errors.New("cardsim: server closed")

// Handler answers one command.
type Handler interface {
	Handle(cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU

func (f HandlerFunc) Handle(cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU {
	return f(cmd)
}

// EchoHandler returns the command data field with 9000.
var EchoHandler = HandlerFunc(func(cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU {
	return iso7816.NewResponseAPDU(cmd.Data, iso7816.SW_NO_ERROR)
})

// Server accepts simulator connections and serves one response per command.
type Server struct {
	handler          Handler
	maxCommandLength int
	responseDelay    time.Duration
	log              zerolog.Logger

	listener          net.Listener
	stopChan          chan struct{}
	stopOnce          sync.Once
	activeConnections map[string]net.Conn
	connectionsMutex  sync.Mutex
	wg                sync.WaitGroup
}

// Option customizes a Server.
type Option func(*Server)

// WithMaxCommandLength bounds the accepted frame payload. Larger frames end
// the connection.
func WithMaxCommandLength(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxCommandLength = n
		}
	}
}

// WithResponseDelay holds every response back, emulating a slow card.
func WithResponseDelay(d time.Duration) Option {
	return func(s *Server) { s.responseDelay = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer creates a server dispatching commands to handler.
func NewServer(handler Handler, opts ...Option) *Server {
	s := &Server{
		handler:           handler,
		maxCommandLength:  DefaultMaxCommandLength,
		log:               zerolog.Nop(),
		stopChan:          make(chan struct{}),
		activeConnections: make(map[string]net.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the TCP listener. Use port 0 to pick a free port, then Addr.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cardsim: listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.log.Info().Str("addr", listener.Addr().String()).Msg("card simulator listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Close. It returns nil after Close.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("cardsim: Serve called before Listen")
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}

		go s.handleConnection(conn)
	}
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting, closes every open connection and waits for the
// connection handlers to return.
func (s *Server) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			err = s.listener.Close()
		}

		s.connectionsMutex.Lock()
		for _, conn := range s.activeConnections {
			conn.Close()
		}
		s.connectionsMutex.Unlock()

		s.wg.Wait()
	})
	return err
}

// track registers conn and its handler unless the server is shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.connectionsMutex.Lock()
	defer s.connectionsMutex.Unlock()

	select {
	case <-s.stopChan:
		return false
	default:
	}
	s.activeConnections[conn.RemoteAddr().String()] = conn
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connectionsMutex.Lock()
	delete(s.activeConnections, conn.RemoteAddr().String())
	s.connectionsMutex.Unlock()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	client := conn.RemoteAddr().String()
	s.log.Debug().Str("client", client).Msg("connection opened")

	for {
		payload, err := frame.ReadFrame(conn, s.maxCommandLength)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Warn().Err(err).Str("client", client).Msg("reading command frame")
			}
			return
		}

		resp := s.respond(payload)

		out, err := frame.Encode(resp.Bytes())
		if err != nil {
			s.log.Error().Err(err).Msg("encoding response frame")
			return
		}

		if s.responseDelay > 0 {
			select {
			case <-time.After(s.responseDelay):
			case <-s.stopChan:
				return
			}
		}

		if _, err := conn.Write(out); err != nil {
			s.log.Warn().Err(err).Str("client", client).Msg("writing response frame")
			return
		}
	}
}

// respond parses payload and runs the handler. Commands that do not parse
// are answered with 6700.
func (s *Server) respond(payload []byte) *iso7816.ResponseAPDU {
	cmd, err := iso7816.ParseCommandAPDU(payload)
	if err != nil {
		s.log.Debug().Err(err).Hex("apdu", payload).Msg("rejecting command")
		return iso7816.NewResponseAPDU(nil, iso7816.SW_ERR_WRONG_LENGTH)
	}

	s.log.Debug().Stringer("command", cmd).Msg("handling command")

	resp := s.handler.Handle(cmd)
	if resp == nil {
		return iso7816.NewResponseAPDU(nil, iso7816.SW_ERR_UNKNOWN)
	}
	return resp
}
