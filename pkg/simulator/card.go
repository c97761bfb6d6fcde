package simulator

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Protocol is the transmission protocol reported by a card.
type Protocol int

const (
	ProtocolT0 Protocol = iota
	ProtocolT1
)

func (p Protocol) String() string {
	switch p {
	case ProtocolT0:
		return "T=0"
	case ProtocolT1:
		return "T=1"
	default:
		return "T=?"
	}
}

// DefaultConnectTimeout bounds the TCP dial to the simulator.
const DefaultConnectTimeout = 10 * time.Second

// Card is a simulated card reachable at host:port.
type Card struct {
	addr           string
	protocol       Protocol
	connectTimeout time.Duration
	channelOpts    []ChannelOption
	log            zerolog.Logger

	mu    sync.Mutex
	basic *Channel
}

// CardOption customizes a Card.
type CardOption func(*Card)

func WithProtocol(p Protocol) CardOption {
	return func(c *Card) { c.protocol = p }
}

func WithConnectTimeout(d time.Duration) CardOption {
	return func(c *Card) { c.connectTimeout = d }
}

// WithChannelOptions is applied to every channel the card opens.
func WithChannelOptions(opts ...ChannelOption) CardOption {
	return func(c *Card) { c.channelOpts = append(c.channelOpts, opts...) }
}

// WithCardLogger sets the logger of the card and, unless overridden through
// WithChannelOptions, of its channels.
func WithCardLogger(log zerolog.Logger) CardOption {
	return func(c *Card) { c.log = log }
}

// NewCard describes a simulator endpoint. No connection is made until
// OpenBasicChannel.
func NewCard(host string, port int, opts ...CardOption) *Card {
	c := &Card{
		addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		protocol:       ProtocolT1,
		connectTimeout: DefaultConnectTimeout,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the simulator address as host:port.
func (c *Card) Addr() string { return c.addr }

// ATR is empty: the simulator does not report one.
func (c *Card) ATR() []byte { return []byte{} }

func (c *Card) Protocol() Protocol { return c.protocol }

// OpenBasicChannel connects to the simulator. While the basic channel is open
// it is returned again instead of dialing a second connection.
func (c *Card) OpenBasicChannel(ctx context.Context) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.basic != nil && !c.basic.IsClosed() {
		return c.basic, nil
	}

	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, &ConnectionError{Addr: c.addr, Err: err}
	}

	c.log.Info().Str("addr", c.addr).Msg("connected to card simulator")

	opts := append([]ChannelOption{WithLogger(c.log)}, c.channelOpts...)
	c.basic = NewChannel(NewTCPStream(conn), opts...)
	return c.basic, nil
}

// OpenLogicChannel is not supported by the simulator.
func (c *Card) OpenLogicChannel(ctx context.Context) (*Channel, error) {
	return nil, ErrNotImplemented
}

// Disconnect closes the basic channel if one is open. The reset flag has no
// effect on a simulator. It never fails.
func (c *Card) Disconnect(reset bool) error {
	c.mu.Lock()
	basic := c.basic
	c.basic = nil
	c.mu.Unlock()

	if basic == nil {
		return nil
	}
	if err := basic.Close(); err != nil {
		c.log.Warn().Err(err).Msg("closing basic channel")
	}
	c.log.Debug().Bool("reset", reset).Str("addr", c.addr).Msg("disconnected from card simulator")
	return nil
}
