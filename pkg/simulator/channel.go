package simulator

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gregLibert/cardsim/pkg/frame"
	"github.com/gregLibert/cardsim/pkg/iso7816"
)

// Channel defaults.
const (
	DefaultMaxMessageLength  = 4096
	DefaultMaxResponseLength = 4096
	DefaultPollInterval      = 50 * time.Millisecond
)

// Channel is the basic logical channel of a simulated card.
// Transmit calls must be serialized by the caller; Close may be called
// concurrently with an in-flight Transmit.
type Channel struct {
	stream Stream
	closed atomic.Bool

	maxMessageLength  int
	maxResponseLength int
	extendedLength    bool
	pollInterval      time.Duration
	log               zerolog.Logger
}

// ChannelOption customizes a Channel.
type ChannelOption func(*Channel)

// WithMaxMessageLength bounds the serialized C-APDU, frame header excluded.
func WithMaxMessageLength(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.maxMessageLength = n
		}
	}
}

// WithMaxResponseLength bounds the bytes accumulated for one response.
func WithMaxResponseLength(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.maxResponseLength = n
		}
	}
}

// WithExtendedLength sets the advertised extended-length support.
func WithExtendedLength(supported bool) ChannelOption {
	return func(c *Channel) {
		c.extendedLength = supported
	}
}

// WithPollInterval sets the sleep between two idle polls of the stream.
func WithPollInterval(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the logger used for frame tracing and close failures.
func WithLogger(log zerolog.Logger) ChannelOption {
	return func(c *Channel) {
		c.log = log
	}
}

// NewChannel runs a channel over an open stream.
func NewChannel(stream Stream, opts ...ChannelOption) *Channel {
	c := &Channel{
		stream:            stream,
		maxMessageLength:  DefaultMaxMessageLength,
		maxResponseLength: DefaultMaxResponseLength,
		extendedLength:    true,
		pollInterval:      DefaultPollInterval,
		log:               zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChannelNumber is always 0: only the basic channel exists.
func (c *Channel) ChannelNumber() int { return 0 }

func (c *Channel) MaxMessageLength() int { return c.maxMessageLength }

func (c *Channel) MaxResponseLength() int { return c.maxResponseLength }

func (c *Channel) ExtendedLengthSupported() bool { return c.extendedLength }

// IsClosed reports whether Close has been called.
func (c *Channel) IsClosed() bool { return c.closed.Load() }

// Transmit sends one command and waits for one framed response.
//
// A zero readTimeout waits for the simulator without limit, a zero
// writeTimeout lets the write block without limit.
func (c *Channel) Transmit(cmd iso7816.Command, writeTimeout, readTimeout time.Duration) (*iso7816.ResponseAPDU, error) {
	if !c.stream.CanWrite() {
		return nil, ErrOutputUnavailable
	}

	apdu, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("simulator: serialize command: %w", err)
	}
	if len(apdu) > c.maxMessageLength {
		return nil, &LimitError{Err: ErrCommandTooLarge, Max: c.maxMessageLength, Actual: len(apdu)}
	}

	msg, err := frame.Encode(apdu)
	if err != nil {
		return nil, err
	}

	c.log.Debug().Hex("frame", msg).Msg("sending command")

	if err := c.write(msg, writeTimeout); err != nil {
		return nil, err
	}

	raw, total, err := c.receive(readTimeout)
	if err != nil {
		return nil, err
	}

	if total == 0 {
		return nil, ErrNoResponse
	}
	if total > c.maxResponseLength {
		return nil, &LimitError{Err: ErrResponseTooLarge, Max: c.maxResponseLength, Actual: total}
	}

	c.log.Debug().Hex("frame", raw).Msg("received response")

	payload, err := frame.Decode(raw)
	if err != nil {
		return nil, &InvalidResponseError{Err: err}
	}
	resp, err := iso7816.ParseResponseAPDU(payload)
	if err != nil {
		return nil, &InvalidResponseError{Err: err}
	}
	return resp, nil
}

// write pushes msg until the stream accepted all of it.
func (c *Channel) write(msg []byte, timeout time.Duration) error {
	deadline := deadlineAfter(timeout)

	if wd, ok := c.stream.(writeDeadliner); ok {
		if err := wd.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
		}
		defer func() { _ = wd.SetWriteDeadline(time.Time{}) }()
	}

	for written := 0; written < len(msg); {
		n, err := c.stream.Write(msg[written:])
		written += n

		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return fmt.Errorf("%w: %d of %d bytes sent", ErrWriteTimeout, written, len(msg))
		case err != nil:
			return fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
		case n == 0:
			if expired(deadline) {
				return fmt.Errorf("%w: %d of %d bytes sent", ErrWriteTimeout, written, len(msg))
			}
			time.Sleep(c.pollInterval)
		}
	}
	return nil
}

// receive accumulates bytes until the stream goes quiet after data arrived,
// or until the deadline passes with nothing received. It reports the total
// byte count; the returned buffer keeps at most maxResponseLength+1 bytes.
func (c *Channel) receive(timeout time.Duration) ([]byte, int, error) {
	deadline := deadlineAfter(timeout)
	buf := make([]byte, c.maxResponseLength)

	var response []byte
	total := 0
	for {
		if c.stream.HasData() {
			n, err := c.stream.Read(buf)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %w", ErrNoResponse, err)
			}
			total += n
			if room := c.maxResponseLength + 1 - len(response); room > 0 {
				response = append(response, buf[:min(n, room)]...)
			}
		} else {
			time.Sleep(c.pollInterval)
		}

		if c.stream.HasData() {
			continue
		}
		if total > 0 || expired(deadline) {
			return response, total, nil
		}
	}
}

// Close closes the stream. It is idempotent and never fails; a close error
// is only logged.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.stream.Close(); err != nil {
		c.log.Warn().Err(err).Msg("closing simulator stream")
	}
	return nil
}

// Transmitter binds the timeouts so the channel can back an iso7816.Client.
func (c *Channel) Transmitter(writeTimeout, readTimeout time.Duration) iso7816.Transmitter {
	return &channelTransmitter{channel: c, writeTimeout: writeTimeout, readTimeout: readTimeout}
}

type channelTransmitter struct {
	channel      *Channel
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func (t *channelTransmitter) Transmit(cmd []byte) ([]byte, error) {
	resp, err := t.channel.Transmit(iso7816.RawCommand(cmd), t.writeTimeout, t.readTimeout)
	if err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

// deadlineAfter returns the zero time, meaning no deadline, for a zero timeout.
func deadlineAfter(timeout time.Duration) time.Time {
	if timeout == 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}
