// Package pcsc exposes a PC/SC smart card reader as an iso7816.Transmitter,
// so the same client runs against real hardware and the card simulator.
package pcsc

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"
	"github.com/rs/zerolog"
)

var ErrNoReader = errors.New("pcsc: no smart card reader found")

// Reader is a connected PC/SC reader holding a card.
type Reader struct {
	Name string

	ctx  *scard.Context
	card *scard.Card
	log  zerolog.Logger
}

// Open connects to the card in the reader at index (in ListReaders order).
func Open(index int, log zerolog.Logger) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establishing context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		release(ctx, log)
		return nil, fmt.Errorf("pcsc: listing readers: %w", err)
	}

	name, err := pickReader(readers, index)
	if err != nil {
		release(ctx, log)
		return nil, err
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors (Error 57)
	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		release(ctx, log)
		return nil, fmt.Errorf("pcsc: connecting to %q: %w", name, err)
	}

	log.Info().Str("reader", name).Msg("using PC/SC reader")
	return &Reader{Name: name, ctx: ctx, card: card, log: log}, nil
}

func pickReader(readers []string, index int) (string, error) {
	if len(readers) == 0 {
		return "", ErrNoReader
	}
	if index < 0 || index >= len(readers) {
		return "", fmt.Errorf("%w: index %d, %d reader(s) available", ErrNoReader, index, len(readers))
	}
	return readers[index], nil
}

func release(ctx *scard.Context, log zerolog.Logger) {
	if err := ctx.Release(); err != nil {
		log.Warn().Err(err).Msg("failed to release context during error handling")
	}
}

// Transmit sends a raw C-APDU and returns the raw R-APDU.
func (r *Reader) Transmit(cmd []byte) ([]byte, error) {
	r.log.Debug().Hex("apdu", cmd).Str("reader", r.Name).Msg("transmit")
	resp, err := r.card.Transmit(cmd)
	if err != nil {
		return nil, fmt.Errorf("pcsc: %w", err)
	}
	r.log.Debug().Hex("apdu", resp).Str("reader", r.Name).Msg("response")
	return resp, nil
}

// Close leaves the card in place and releases the context.
func (r *Reader) Close() error {
	var errs []error
	if err := r.card.Disconnect(scard.LeaveCard); err != nil {
		errs = append(errs, fmt.Errorf("pcsc: disconnecting card: %w", err))
	}
	if err := r.ctx.Release(); err != nil {
		errs = append(errs, fmt.Errorf("pcsc: releasing context: %w", err))
	}
	return errors.Join(errs...)
}
