package iso7816

import (
	"fmt"

	"github.com/gregLibert/cardsim/pkg/bits"
)

// CLIENT & PROTOCOL LOGIC:
// The Client drives a Transmitter (a PC/SC card or a simulator channel) and
// handles the ISO 7816-3 transport behaviors that T=0 style cards surface to
// the application layer:
//
// 1. "61 XX" (Response Available):
//    XX bytes are waiting. The client sends GET RESPONSE with Le = XX on the
//    same logical channel.
//
// 2. "6C XX" (Wrong Length):
//    The card rejected Le and suggests XX. The client re-sends the original
//    command with Le = XX.
//
// Send returns a Trace: every atomic transaction performed for one logical request.

// MaxFollowUps bounds the GET RESPONSE / re-send transactions issued for one Send.
const MaxFollowUps = 16

// chainingBit is bit 5 of an interindustry CLA.
const chainingBit = 5

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card Transmitter
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
// On error, the transactions completed so far are returned with it.
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	var trace Trace

	for next := cmd; next != nil; {
		if len(trace) > MaxFollowUps {
			return trace, fmt.Errorf("protocol error: more than %d follow-up transactions", MaxFollowUps)
		}

		tx, err := c.exchange(next)
		if err != nil {
			return trace, err
		}
		trace = append(trace, tx)
		next = followUp(next, tx.Response.Status)
	}

	return trace, nil
}

// exchange performs a single command/response round trip.
func (c *Client) exchange(cmd *CommandAPDU) (Transaction, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return Transaction{}, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return Transaction{}, fmt.Errorf("transmission error: %w", err)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return Transaction{}, err
	}

	return Transaction{Command: cmd, Response: resp}, nil
}

// followUp returns the command the status word asks for, or nil when the exchange is over.
func followUp(cmd *CommandAPDU, sw StatusWord) *CommandAPDU {
	switch sw.SW1() {
	case 0x61:
		// GET RESPONSE must use the same logical channel as the original command.
		cla := cmd.CLA
		if !bits.IsSet(cla, 8) {
			cla = bits.Clear(cla, chainingBit)
		}
		return NewCommandAPDU(cla, INS_GET_RESPONSE, 0x00, 0x00, nil, shortLe(sw.SW2()))

	case 0x6C:
		// Clone command to update Le without mutating the caller's value
		resent := *cmd
		resent.Ne = shortLe(sw.SW2())
		return &resent
	}
	return nil
}
