package iso7816

import (
	"bytes"
	"errors"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
// 1. Header: CLA, INS, P1, P2.
// 2. Body:   Lc (data length), Data, Le (expected response length).
//
// ENCODING CASES (ISO 7816-3):
// - Case 1: No Data, No Response (Header only).
// - Case 2: No Data, Response Expected (Header + Le).
// - Case 3: Data Present, No Response (Header + Lc + Data).
// - Case 4: Data Present, Response Expected (Header + Lc + Data + Le).
//
// LENGTH MODES:
//   - Short Length: Lc/Le encoded on 1 byte (Max 255/256).
//   - Extended Length: a '00' marker followed by Lc/Le on 2 bytes (Max 65535/65536).
//     Extended mode is triggered if Lc > 255 or Le > 256.
//
// RESPONSE APDU (R-APDU):
// An optional data field followed by the mandatory trailer SW1-SW2.

// APDU Limits and Constants according to ISO 7816-3.
const (
	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode (1 byte).
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne) encodable in Short Length mode.
	// In Short mode, 0x00 encodes 256.
	MaxShortLe = 256

	// MaxExtendedLc is the limit for Lc in Extended mode (16-bit unsigned).
	MaxExtendedLc = 65535

	// MaxExtendedLe is the maximum Ne encodable in Extended Length mode.
	// In Extended mode, 0x0000 encodes 65536.
	MaxExtendedLe = 65536

	// MinResponseLength is the size of the trailer every R-APDU carries.
	MinResponseLength = 2

	headerLength = 4
)

var (
	ErrResponseTooShort = errors.New("iso7816: response too short")
	ErrMalformedCommand = errors.New("iso7816: malformed command")
)

// Command is anything that serializes to a C-APDU.
// Transports only care about the final byte sequence.
type Command interface {
	Bytes() ([]byte, error)
}

// RawCommand is an already serialized C-APDU.
type RawCommand []byte

// Bytes returns the command unchanged.
func (c RawCommand) Bytes() ([]byte, error) {
	return c, nil
}

// CommandAPDU represents a structured command sent to the card.
type CommandAPDU struct {
	CLA  byte
	INS  InsCode
	P1   byte
	P2   byte
	Data []byte
	Ne   int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla byte, ins InsCode, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		CLA:  cla,
		INS:  ins,
		P1:   p1,
		P2:   p2,
		Data: data,
		Ne:   ne,
	}
}

// Bytes encodes the CommandAPDU into its byte representation (C-APDU).
// It selects Short or Extended encoding from the length of Data (Nc)
// and the expected response length (Ne).
func (c *CommandAPDU) Bytes() ([]byte, error) {
	if !c.INS.Valid() {
		return nil, fmt.Errorf("%w: invalid INS 0x%02X: 6X and 9X are reserved", ErrMalformedCommand, byte(c.INS))
	}

	nc := len(c.Data)
	ne := c.Ne

	if nc > MaxExtendedLc {
		return nil, fmt.Errorf("%w: Nc %d exceeds %d", ErrMalformedCommand, nc, MaxExtendedLc)
	}
	if ne < 0 || ne > MaxExtendedLe {
		return nil, fmt.Errorf("%w: Ne %d out of range [0, %d]", ErrMalformedCommand, ne, MaxExtendedLe)
	}

	buf := new(bytes.Buffer)
	buf.Write([]byte{c.CLA, byte(c.INS), c.P1, c.P2})

	isExtended := nc > MaxShortLc || ne > MaxShortLe

	if nc > 0 {
		if !isExtended {
			buf.WriteByte(byte(nc))
		} else {
			buf.Write([]byte{0x00, byte(nc >> 8), byte(nc)})
		}
		buf.Write(c.Data)
	}

	if ne > 0 {
		switch {
		case !isExtended:
			// 0x00 represents 256
			buf.WriteByte(byte(ne))
		default:
			// Case 2 Extended needs the '00' marker since Lc is absent.
			if nc == 0 {
				buf.WriteByte(0x00)
			}
			// 0x0000 represents 65536
			buf.Write([]byte{byte(ne >> 8), byte(ne)})
		}
	}

	return buf.Bytes(), nil
}

// ParseCommandAPDU decodes a serialized C-APDU, short or extended.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < headerLength {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedCommand, len(raw))
	}

	cmd := &CommandAPDU{CLA: raw[0], INS: InsCode(raw[1]), P1: raw[2], P2: raw[3]}
	body := raw[headerLength:]

	switch {
	case len(body) == 0:
		// Case 1
		return cmd, nil

	case len(body) == 1:
		// Case 2 Short
		cmd.Ne = shortLe(body[0])
		return cmd, nil

	case body[0] != 0x00:
		// Case 3/4 Short
		nc := int(body[0])
		switch len(body) {
		case 1 + nc:
		case 2 + nc:
			cmd.Ne = shortLe(body[1+nc])
		default:
			return nil, fmt.Errorf("%w: Lc %d inconsistent with body length %d", ErrMalformedCommand, nc, len(body))
		}
		cmd.Data = body[1 : 1+nc]
		return cmd, nil

	case len(body) == 3:
		// Case 2 Extended
		cmd.Ne = extendedLe(body[1], body[2])
		return cmd, nil

	default:
		// Case 3/4 Extended
		if len(body) < 3 {
			return nil, fmt.Errorf("%w: truncated extended Lc", ErrMalformedCommand)
		}
		nc := int(body[1])<<8 | int(body[2])
		if nc == 0 {
			return nil, fmt.Errorf("%w: extended Lc is zero", ErrMalformedCommand)
		}
		switch len(body) {
		case 3 + nc:
		case 5 + nc:
			cmd.Ne = extendedLe(body[3+nc], body[4+nc])
		default:
			return nil, fmt.Errorf("%w: Lc %d inconsistent with body length %d", ErrMalformedCommand, nc, len(body))
		}
		cmd.Data = body[3 : 3+nc]
		return cmd, nil
	}
}

func shortLe(b byte) int {
	if b == 0x00 {
		return MaxShortLe
	}
	return int(b)
}

func extendedLe(hi, lo byte) int {
	ne := int(hi)<<8 | int(lo)
	if ne == 0 {
		return MaxExtendedLe
	}
	return ne
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("CLA: %02X | %s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.CLA, c.INS.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord

	raw []byte
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < MinResponseLength {
		return nil, fmt.Errorf("%w: length %d", ErrResponseTooShort, len(raw))
	}

	indexSW1 := len(raw) - 2

	return &ResponseAPDU{
		Data:   raw[:indexSW1],
		Status: NewStatusWord(raw[indexSW1], raw[indexSW1+1]),
		raw:    raw,
	}, nil
}

// NewResponseAPDU builds a response from its data field and status word.
func NewResponseAPDU(data []byte, sw StatusWord) *ResponseAPDU {
	raw := make([]byte, 0, len(data)+2)
	raw = append(raw, data...)
	raw = append(raw, sw.SW1(), sw.SW2())
	return &ResponseAPDU{Data: raw[:len(data)], Status: sw, raw: raw}
}

// Bytes returns the full R-APDU, data field and trailer.
func (r *ResponseAPDU) Bytes() []byte {
	return r.raw
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
