// Package frame implements the envelope used on the card-simulator socket.
//
// Every message in either direction is a single BER-TLV object with the fixed
// tag '80' and a definite length:
//
//	80 | length header | payload
//
// LENGTH HEADER:
//   - L <= 0x7F:  one byte holding L (short form).
//   - L  > 0x7F:  one byte 0x80|N followed by N big-endian bytes holding L,
//     where N (1-4) is the smallest count able to represent L (long form).
//
// Examples:
//
//	L = 0x7F     -> 80 7F ...
//	L = 0x80     -> 80 81 80 ...
//	L = 0x100    -> 80 82 01 00 ...
//	L = 0xFFFFFF -> 80 83 FF FF FF ...
package frame

import (
	"errors"
	"fmt"
	"io"
)

const (
	// Tag is the only tag carried on the wire.
	Tag byte = 0x80

	// MaxShortLength is the largest length encodable in the one-byte header.
	MaxShortLength = 0x7F

	// MaxLengthBytes is the widest long-form length field accepted.
	MaxLengthBytes = 4

	// MaxPayloadLength is the largest payload a frame can describe.
	MaxPayloadLength uint64 = 0xFFFFFFFF

	longFormFlag byte = 0x80
)

var (
	ErrUnsupportedSize         = errors.New("frame: payload size not representable")
	ErrInvalidTag              = errors.New("frame: invalid tag")
	ErrInvalidLengthFieldWidth = errors.New("frame: invalid length field width")
	ErrTruncated               = errors.New("frame: truncated")
	ErrPayloadTooLarge         = errors.New("frame: payload too large")
)

// Encode wraps payload into a frame.
func Encode(payload []byte) ([]byte, error) {
	header, err := encodeHeader(uint64(len(payload)))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(header)+len(payload))
	out = append(out, Tag)
	out = append(out, header...)
	return append(out, payload...), nil
}

// encodeHeader returns the length header for a payload of n bytes.
func encodeHeader(n uint64) ([]byte, error) {
	if n > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnsupportedSize, n)
	}
	if n <= MaxShortLength {
		return []byte{byte(n)}, nil
	}

	width := 1
	for width < MaxLengthBytes && n>>(8*width) != 0 {
		width++
	}

	header := make([]byte, 1+width)
	header[0] = longFormFlag | byte(width)
	for i := width; i > 0; i-- {
		header[i] = byte(n)
		n >>= 8
	}
	return header, nil
}

// Decode unwraps a frame and returns its payload.
// Bytes following the declared payload are ignored.
func Decode(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != Tag {
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty buffer", ErrInvalidTag)
		}
		return nil, fmt.Errorf("%w: %02X", ErrInvalidTag, data[0])
	}

	length, headerLen, err := decodeHeader(data[1:])
	if err != nil {
		return nil, err
	}

	body := data[1+headerLen:]
	if uint64(len(body)) < length {
		return nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrTruncated, length, len(body))
	}
	return body[:length], nil
}

// decodeHeader parses a length header and reports the payload length and the
// number of header bytes consumed.
func decodeHeader(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("%w: missing length", ErrTruncated)
	}

	first := data[0]
	if first&longFormFlag == 0 {
		return uint64(first), 1, nil
	}

	width := int(first &^ longFormFlag)
	if width < 1 || width > MaxLengthBytes {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidLengthFieldWidth, width)
	}
	if len(data) < 1+width {
		return 0, 0, fmt.Errorf("%w: length field needs %d bytes, got %d", ErrTruncated, width, len(data)-1)
	}

	var length uint64
	for _, b := range data[1 : 1+width] {
		length = length<<8 | uint64(b)
	}
	return length, 1 + width, nil
}

// ReadFrame reads exactly one frame from r and returns its payload.
// It blocks until the frame is complete.
func ReadFrame(r io.Reader, maxPayload int) ([]byte, error) {
	var head [2]byte
	if n, err := io.ReadFull(r, head[:]); err != nil {
		if n > 0 {
			return nil, unexpected(err)
		}
		return nil, err
	}
	if head[0] != Tag {
		return nil, fmt.Errorf("%w: %02X", ErrInvalidTag, head[0])
	}

	header := []byte{head[1]}
	if head[1]&longFormFlag != 0 {
		width := int(head[1] &^ longFormFlag)
		if width < 1 || width > MaxLengthBytes {
			return nil, fmt.Errorf("%w: %d", ErrInvalidLengthFieldWidth, width)
		}
		field := make([]byte, width)
		if _, err := io.ReadFull(r, field); err != nil {
			return nil, unexpected(err)
		}
		header = append(header, field...)
	}

	length, _, err := decodeHeader(header)
	if err != nil {
		return nil, err
	}
	if maxPayload >= 0 && length > uint64(maxPayload) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, length, maxPayload)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, unexpected(err)
	}
	return payload, nil
}

// unexpected maps an EOF inside a frame to ErrTruncated.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}
