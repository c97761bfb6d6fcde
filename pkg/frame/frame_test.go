package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gregLibert/cardsim/pkg/tlv"
)

func TestEncode_SelectCommand(t *testing.T) {
	apdu := tlv.Hex("00 A4 02 0C 02 2F 01")
	want := tlv.Hex("80 07", "00 A4 02 0C 02 2F 01")

	got, err := Encode(apdu)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %X, want %X", got, want)
	}
}

func TestRoundTrip_LengthBoundaries(t *testing.T) {
	tests := []struct {
		size   int
		header string
		large  bool
	}{
		{size: 0x00, header: "80 00"},
		{size: 0x7F, header: "80 7F"},
		{size: 0x80, header: "80 81 80"},
		{size: 0xFF, header: "80 81 FF"},
		{size: 0x100, header: "80 82 01 00"},
		{size: 0xFFFF, header: "80 82 FF FF"},
		{size: 0x10000, header: "80 83 01 00 00"},
		{size: 0xFFFFFF, header: "80 83 FF FF FF", large: true},
		{size: 0x1000000, header: "80 84 01 00 00 00", large: true},
		{size: 0x1020415, header: "80 84 01 02 04 15", large: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Length 0x%X", tt.size), func(t *testing.T) {
			if tt.large && testing.Short() {
				t.Skip("large payload skipped in short mode")
			}

			payload := bytes.Repeat([]byte{0x11}, tt.size)
			header := tlv.Hex(tt.header)

			encoded, err := Encode(payload)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if len(encoded) != len(header)+tt.size {
				t.Fatalf("encoded length = %d, want %d", len(encoded), len(header)+tt.size)
			}
			if !bytes.Equal(encoded[:len(header)], header) {
				t.Errorf("header = %X, want %X", encoded[:len(header)], header)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !bytes.Equal(decoded, payload) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(decoded), len(payload))
			}
		})
	}
}

func TestEncodeHeader_Unsupported(t *testing.T) {
	if _, err := encodeHeader(MaxPayloadLength); err != nil {
		t.Errorf("max length rejected: %v", err)
	}

	_, err := encodeHeader(MaxPayloadLength + 1)
	if !errors.Is(err, ErrUnsupportedSize) {
		t.Errorf("expected ErrUnsupportedSize, got %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"Empty Buffer", nil, ErrInvalidTag},
		{"Wrong Tag", tlv.Hex("81 02 90 00"), ErrInvalidTag},
		{"Missing Length", tlv.Hex("80"), ErrTruncated},
		{"Short Form Truncated", tlv.Hex("80 05 90 00"), ErrTruncated},
		{"Length Field Missing Bytes", tlv.Hex("80 83 01 00"), ErrTruncated},
		{"Long Form Payload Truncated", tlv.Hex("80 81 80 11 22"), ErrTruncated},
		{"Zero Width Length Field", tlv.Hex("80 80 00"), ErrInvalidLengthFieldWidth},
		{"Five Byte Length Field", tlv.Hex("80 85 00 00 00 00 01 11"), ErrInvalidLengthFieldWidth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode(%X) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDecode_IgnoresTrailingBytes(t *testing.T) {
	got, err := Decode(tlv.Hex("80 02 90 00 FF FF"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(got, tlv.Hex("90 00")) {
		t.Errorf("Decode() = %X, want 9000", got)
	}
}

func TestReadFrame(t *testing.T) {
	t.Run("Consecutive Frames", func(t *testing.T) {
		long := bytes.Repeat([]byte{0xAB}, 0x100)
		first, _ := Encode(tlv.Hex("00 A4 04 00"))
		second, _ := Encode(long)
		r := bytes.NewReader(append(first, second...))

		got, err := ReadFrame(r, 4096)
		if err != nil {
			t.Fatalf("first ReadFrame failed: %v", err)
		}
		if !bytes.Equal(got, tlv.Hex("00 A4 04 00")) {
			t.Errorf("first frame = %X", got)
		}

		got, err = ReadFrame(r, 4096)
		if err != nil {
			t.Fatalf("second ReadFrame failed: %v", err)
		}
		if !bytes.Equal(got, long) {
			t.Errorf("second frame mismatch (%d bytes)", len(got))
		}

		if _, err := ReadFrame(r, 4096); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF at end of stream, got %v", err)
		}
	})

	t.Run("Payload Over Limit", func(t *testing.T) {
		data, _ := Encode(bytes.Repeat([]byte{0x00}, 0x200))
		_, err := ReadFrame(bytes.NewReader(data), 0x100)
		if !errors.Is(err, ErrPayloadTooLarge) {
			t.Errorf("expected ErrPayloadTooLarge, got %v", err)
		}
	})

	t.Run("Truncated Payload", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader(tlv.Hex("80 04 90 00")), 4096)
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("expected ErrTruncated, got %v", err)
		}
	})

	t.Run("Stream Ends After Tag", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{Tag}), 4096)
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("expected ErrTruncated, got %v", err)
		}
	})

	t.Run("Wrong Tag", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader(tlv.Hex("6F 02 90 00")), 4096)
		if !errors.Is(err, ErrInvalidTag) {
			t.Errorf("expected ErrInvalidTag, got %v", err)
		}
	})
}
