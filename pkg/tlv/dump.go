// Package tlv provides helpers to inspect BER-TLV (Basic Encoding Rules -
// Tag-Length-Value) data carried in APDU responses, and to build byte
// fixtures from hex strings.
package tlv

import (
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// Dump decodes BER-TLV data and renders it as an indented tree.
// Constructed objects list their children one level deeper; primitive objects
// show their value in hex, followed by the ASCII form when every byte is printable.
// Lines are joined with newlines, without a trailing newline.
func Dump(data []byte) (string, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return "", fmt.Errorf("bertlv decode failed: %w", err)
	}

	var lines []string
	writePackets(&lines, packets, 1)
	return strings.Join(lines, "\n"), nil
}

func writePackets(lines *[]string, packets []bertlv.TLV, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, p := range packets {
		tag := strings.ToUpper(p.Tag)
		if len(p.TLVs) > 0 {
			*lines = append(*lines, fmt.Sprintf("%s- %s", indent, tag))
			writePackets(lines, p.TLVs, depth+1)
			continue
		}
		*lines = append(*lines, fmt.Sprintf("%s- %s: %s", indent, tag, formatValue(p.Value)))
	}
}

func formatValue(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if isPrintable(data) {
		return fmt.Sprintf("%X (%q)", data, string(data))
	}
	return fmt.Sprintf("%X", data)
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 32 || b > 126 {
			return false
		}
	}
	return true
}

// MakeSafeASCII replaces every non-printable byte with '.'.
func MakeSafeASCII(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			out[i] = b
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
