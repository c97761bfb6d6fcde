package tlv

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDump(t *testing.T) {
	tests := []struct {
		name          string
		input         []byte
		expectedLines []string
	}{
		{
			name: "Constructed Template",
			input: Hex(
				"6F 0E",
				"84 07 A0000000041010",
				"50 03 564953",
			),
			expectedLines: []string{
				"    - 6F",
				"        - 84: A0000000041010",
				`        - 50: 564953 ("VIS")`,
			},
		},
		{
			name:  "Primitive Only",
			input: Hex("9F36 02 0001"),
			expectedLines: []string{
				"    - 9F36: 0001",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Dump(tt.input)
			if err != nil {
				t.Fatalf("Dump failed: %v", err)
			}
			if diff := cmp.Diff(tt.expectedLines, strings.Split(got, "\n")); diff != "" {
				t.Errorf("Dump() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDump_Invalid(t *testing.T) {
	if _, err := Dump(Hex("6F 05 84 01")); err == nil {
		t.Error("expected error for truncated TLV, got nil")
	}
}

func TestMakeSafeASCII(t *testing.T) {
	if got := MakeSafeASCII([]byte{'V', 'I', 'S', 'A', 0x00}); got != "VISA." {
		t.Errorf("MakeSafeASCII() = %q, want %q", got, "VISA.")
	}
}
