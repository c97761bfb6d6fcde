package iso7816

import (
	"fmt"

	"github.com/gregLibert/cardsim/pkg/bits"
)

// Instruction Byte (INS) according to ISO/IEC 7816-4.
//
// INS values where the upper nibble is '6' or '9' are invalid: they are
// reserved for SW1 and for the transport procedure bytes of ISO/IEC 7816-3.
// Bit 1 of an interindustry INS flags a BER-TLV encoded data field
// (e.g. READ BINARY 'B0' vs 'B1').

// InsCode is a typed representation of the instruction byte.
type InsCode byte

// Common interindustry instruction codes.
const (
	INS_VERIFY                InsCode = 0x20
	INS_MANAGE_SECURITY_ENV   InsCode = 0x22
	INS_CHANGE_REFERENCE_DATA InsCode = 0x24
	INS_PERFORM_SECURITY_OP   InsCode = 0x2A
	INS_MANAGE_CHANNEL        InsCode = 0x70
	INS_EXTERNAL_AUTHENTICATE InsCode = 0x82
	INS_GET_CHALLENGE         InsCode = 0x84
	INS_GENERAL_AUTHENTICATE  InsCode = 0x86
	INS_INTERNAL_AUTHENTICATE InsCode = 0x88
	INS_SELECT                InsCode = 0xA4
	INS_READ_BINARY           InsCode = 0xB0
	INS_READ_RECORD           InsCode = 0xB2
	INS_GET_RESPONSE          InsCode = 0xC0
	INS_ENVELOPE              InsCode = 0xC2
	INS_GET_DATA              InsCode = 0xCA
	INS_UPDATE_BINARY         InsCode = 0xD6
	INS_PUT_DATA              InsCode = 0xDA
	INS_UPDATE_RECORD         InsCode = 0xDC
)

var insNames = map[InsCode]string{
	INS_VERIFY:                "VERIFY",
	INS_MANAGE_SECURITY_ENV:   "MANAGE SECURITY ENVIRONMENT",
	INS_CHANGE_REFERENCE_DATA: "CHANGE REFERENCE DATA",
	INS_PERFORM_SECURITY_OP:   "PERFORM SECURITY OPERATION",
	INS_MANAGE_CHANNEL:        "MANAGE CHANNEL",
	INS_EXTERNAL_AUTHENTICATE: "EXTERNAL AUTHENTICATE",
	INS_GET_CHALLENGE:         "GET CHALLENGE",
	INS_GENERAL_AUTHENTICATE:  "GENERAL AUTHENTICATE",
	INS_INTERNAL_AUTHENTICATE: "INTERNAL AUTHENTICATE",
	INS_SELECT:                "SELECT",
	INS_READ_BINARY:           "READ BINARY",
	INS_READ_RECORD:           "READ RECORD",
	INS_GET_RESPONSE:          "GET RESPONSE",
	INS_ENVELOPE:              "ENVELOPE",
	INS_GET_DATA:              "GET DATA",
	INS_UPDATE_BINARY:         "UPDATE BINARY",
	INS_PUT_DATA:              "PUT DATA",
	INS_UPDATE_RECORD:         "UPDATE RECORD",
}

// Valid reports whether the code is usable as an INS byte.
func (i InsCode) Valid() bool {
	highNibble := byte(i) & 0xF0
	return highNibble != 0x60 && highNibble != 0x90
}

// IsBERTLV reports whether bit 1 flags a BER-TLV data field.
func (i InsCode) IsBERTLV() bool {
	return bits.IsSet(byte(i), 1)
}

func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("InsCode(0x%02X)", byte(i))
}

// Verbose returns a human-readable description of the instruction.
func (i InsCode) Verbose() string {
	return fmt.Sprintf("INS: %02X (%s)", byte(i), i)
}
