package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/cardsim/pkg/tlv"
)

// TRANSACTION:
// One Command APDU sent by the terminal followed by one Response APDU from the card.
//
// TRACE:
// The chronological sequence of transactions performed for one logical request.
// A single intent may take several physical exchanges ("61 XX" then GET RESPONSE,
// "6C XX" then a re-send), and IsSuccess() evaluates the final outcome.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess checks if the transaction ended with a successful status.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess checks if the FINAL transaction in the trace was successful.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Describe generates an ASCII report of the exchange: every step with its
// status, then the final data field with a BER-TLV breakdown when it parses.
func (t Trace) Describe() string {
	var sb strings.Builder

	sb.WriteString("=== APDU EXCHANGE REPORT ===\n")

	for i, tx := range t {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, tx.Command))
		if tx.Response == nil {
			sb.WriteString("    + Result:  (no response)\n")
			continue
		}

		status := tx.Response.Status
		resultMsg := "[OK]"
		if !status.IsSuccess() {
			resultMsg = "[!!]"
		}
		sb.WriteString(fmt.Sprintf("    + Result:  [%02X %02X] %s %s\n", status.SW1(), status.SW2(), resultMsg, status.Verbose()))
	}

	sb.WriteString("[=] DATA OUTCOME:\n")

	last := t.Last()
	if last == nil || last.Response == nil || len(last.Response.Data) == 0 {
		sb.WriteString("    - No Data Received.\n")
		return strings.TrimRight(sb.String(), "\n")
	}

	payload := last.Response.Data
	sb.WriteString(fmt.Sprintf("    + Length: %d bytes\n", len(payload)))
	sb.WriteString(fmt.Sprintf("    + Dump:   %X\n", payload))
	sb.WriteString(fmt.Sprintf("    + ASCII:  %q\n", tlv.MakeSafeASCII(payload)))

	if tree, err := tlv.Dump(payload); err == nil && tree != "" {
		sb.WriteString("    + BER-TLV:\n")
		sb.WriteString(tree)
	}

	return strings.TrimRight(sb.String(), "\n")
}
