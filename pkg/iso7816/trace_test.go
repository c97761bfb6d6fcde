package iso7816

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/cardsim/pkg/tlv"
)

func makeTx(sw StatusWord) Transaction {
	return Transaction{
		Command:  &CommandAPDU{},
		Response: NewResponseAPDU(nil, sw),
	}
}

func TestTransaction_IsSuccess(t *testing.T) {
	tests := []struct {
		name string
		tx   Transaction
		want bool
	}{
		{
			name: "Successful Transaction (9000)",
			tx:   makeTx(SW_NO_ERROR),
			want: true,
		},
		{
			name: "Warning/Process Completed (6110)",
			tx:   makeTx(NewStatusWord(0x61, 0x10)),
			want: true, // 61xx is considered a success in IsSuccess() logic
		},
		{
			name: "Error Transaction (6A82)",
			tx:   makeTx(SW_ERR_FILE_NOT_FOUND),
			want: false,
		},
		{
			name: "Nil Response (Incomplete Transaction)",
			tx:   Transaction{Command: &CommandAPDU{}, Response: nil},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tx.IsSuccess(); got != tt.want {
				t.Errorf("Transaction.IsSuccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrace_Logic(t *testing.T) {
	t.Run("Empty Trace", func(t *testing.T) {
		var tr Trace
		if tr.Last() != nil {
			t.Error("Empty trace Last() should be nil")
		}
		if tr.IsSuccess() {
			t.Error("Empty trace IsSuccess() should be false")
		}
	})

	t.Run("Single Transaction Trace", func(t *testing.T) {
		tr := Trace{makeTx(SW_NO_ERROR)}
		if tr.Last() == nil {
			t.Fatal("Last() should not be nil")
		}
		if !tr.IsSuccess() {
			t.Error("Should be successful")
		}
	})

	t.Run("Multi-Step Trace (Scenario: 61XX then 9000)", func(t *testing.T) {
		// Simulates:
		// 1. SELECT -> 61 10 (Response available)
		// 2. GET RESPONSE -> 90 00 (Success)
		tr := Trace{
			makeTx(NewStatusWord(0x61, 0x10)),
			makeTx(SW_NO_ERROR),
		}

		if tr.Last().Response.Status != SW_NO_ERROR {
			t.Errorf("Last transaction mismatch")
		}
		if !tr.IsSuccess() {
			t.Error("Trace should be successful if the last action succeeded")
		}
	})

	t.Run("Multi-Step Trace (Scenario: Failure at the end)", func(t *testing.T) {
		// Simulates a failure on the final step
		tr := Trace{
			makeTx(SW_NO_ERROR),           // Previous step ok
			makeTx(SW_ERR_FILE_NOT_FOUND), // Final step fails
		}

		if tr.IsSuccess() {
			t.Error("Trace should fail if the last action failed")
		}
	})
}

func TestTrace_Describe(t *testing.T) {
	selectCmd := NewCommandAPDU(0x00, INS_SELECT, 0x04, 0x00, tlv.Hex("A0000000041010"), MaxShortLe)
	getResp := NewCommandAPDU(0x00, INS_GET_RESPONSE, 0x00, 0x00, nil, 0x05)

	tr := Trace{
		{Command: selectCmd, Response: NewResponseAPDU(nil, NewStatusWord(0x61, 0x05))},
		{Command: getResp, Response: NewResponseAPDU(tlv.Hex("50 03 564953"), SW_NO_ERROR)},
	}

	expectedLines := []string{
		"=== APDU EXCHANGE REPORT ===",
		"[1] CLA: 00 | INS: A4 (SELECT) | P1: 04, P2: 00 | Lc: 7 | Le: 256",
		"    + Result:  [61 05] [OK] Process completed, 5 bytes available",
		"[2] CLA: 00 | INS: C0 (GET RESPONSE) | P1: 00, P2: 00 | Lc: 0 | Le: 5",
		"    + Result:  [90 00] [OK] [9000] SW_NO_ERROR",
		"[=] DATA OUTCOME:",
		"    + Length: 5 bytes",
		"    + Dump:   5003564953",
		`    + ASCII:  "P.VIS"`,
		"    + BER-TLV:",
		`    - 50: 564953 ("VIS")`,
	}

	actualLines := strings.Split(tr.Describe(), "\n")
	if diff := cmp.Diff(expectedLines, actualLines); diff != "" {
		t.Errorf("Describe() mismatch (-want +got):\n%s", diff)
	}
}

func TestTrace_DescribeNoData(t *testing.T) {
	tr := Trace{makeTx(SW_ERR_FILE_NOT_FOUND)}
	got := tr.Describe()

	if !strings.Contains(got, "[!!] [6A82] SW_ERR_FILE_NOT_FOUND") {
		t.Errorf("missing failure line in:\n%s", got)
	}
	if !strings.HasSuffix(got, "    - No Data Received.") {
		t.Errorf("missing no-data outcome in:\n%s", got)
	}
}
