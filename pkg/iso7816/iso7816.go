/*
Package iso7816 implements the APDU model used to talk to smart cards according to ISO/IEC 7816-3 and 7816-4.

It provides Command and Response structures, Status Word (SW) analysis and a
Client that hides the T=0 style transport procedures (61XX, 6CXX) behind a
single Send call. The physical side is abstracted by Transmitter, implemented
by PC/SC readers and by the card-simulator channel alike.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - Other: Various error conditions.

# Usage Example

	client := iso7816.NewClient(transmitter)

	cmd := iso7816.NewCommandAPDU(0x00, iso7816.INS_SELECT, 0x04, 0x00, aid, iso7816.MaxShortLe)
	trace, err := client.Send(cmd)
	if err != nil {
	    log.Fatal(err)
	}

	if trace.IsSuccess() {
	    fmt.Printf("FCI: %X\n", trace.Last().Response.Data)
	}

	fmt.Println(trace.Describe())
*/
package iso7816
