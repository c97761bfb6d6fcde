/*
Package simulator connects to a card-simulator process over TCP and exposes it
as a card reader channel.

# Wire Format

Each command APDU is wrapped in a single frame (see package frame) and the
simulator answers with exactly one frame holding the response APDU. There is
no multiplexing, no sequence number and no heartbeat.

# Transmit

Channel.Transmit writes the framed command, then polls the stream:

  - while the stream has no data, it sleeps one poll interval and retries;
  - while the stream has data, it reads into the response buffer;
  - it stops once the stream is quiet and either bytes were received or the
    read deadline has passed.

A read timeout of zero disables the deadline and waits for the simulator
indefinitely. The accumulated bytes are size checked, unwrapped and parsed as
an R-APDU.

# Usage Example

	card := simulator.NewCard("127.0.0.1", 8866)
	defer card.Disconnect(false)

	channel, err := card.OpenBasicChannel(ctx)
	if err != nil {
	    log.Fatal(err)
	}

	resp, err := channel.Transmit(iso7816.RawCommand(apdu), time.Second, 5*time.Second)
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(resp.Status.Verbose())
*/
package simulator
