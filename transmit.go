package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gregLibert/cardsim/pkg/config"
	"github.com/gregLibert/cardsim/pkg/iso7816"
	"github.com/gregLibert/cardsim/pkg/pcsc"
	"github.com/gregLibert/cardsim/pkg/simulator"
	"github.com/gregLibert/cardsim/pkg/tlv"
)

var errCommandFailed = errors.New("at least one command did not complete successfully")

type transmitOptions struct {
	host         string
	port         int
	usePCSC      bool
	readerIndex  int
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newTransmitCmd(root *rootOptions) *cobra.Command {
	opts := &transmitOptions{}

	cmd := &cobra.Command{
		Use:   "transmit APDU...",
		Short: "Send hex-encoded command APDUs and print the exchange report",
		Long: `Send each command APDU in order. GET RESPONSE (61XX) and Le correction
(6CXX) are handled automatically, and the final data field is dumped as
BER-TLV when it parses.

Examples:
  cardsim transmit 00A4040007A000000004101000
  cardsim transmit --port 35963 --read-timeout 0 "00 A4 04 00 0E 32 50 41 59 2E 53 59 53 2E 44 44 46 30 31 00"
  cardsim transmit --pcsc 00B2010C00`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			opts.override(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			commands, err := parseCommands(args)
			if err != nil {
				return err
			}

			transmitter, release, err := openTransmitter(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			return runCommands(cmd.OutOrStdout(), iso7816.NewClient(transmitter), commands)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", "", "simulator host")
	flags.IntVar(&opts.port, "port", 0, "simulator port")
	flags.BoolVar(&opts.usePCSC, "pcsc", false, "use a PC/SC reader instead of the simulator")
	flags.IntVar(&opts.readerIndex, "reader", 0, "PC/SC reader index")
	flags.DurationVar(&opts.readTimeout, "read-timeout", 0, "response timeout, 0 waits forever")
	flags.DurationVar(&opts.writeTimeout, "write-timeout", 0, "command write timeout, 0 waits forever")
	return cmd
}

// override applies the flags set on the command line.
func (o *transmitOptions) override(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Simulator.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Simulator.Port = o.port
	}
	if flags.Changed("pcsc") {
		cfg.PCSC.Enabled = o.usePCSC
	}
	if flags.Changed("reader") {
		cfg.PCSC.ReaderIndex = o.readerIndex
	}
	if flags.Changed("read-timeout") {
		cfg.Simulator.ReadTimeout = o.readTimeout
	}
	if flags.Changed("write-timeout") {
		cfg.Simulator.WriteTimeout = o.writeTimeout
	}
}

func parseCommands(args []string) ([]*iso7816.CommandAPDU, error) {
	commands := make([]*iso7816.CommandAPDU, 0, len(args))
	for i, arg := range args {
		raw, err := tlv.ParseHex(arg)
		if err != nil {
			return nil, fmt.Errorf("APDU #%d: %w", i+1, err)
		}
		cmd, err := iso7816.ParseCommandAPDU(raw)
		if err != nil {
			return nil, fmt.Errorf("APDU #%d: %w", i+1, err)
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// openTransmitter connects to the PC/SC reader or the simulator. release
// closes the connection.
func openTransmitter(ctx context.Context, cfg config.Config, logger zerolog.Logger) (iso7816.Transmitter, func(), error) {
	if cfg.PCSC.Enabled {
		reader, err := pcsc.Open(cfg.PCSC.ReaderIndex, logger)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() {
			if err := reader.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing PC/SC reader")
			}
		}, nil
	}

	sim := cfg.Simulator
	card := simulator.NewCard(sim.Host, sim.Port,
		simulator.WithConnectTimeout(sim.ConnectTimeout),
		simulator.WithCardLogger(logger),
		simulator.WithChannelOptions(
			simulator.WithMaxMessageLength(sim.MaxMessageLength),
			simulator.WithMaxResponseLength(sim.MaxResponseLength),
			simulator.WithExtendedLength(sim.ExtendedLength),
			simulator.WithPollInterval(sim.PollInterval),
		),
	)

	channel, err := card.OpenBasicChannel(ctx)
	if err != nil {
		return nil, nil, err
	}
	return channel.Transmitter(sim.WriteTimeout, sim.ReadTimeout), func() { _ = card.Disconnect(false) }, nil
}

func runCommands(out io.Writer, client *iso7816.Client, commands []*iso7816.CommandAPDU) error {
	failed := false
	for _, cmd := range commands {
		trace, err := client.Send(cmd)
		if len(trace) > 0 {
			fmt.Fprintln(out, trace.Describe())
			fmt.Fprintln(out)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.INS, err)
		}
		if !trace.IsSuccess() {
			failed = true
		}
	}

	if failed {
		return errCommandFailed
	}
	return nil
}
