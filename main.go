package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gregLibert/cardsim/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "cardsim",
		Short: "Exchange APDUs with a TCP card simulator or a PC/SC reader",
		Long: `cardsim talks to a smart card simulator over TCP, each APDU wrapped in a
BER-TLV frame (tag 80), or to a physical card through PC/SC.

Settings come from --config (TOML or YAML), then CARDSIM_* environment
variables, then command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (.toml, .yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newTransmitCmd(opts), newServeCmd(opts))
	return root
}

// setup loads the configuration, applies the root flags and builds the
// logger. The closer releases the log file.
func (o *rootOptions) setup(cmd *cobra.Command) (config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}

	logger, closer, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, zerolog.Nop(), nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, logger, closer, nil
}
