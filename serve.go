package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/gregLibert/cardsim/pkg/cardsim"
)

type serveOptions struct {
	listen string
	delay  time.Duration
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a loopback card simulator that echoes command data with 9000",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = opts.listen
			}
			if cmd.Flags().Changed("delay") {
				cfg.Server.ResponseDelay = opts.delay
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			server := cardsim.NewServer(cardsim.EchoHandler,
				cardsim.WithMaxCommandLength(cfg.Simulator.MaxMessageLength),
				cardsim.WithResponseDelay(cfg.Server.ResponseDelay),
				cardsim.WithLogger(logger),
			)
			if err := server.Listen(cfg.Server.Listen); err != nil {
				return err
			}
			cmd.Printf("card simulator listening on %s\n", server.Addr())

			go func() {
				<-cmd.Context().Done()
				logger.Info().Msg("shutting down card simulator")
				server.Close()
			}()

			return server.Serve()
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address (host:port)")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "delay before every response")
	return cmd
}
