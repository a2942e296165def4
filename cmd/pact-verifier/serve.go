package main

import (
	"context"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/configuration"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addresses []string

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve the verification API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := rootOpts.config
			if cmd.Flags().Changed("address") {
				config.Server.Addresses = addresses
			}

			if err := configuration.ServeVerificationAPI(config); err != nil {
				return err
			}

			<-cmd.Context().Done()
			log.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			configuration.ShutdownAllServers(ctx)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&addresses, "address", nil, "address to serve the API on, e.g. http://:8080 (repeatable)")

	return cmd
}
