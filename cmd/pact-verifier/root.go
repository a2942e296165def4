package main

import (
	"io"

	"github.com/form3tech-oss/pact-verifier/internal/app/configuration"
	"github.com/spf13/cobra"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string

	config    configuration.Config
	logCloser io.Closer
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pact-verifier",
		Short: "Verify a provider against consumer pacts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	// errors are logged by main
	cmd.SilenceErrors = true

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML configuration file, overridden by the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	config, err := configuration.Load(o.ConfigFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		config.Logging.Level = o.LogLevel
	}
	if cmd.Flags().Changed("log-format") {
		config.Logging.Format = o.LogFormat
	}

	closer, err := configuration.ConfigureLogging(config.Logging)
	if err != nil {
		return err
	}
	o.config = config
	o.logCloser = closer
	return nil
}
