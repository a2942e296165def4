package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/configuration"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/form3tech-oss/pact-verifier/internal/app/pactsource"
	"github.com/form3tech-oss/pact-verifier/internal/app/verification"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var errVerificationFailed = errors.New("verification failed")

type VerifyOptions struct {
	ProviderURL    string
	StateChangeURL string
	BrokerURL      string
	Provider       string
	Concurrency    int
	Format         string
	Output         string
	Watch          bool
	Debounce       time.Duration
}

func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify [pact files or directories...]",
		Short: "Verify the provider against pacts from files, directories or a pact broker",
		Long: `Verify the provider against pacts read from files and directories, and from the
pact broker when one is configured. Exits with status 1 when a blocking interaction fails.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := opts.apply(cmd, rootOpts.config)
			if opts.Format != "text" && opts.Format != "json" {
				return errors.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			if len(args) == 0 && config.Broker.URL == "" {
				return errors.New("no pacts to verify: pass pact files or directories, or configure a pact broker")
			}
			if opts.Watch && len(args) == 0 {
				return errors.New("--watch needs pact files or directories")
			}

			run := func(ctx context.Context) error {
				return runVerify(ctx, config, args, opts, cmd.OutOrStdout())
			}
			if !opts.Watch {
				return run(cmd.Context())
			}

			if err := run(cmd.Context()); err != nil && !errors.Is(err, errVerificationFailed) {
				log.Error(err)
			}
			return pactsource.Watch(cmd.Context(), args, opts.Debounce, func() {
				log.Info("pacts changed, verifying again")
				if err := run(cmd.Context()); err != nil && !errors.Is(err, errVerificationFailed) {
					log.Error(err)
				}
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ProviderURL, "provider-url", "", "base URL of the provider")
	flags.StringVar(&opts.StateChangeURL, "state-change-url", "", "URL provider state changes are posted to")
	flags.StringVar(&opts.BrokerURL, "broker-url", "", "pact broker to fetch pacts from")
	flags.StringVar(&opts.Provider, "provider", "", "provider name used to fetch pacts from the broker")
	flags.IntVar(&opts.Concurrency, "concurrency", 0, "interactions verified at the same time")
	flags.StringVar(&opts.Format, "format", "text", "report format (text|json)")
	flags.StringVarP(&opts.Output, "output", "o", "", "write the report to a file instead of stdout")
	flags.BoolVarP(&opts.Watch, "watch", "w", false, "verify again every time a pact file changes")
	flags.DurationVar(&opts.Debounce, "debounce", 250*time.Millisecond, "time to wait for pact changes to settle in watch mode")

	return cmd
}

// apply overrides the configuration with the flags set on the command line.
func (o *VerifyOptions) apply(cmd *cobra.Command, config configuration.Config) configuration.Config {
	flags := cmd.Flags()
	if flags.Changed("provider-url") {
		config.ProviderURL = o.ProviderURL
	}
	if flags.Changed("state-change-url") {
		config.StateChangeURL = o.StateChangeURL
	}
	if flags.Changed("broker-url") {
		config.Broker.URL = o.BrokerURL
	}
	if flags.Changed("provider") {
		config.Broker.Provider = o.Provider
	}
	if flags.Changed("concurrency") {
		config.Concurrency = o.Concurrency
	}
	return config
}

func runVerify(ctx context.Context, config configuration.Config, paths []string, opts *VerifyOptions, stdout io.Writer) error {
	options, err := config.VerifierOptions()
	if err != nil {
		return err
	}
	verifier, err := verification.New(options, nil, nil)
	if err != nil {
		return err
	}

	pacts, err := loadPacts(ctx, config, paths)
	if err != nil {
		return err
	}

	reports := make([]*verification.Report, 0, len(pacts))
	for _, p := range pacts {
		reports = append(reports, verifier.Verify(ctx, p))
	}
	summary := verification.Merge(reports...)

	out := stdout
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return errors.Wrapf(err, "unable to create report file '%s'", opts.Output)
		}
		defer f.Close()
		out = f
	}
	if err := writeSummary(out, summary, opts.Format); err != nil {
		return err
	}

	if !summary.Success {
		return errVerificationFailed
	}
	return nil
}

func loadPacts(ctx context.Context, config configuration.Config, paths []string) ([]*pact.Pact, error) {
	pacts, err := pactsource.LoadPaths(paths)
	if err != nil {
		return nil, err
	}

	brokerConfig, ok, err := config.BrokerConfig()
	if err != nil || !ok {
		return pacts, err
	}
	broker, err := pactsource.NewBroker(brokerConfig, nil)
	if err != nil {
		return nil, err
	}
	fromBroker, err := broker.Pacts(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("fetched %d pacts from %s", len(fromBroker), brokerConfig.URL)
	return append(pacts, fromBroker...), nil
}

func writeSummary(w io.Writer, summary *verification.Summary, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return errors.Wrap(encoder.Encode(summary), "unable to write report")
	}
	if err := summary.WriteText(w); err != nil {
		return errors.Wrap(err, "unable to write report")
	}
	if !summary.Success {
		_, err := fmt.Fprintln(w, "verification failed")
		return err
	}
	return nil
}
