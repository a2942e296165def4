package configuration

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/pactsource"
	"github.com/form3tech-oss/pact-verifier/internal/app/verification"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is read from an optional YAML file, then from the environment. Environment variables
// override values of the file.
type Config struct {
	ProviderURL            string            `env:"PROVIDER_URL,overwrite" yaml:"provider_url"`
	StateChangeURL         string            `env:"STATE_CHANGE_URL,overwrite" yaml:"state_change_url"`
	StateTeardown          bool              `env:"STATE_TEARDOWN,overwrite" yaml:"state_teardown"`
	RequestTimeout         time.Duration     `env:"REQUEST_TIMEOUT,overwrite" yaml:"request_timeout"`
	Concurrency            int               `env:"CONCURRENCY,overwrite" yaml:"concurrency"`
	ConcurrentSharedStates bool              `env:"CONCURRENT_SHARED_STATES,overwrite" yaml:"concurrent_shared_states"`
	CustomHeaders          map[string]string `env:"CUSTOM_HEADERS,overwrite" yaml:"custom_headers"` // e.g. Authorization:Bearer abc,X-Tenant:t1

	Retry   RetryConfig   `env:",prefix=RETRY_" yaml:"retry"`
	Filter  FilterConfig  `env:",prefix=FILTER_" yaml:"filter"`
	Broker  BrokerConfig  `env:",prefix=BROKER_" yaml:"broker"`
	Logging LoggingConfig `env:",prefix=LOG_" yaml:"logging"`
	Server  ServerConfig  `env:",prefix=SERVER_" yaml:"server"`
}

type RetryConfig struct {
	Attempts    uint          `env:"ATTEMPTS,overwrite" yaml:"attempts"`
	Delay       time.Duration `env:"DELAY,overwrite" yaml:"delay"`
	MaxDelay    time.Duration `env:"MAX_DELAY,overwrite" yaml:"max_delay"`
	Exponential bool          `env:"EXPONENTIAL,overwrite" yaml:"exponential"`
	// All retries every interaction, not only the pending ones.
	All bool `env:"ALL,overwrite" yaml:"all"`
}

type FilterConfig struct {
	Description string `env:"DESCRIPTION,overwrite" yaml:"description"`
	State       string `env:"STATE,overwrite" yaml:"state"`
	NoState     bool   `env:"NO_STATE,overwrite" yaml:"no_state"`
}

type BrokerConfig struct {
	URL             string                               `env:"URL,overwrite" yaml:"url"`
	Provider        string                               `env:"PROVIDER,overwrite" yaml:"provider"`
	Username        string                               `env:"USERNAME,overwrite" yaml:"username"`
	Password        string                               `env:"PASSWORD,overwrite" yaml:"password"`
	Token           string                               `env:"TOKEN,overwrite" yaml:"token"`
	ProviderTags    []string                             `env:"PROVIDER_TAGS,overwrite" yaml:"provider_tags"`
	ProviderBranch  string                               `env:"PROVIDER_BRANCH,overwrite" yaml:"provider_branch"`
	IncludePending  bool                                 `env:"INCLUDE_PENDING,overwrite" yaml:"include_pending"`
	IncludeWIPSince string                               `env:"INCLUDE_WIP_SINCE,overwrite" yaml:"include_wip_since"`
	Selectors       []pactsource.ConsumerVersionSelector `yaml:"selectors"`
}

type LoggingConfig struct {
	Level      string `env:"LEVEL,overwrite" yaml:"level"`
	Format     string `env:"FORMAT,overwrite" yaml:"format"` // text or json
	File       string `env:"FILE,overwrite" yaml:"file"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB,overwrite" yaml:"max_size_mb"`
	MaxBackups int    `env:"MAX_BACKUPS,overwrite" yaml:"max_backups"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS,overwrite" yaml:"max_age_days"`
}

type ServerConfig struct {
	Addresses    []string      `env:"ADDRESSES,delimiter=;,overwrite" yaml:"addresses"` // e.g. http://localhost:8080;http://localhost:8081/verifier
	WaitDelay    time.Duration `env:"WAIT_DELAY,overwrite" yaml:"wait_delay"`           // Default delay of the wait endpoints
	WaitDuration time.Duration `env:"WAIT_DURATION,overwrite" yaml:"wait_duration"`     // Default duration of the wait endpoints
	TLSCertFile  string        `env:"TLS_CERT_FILE,overwrite" yaml:"tls_cert_file"`
	TLSKeyFile   string        `env:"TLS_KEY_FILE,overwrite" yaml:"tls_key_file"`
	TLSCAFile    string        `env:"TLS_CA_FILE,overwrite" yaml:"tls_ca_file"`
}

func NewFromEnv() (Config, error) {
	return Load("")
}

// Load reads the YAML file at path, when path is not empty, then applies the environment.
func Load(path string) (Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, errors.Wrapf(err, "read config file '%s'", path)
		}
		if err := decodeYAML(data, &config); err != nil {
			return config, errors.Wrapf(err, "config file '%s'", path)
		}
	}
	return process(context.Background(), &config, envconfig.OsLookuper())
}

func process(ctx context.Context, config *Config, lookuper envconfig.Lookuper) (Config, error) {
	if err := envconfig.ProcessWith(ctx, config, lookuper); err != nil {
		return *config, errors.Wrap(err, "process env config")
	}
	return *config, nil
}

// VerifierOptions builds the options of the verifier. They are validated by verification.New.
func (c Config) VerifierOptions() (verification.Options, error) {
	opts := verification.Options{
		StateTeardown:          c.StateTeardown,
		RequestTimeout:         c.RequestTimeout,
		Concurrency:            c.Concurrency,
		ConcurrentSharedStates: c.ConcurrentSharedStates,
		Retry: verification.RetryPolicy{
			Attempts:    c.Retry.Attempts,
			Delay:       c.Retry.Delay,
			MaxDelay:    c.Retry.MaxDelay,
			Backoff:     verification.FixedBackoff,
			PendingOnly: !c.Retry.All,
		},
		Filter: verification.Filter{
			Description: c.Filter.Description,
			State:       c.Filter.State,
			NoState:     c.Filter.NoState,
		},
	}
	if c.Retry.Exponential {
		opts.Retry.Backoff = verification.ExponentialBackoff
	}

	var err error
	if opts.ProviderURL, err = parseURL("provider url", c.ProviderURL); err != nil {
		return opts, err
	}
	if opts.StateChangeURL, err = parseURL("state change url", c.StateChangeURL); err != nil {
		return opts, err
	}

	if len(c.CustomHeaders) > 0 {
		opts.CustomHeaders = http.Header{}
		for name, value := range c.CustomHeaders {
			opts.CustomHeaders.Set(name, value)
		}
	}
	return opts, nil
}

// BrokerConfig returns the pact broker settings, or false when no broker is configured.
func (c Config) BrokerConfig() (pactsource.BrokerConfig, bool, error) {
	if c.Broker.URL == "" {
		return pactsource.BrokerConfig{}, false, nil
	}
	u, err := parseURL("broker url", c.Broker.URL)
	if err != nil {
		return pactsource.BrokerConfig{}, true, err
	}
	return pactsource.BrokerConfig{
		URL:             u,
		Provider:        c.Broker.Provider,
		Username:        c.Broker.Username,
		Password:        c.Broker.Password,
		Token:           c.Broker.Token,
		Selectors:       c.Broker.Selectors,
		ProviderTags:    c.Broker.ProviderTags,
		ProviderBranch:  c.Broker.ProviderBranch,
		IncludePending:  c.Broker.IncludePending,
		IncludeWIPSince: c.Broker.IncludeWIPSince,
	}, true, nil
}

func parseURL(option, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &verification.ConfigurationError{Option: option, Reason: err.Error()}
	}
	return u, nil
}

func decodeYAML(data []byte, config *Config) error {
	if err := yaml.Unmarshal(data, config); err != nil {
		return errors.Wrap(err, "parse yaml")
	}
	return nil
}
