// Package verification replays the interactions of a pact against a running provider and
// collects the outcome of every interaction into a report.
package verification

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRetryDelay     = 500 * time.Millisecond
)

type Backoff string

const (
	FixedBackoff       Backoff = "fixed"
	ExponentialBackoff Backoff = "exponential"
)

// RetryPolicy controls how often a failing interaction is sent again before it is reported.
type RetryPolicy struct {
	// Attempts is the total number of attempts, including the first one.
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
	Backoff  Backoff
	// PendingOnly restricts retries to pending interactions.
	PendingOnly bool
}

// Filter selects the interactions to verify. Empty fields select everything.
type Filter struct {
	Description string
	State       string
	// NoState selects only interactions without a provider state.
	NoState bool
}

type Options struct {
	ProviderURL    *url.URL
	StateChangeURL *url.URL
	// StateTeardown sends a teardown state change after each interaction.
	StateTeardown  bool
	RequestTimeout time.Duration
	Retry          RetryPolicy
	// Concurrency bounds how many interactions run at the same time. Zero or one runs them
	// sequentially.
	Concurrency int
	// ConcurrentSharedStates lets interactions that share a provider state name run at the same
	// time. By default they are serialized.
	ConcurrentSharedStates bool
	Filter                 Filter
	// CustomHeaders are added to every request, replacing headers of the same name.
	CustomHeaders http.Header
}

// ConfigurationError reports an invalid option.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Option, e.Reason)
}

func invalid(option, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Option: option, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the options. Every error it returns is a *ConfigurationError.
func (o Options) Validate() error {
	if err := validateURL("provider url", o.ProviderURL, true); err != nil {
		return err
	}
	if err := validateURL("state change url", o.StateChangeURL, false); err != nil {
		return err
	}
	if o.RequestTimeout < 0 {
		return invalid("request timeout", "must not be negative, got %s", o.RequestTimeout)
	}
	if o.Concurrency < 0 {
		return invalid("concurrency", "must not be negative, got %d", o.Concurrency)
	}
	if o.Retry.Delay < 0 || o.Retry.MaxDelay < 0 {
		return invalid("retry delay", "must not be negative")
	}
	if o.Retry.MaxDelay > 0 && o.Retry.MaxDelay < o.Retry.Delay {
		return invalid("retry delay", "max delay %s is shorter than delay %s", o.Retry.MaxDelay, o.Retry.Delay)
	}
	switch o.Retry.Backoff {
	case "", FixedBackoff, ExponentialBackoff:
	default:
		return invalid("retry backoff", "unknown backoff '%s'", o.Retry.Backoff)
	}
	if _, err := regexp.Compile(o.Filter.Description); err != nil {
		return invalid("description filter", "%s", err)
	}
	if _, err := regexp.Compile(o.Filter.State); err != nil {
		return invalid("state filter", "%s", err)
	}
	if o.Filter.NoState && o.Filter.State != "" {
		return invalid("state filter", "cannot filter on a state name and on interactions without state")
	}
	return nil
}

func validateURL(option string, u *url.URL, required bool) error {
	if u == nil || u.String() == "" {
		if required {
			return invalid(option, "is required")
		}
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid(option, "scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return invalid(option, "has no host")
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout == 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.Retry.Attempts == 0 {
		o.Retry.Attempts = 1
	}
	if o.Retry.Delay == 0 {
		o.Retry.Delay = defaultRetryDelay
	}
	if o.Retry.Backoff == "" {
		o.Retry.Backoff = FixedBackoff
	}
	return o
}
