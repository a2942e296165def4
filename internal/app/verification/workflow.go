package verification

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/form3tech-oss/pact-verifier/internal/app/matching"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Verifier replays pacts against a provider.
type Verifier struct {
	opts        Options
	client      HTTPDoer
	states      StateChanger
	description *regexp.Regexp
	state       *regexp.Regexp
}

// New validates opts and returns a verifier sending requests through client. When states is nil
// and a state change URL is configured, provider states are set up over HTTP through client.
func New(opts Options, client HTTPDoer, states StateChanger) (*Verifier, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	if client == nil {
		client = &http.Client{}
	}
	if states == nil && opts.StateChangeURL != nil && opts.StateChangeURL.String() != "" {
		states = NewHTTPStateChanger(opts.StateChangeURL, client, opts.RequestTimeout)
	}

	return &Verifier{
		opts:        opts,
		client:      client,
		states:      states,
		description: regexp.MustCompile(opts.Filter.Description),
		state:       regexp.MustCompile(opts.Filter.State),
	}, nil
}

// Verify runs every selected interaction of p and returns the report. Cancelling ctx stops
// scheduling interactions: those already running finish, the others are reported as cancelled.
func (v *Verifier) Verify(ctx context.Context, p *pact.Pact) *Report {
	logger := log.WithFields(log.Fields{
		"consumer": p.Consumer.Name,
		"provider": p.Provider.Name,
	})

	selected := v.selected(p)
	logger.Infof("verifying %d of %d interactions", len(selected), len(p.Interactions))

	results := make([]*VerificationResult, len(selected))
	if v.opts.Concurrency <= 1 {
		for n, i := range selected {
			if ctx.Err() != nil {
				results[n] = cancelled(p, i)
				continue
			}
			results[n] = v.verifyInteraction(ctx, p, i)
		}
	} else {
		locks := &stateLocks{locks: map[string]*sync.Mutex{}}
		g := new(errgroup.Group)
		g.SetLimit(v.opts.Concurrency)
		for n, i := range selected {
			n, i := n, i
			if ctx.Err() != nil {
				results[n] = cancelled(p, i)
				continue
			}
			g.Go(func() error {
				if !v.opts.ConcurrentSharedStates {
					defer locks.lock(i.ProviderStates)()
				}
				if ctx.Err() != nil {
					results[n] = cancelled(p, i)
					return nil
				}
				results[n] = v.verifyInteraction(ctx, p, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	report := Aggregate(p, results)
	report.Skipped = len(p.Interactions) - len(selected)
	if ctx.Err() != nil {
		logger.Warn("verification cancelled")
	}
	return report
}

func (v *Verifier) selected(p *pact.Pact) []*pact.Interaction {
	var selected []*pact.Interaction
	for _, i := range p.Interactions {
		if !v.description.MatchString(i.Description) {
			continue
		}
		if v.opts.Filter.NoState && len(i.ProviderStates) > 0 {
			continue
		}
		if v.opts.Filter.State != "" && !v.matchesState(i) {
			continue
		}
		selected = append(selected, i)
	}
	return selected
}

func (v *Verifier) matchesState(i *pact.Interaction) bool {
	for _, s := range i.ProviderStates {
		if v.state.MatchString(s.Name) {
			return true
		}
	}
	return false
}

func newResult(p *pact.Pact, i *pact.Interaction) *VerificationResult {
	r := &VerificationResult{
		InteractionID: i.ID,
		Description:   i.Description,
		ProviderState: i.StateKey(),
		Pending:       i.Pending || p.Pending || p.WIP,
	}
	r.transition(StatePending)
	return r
}

func cancelled(p *pact.Pact, i *pact.Interaction) *VerificationResult {
	r := newResult(p, i)
	r.finish([]matching.Mismatch{matching.Failure(matching.Cancelled, "verification was cancelled before the interaction ran")})
	return r
}

func (v *Verifier) verifyInteraction(ctx context.Context, p *pact.Pact, i *pact.Interaction) *VerificationResult {
	start := time.Now()
	r := newResult(p, i)
	defer func() {
		r.Duration = time.Since(start)
	}()

	logger := log.WithFields(log.Fields{
		"consumer":    p.Consumer.Name,
		"provider":    p.Provider.Name,
		"interaction": i.Description,
		"state":       r.ProviderState,
	})

	// calls already started are bounded by their own timeout, not by the run
	callCtx := context.WithoutCancel(ctx)

	values, err := v.setUp(callCtx, r, i, logger)
	if err != nil {
		logger.WithError(err).Warn("provider state setup failed")
		r.finish([]matching.Mismatch{matching.Failure(matching.SetupFailed, "%s", err.Error())})
		return r
	}
	if v.opts.StateTeardown {
		defer v.tearDown(callCtx, i, logger)
	}

	req, err := v.buildRequest(i, values)
	if err != nil {
		logger.WithError(err).Warn("unable to build request")
		r.finish([]matching.Mismatch{matching.Failure(matching.TransportFailure, "unable to build request: %s", err.Error())})
		return r
	}
	r.Request = &req

	r.finish(v.exchange(ctx, callCtx, r, i, req, logger))

	logger = logger.WithField("attempts", r.Attempts)
	switch {
	case r.Passed:
		logger.Info("interaction passed")
	case r.Pending:
		logger.Warnf("pending interaction failed with %d mismatches", len(r.Mismatches))
	default:
		logger.Errorf("interaction failed with %d mismatches", len(r.Mismatches))
	}
	return r
}

func (v *Verifier) setUp(ctx context.Context, r *VerificationResult, i *pact.Interaction, logger *log.Entry) (map[string]interface{}, error) {
	values := map[string]interface{}{}
	if len(i.ProviderStates) == 0 {
		r.transition(StateSetupComplete)
		return values, nil
	}

	for _, s := range i.ProviderStates {
		for k, param := range s.Params {
			values[k] = param
		}
	}

	r.transition(StateSetupRequested)
	if v.states == nil {
		logger.Warn("no state change url configured, provider states are not set up")
		r.transition(StateSetupComplete)
		return values, nil
	}

	for _, s := range i.ProviderStates {
		logger.WithField("state", s.Name).Info("setting up provider state")
		returned, err := v.states.ChangeState(ctx, s, SetupAction)
		if err != nil {
			return nil, err
		}
		for k, value := range returned {
			values[k] = value
		}
	}
	r.transition(StateSetupComplete)
	return values, nil
}

func (v *Verifier) tearDown(ctx context.Context, i *pact.Interaction, logger *log.Entry) {
	if v.states == nil {
		return
	}
	for n := len(i.ProviderStates) - 1; n >= 0; n-- {
		s := i.ProviderStates[n]
		if _, err := v.states.ChangeState(ctx, s, TeardownAction); err != nil {
			logger.WithError(err).WithField("state", s.Name).Warn("provider state teardown failed")
		}
	}
}

// buildRequest renders the request pattern with the generated values applied. Custom headers
// replace headers of the same name.
func (v *Verifier) buildRequest(i *pact.Interaction, values map[string]interface{}) (matching.Request, error) {
	pattern := i.Request
	req := matching.Request{
		Method:  pattern.Method,
		Path:    pattern.Path,
		Query:   url.Values{},
		Headers: pattern.Headers.HTTP(),
	}
	for k, vs := range pattern.Query {
		req.Query[k] = append([]string(nil), vs...)
	}

	body, err := pattern.Body.Bytes()
	if err != nil {
		return matching.Request{}, errors.Wrap(err, "unable to render request body")
	}
	req.Body = body
	if pattern.Body.Present && pattern.Body.ContentType != "" && req.Headers.Get("Content-Type") == "" {
		req.Headers.Set("Content-Type", pattern.Body.ContentType)
	}

	if err := applyGenerators(&req, pattern.Generators, values); err != nil {
		return matching.Request{}, err
	}

	for name, vs := range v.opts.CustomHeaders {
		req.Headers.Del(name)
		for _, value := range vs {
			req.Headers.Add(name, value)
		}
	}
	return req, nil
}

// exchange sends the request and compares the response, retrying under the retry policy. The
// first attempt always runs once the interaction has started; cancelling ctx only stops retries.
func (v *Verifier) exchange(ctx, callCtx context.Context, r *VerificationResult, i *pact.Interaction, req matching.Request, logger *log.Entry) []matching.Mismatch {
	attempts := uint(1)
	if !v.opts.Retry.PendingOnly || r.Pending {
		attempts = v.opts.Retry.Attempts
	}

	retryOpts := []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(v.opts.Retry.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(callCtx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool {
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.WithField("attempt", n+1).Debugf("attempt failed: %s", err)
		}),
	}
	if v.opts.Retry.Backoff == ExponentialBackoff {
		retryOpts = append(retryOpts, retry.DelayType(retry.BackOffDelay))
	}
	if v.opts.Retry.MaxDelay > 0 {
		retryOpts = append(retryOpts, retry.MaxDelay(v.opts.Retry.MaxDelay))
	}

	var mismatches []matching.Mismatch
	_ = retry.Do(func() error {
		if r.Attempts > 0 && ctx.Err() != nil {
			logger.Info("verification cancelled, not retrying interaction")
			return retry.Unrecoverable(ctx.Err())
		}
		r.Attempts++
		if r.Attempts > 1 {
			r.transition(StateRetrying)
			logger.WithField("attempt", r.Attempts).Info("retrying interaction")
		}

		r.transition(StateRequestSent)
		res, err := v.send(callCtx, req)
		if err != nil {
			r.Response = nil
			mismatches = []matching.Mismatch{matching.Failure(matching.TransportFailure, "%s", err.Error())}
			return err
		}
		r.Response = &res
		r.transition(StateResponseReceived)

		mismatches = matching.MatchResponse(i.Response, res, matching.Options{SpecVersion: i.SpecVersion.Major()})
		r.transition(StateDiffed)
		if len(mismatches) > 0 {
			return errors.Errorf("%d mismatches", len(mismatches))
		}
		return nil
	}, retryOpts...)
	return mismatches
}

func (v *Verifier) send(ctx context.Context, req matching.Request) (matching.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.RequestTimeout)
	defer cancel()

	target := *v.opts.ProviderURL
	target.Path = strings.TrimRight(target.Path, "/") + req.Path
	target.RawPath = ""
	target.RawQuery = req.Query.Encode()

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return matching.Response{}, errors.Wrap(err, "unable to create request")
	}
	httpReq.Header = req.Headers.Clone()

	res, err := v.client.Do(httpReq)
	if err != nil {
		return matching.Response{}, errors.Wrapf(err, "request %s %s failed", req.Method, req.Path)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return matching.Response{}, errors.Wrapf(err, "unable to read response to %s %s", req.Method, req.Path)
	}
	return matching.Response{Status: res.StatusCode, Headers: res.Header, Body: data}, nil
}

// stateLocks serializes interactions sharing a provider state name.
type stateLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the locks of every state name in sorted order and returns the release function.
func (l *stateLocks) lock(states []pact.ProviderState) func() {
	names := make([]string, 0, len(states))
	seen := map[string]bool{}
	for _, s := range states {
		if !seen[s.Name] {
			seen[s.Name] = true
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)

	l.mu.Lock()
	held := make([]*sync.Mutex, len(names))
	for n, name := range names {
		m, ok := l.locks[name]
		if !ok {
			m = &sync.Mutex{}
			l.locks[name] = m
		}
		held[n] = m
	}
	l.mu.Unlock()

	for _, m := range held {
		m.Lock()
	}
	return func() {
		for n := len(held) - 1; n >= 0; n-- {
			held[n].Unlock()
		}
	}
}
