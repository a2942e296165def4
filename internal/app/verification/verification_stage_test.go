package verification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/matching"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"
)

const createBookInteraction = `{
  "description": "a request to create a book",
  "request": {
    "method": "POST",
    "path": "/books",
    "headers": {"Content-Type": "application/json"},
    "body": {"title": "Dune"}
  },
  "response": {
    "status": 201,
    "headers": {"Content-Type": "application/json"},
    "body": {"title": "Dune", "publicationDate": "2020-01-01T10:00:00+00:00"},
    "matchingRules": {
      "body": {
        "$.title": {"matchers": [{"match": "type"}]},
        "$.publicationDate": {"matchers": [{"match": "timestamp", "timestamp": "yyyy-MM-dd'T'HH:mm:ssXXX"}]}
      }
    }
  }
}`

const validBook = `{"title":"X","publicationDate":"1999-02-13T00:00:00+07:00"}`

type receivedRequest struct {
	path string
	body string
}

type VerificationStage struct {
	t       *testing.T
	assert  *assert.Assertions
	require *require.Assertions

	interactions []string
	opts         Options
	ctx          context.Context
	cancelRun    context.CancelFunc

	provider      *httptest.Server
	providerCalls int32
	inFlight      int32
	maxInFlight   int32
	providerDelay time.Duration
	mu            sync.Mutex
	responses     []string
	received      []receivedRequest

	states       *httptest.Server
	stateStatus  int
	failingState string
	stateValues  map[string]interface{}
	stateChanges []stateChangeRequest

	report *Report
}

func NewVerificationStage(t *testing.T) (*VerificationStage, *VerificationStage, *VerificationStage) {
	s := &VerificationStage{
		t:           t,
		assert:      assert.New(t),
		require:     require.New(t),
		ctx:         context.Background(),
		stateStatus: http.StatusOK,
	}

	provider := echo.New()
	provider.HideBanner = true
	provider.POST("/books", s.providerHandler)
	provider.POST("/authors/:id/books", s.providerHandler)
	provider.POST("/broken", s.brokenHandler)
	s.provider = httptest.NewServer(provider)

	states := echo.New()
	states.HideBanner = true
	states.POST("/provider-states", s.stateHandler)
	s.states = httptest.NewServer(states)

	t.Cleanup(func() {
		s.provider.Close()
		s.states.Close()
	})

	s.opts = Options{
		ProviderURL:    mustURL(t, s.provider.URL),
		RequestTimeout: 2 * time.Second,
	}
	return s, s, s
}

func mustURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func (s *VerificationStage) providerHandler(c echo.Context) error {
	atomic.AddInt32(&s.providerCalls, 1)
	current := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		max := atomic.LoadInt32(&s.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, current) {
			break
		}
	}
	time.Sleep(s.providerDelay)

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.received = append(s.received, receivedRequest{path: c.Request().URL.Path, body: string(body)})
	response := validBook
	if len(s.responses) > 0 {
		response = s.responses[0]
		if len(s.responses) > 1 {
			s.responses = s.responses[1:]
		}
	}
	s.mu.Unlock()

	return c.JSONBlob(http.StatusCreated, []byte(response))
}

// brokenHandler drops the connection without answering.
func (s *VerificationStage) brokenHandler(c echo.Context) error {
	hijacker, ok := c.Response().Writer.(http.Hijacker)
	if !ok {
		return c.NoContent(http.StatusInternalServerError)
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		return err
	}
	return conn.Close()
}

func (s *VerificationStage) stateHandler(c echo.Context) error {
	var change stateChangeRequest
	if err := c.Bind(&change); err != nil {
		return err
	}
	s.mu.Lock()
	s.stateChanges = append(s.stateChanges, change)
	s.mu.Unlock()

	if s.cancelRun != nil {
		s.cancelRun()
	}
	if s.failingState != "" && change.State == s.failingState {
		return c.String(http.StatusInternalServerError, "state change failed")
	}
	if s.stateStatus != http.StatusOK {
		return c.String(s.stateStatus, "state change failed")
	}
	if s.stateValues == nil {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, s.stateValues)
}

func (s *VerificationStage) and() *VerificationStage {
	return s
}

func (s *VerificationStage) a_pact_for_creating_a_book() *VerificationStage {
	s.interactions = append(s.interactions, createBookInteraction)
	return s
}

func (s *VerificationStage) n_interactions_with_states(n int, state func(i int) string) *VerificationStage {
	for i := 0; i < n; i++ {
		interaction, err := sjson.Set(createBookInteraction, "description", "a request to create book "+string(rune('a'+i)))
		s.require.NoError(err)
		interaction, err = sjson.Set(interaction, "providerStates", []map[string]string{{"name": state(i)}})
		s.require.NoError(err)
		s.interactions = append(s.interactions, interaction)
	}
	return s
}

func (s *VerificationStage) n_interactions_sharing_the_state_(n int, state string) *VerificationStage {
	return s.n_interactions_with_states(n, func(int) string { return state })
}

func (s *VerificationStage) n_interactions_with_distinct_states(n int) *VerificationStage {
	return s.n_interactions_with_states(n, func(i int) string { return "book " + string(rune('a'+i)) + " exists" })
}

func (s *VerificationStage) the_last_interaction_is_(field string, value interface{}) *VerificationStage {
	last := len(s.interactions) - 1
	updated, err := sjson.Set(s.interactions[last], field, value)
	s.require.NoError(err)
	s.interactions[last] = updated
	return s
}

func (s *VerificationStage) the_interaction_drops_the_connection() *VerificationStage {
	return s.the_last_interaction_is_("request.path", "/broken")
}

func (s *VerificationStage) the_interaction_is_pending() *VerificationStage {
	return s.the_last_interaction_is_("pending", true)
}

func (s *VerificationStage) the_interaction_requires_the_state_(name string, params map[string]interface{}) *VerificationStage {
	return s.the_last_interaction_is_("providerStates", []map[string]interface{}{{"name": name, "params": params}})
}

func (s *VerificationStage) the_request_path_is_generated_from_the_provider_state() *VerificationStage {
	s.the_last_interaction_is_("request.body.authorId", 1)
	s.the_last_interaction_is_("request.generators.path", map[string]string{
		"type":       "ProviderState",
		"expression": "/authors/${authorId}/books",
	})
	return s.the_last_interaction_is_("request.generators.body", map[string]interface{}{
		"$.authorId": map[string]string{"type": "ProviderState", "expression": "${authorId}"},
	})
}

func (s *VerificationStage) a_state_change_endpoint() *VerificationStage {
	s.opts.StateChangeURL = mustURL(s.t, s.states.URL+"/provider-states")
	return s
}

func (s *VerificationStage) a_state_change_endpoint_returning_(values map[string]interface{}) *VerificationStage {
	s.stateValues = values
	return s.a_state_change_endpoint()
}

func (s *VerificationStage) a_state_change_endpoint_failing_for_(state string) *VerificationStage {
	s.failingState = state
	return s.a_state_change_endpoint()
}

func (s *VerificationStage) a_failing_state_change_endpoint() *VerificationStage {
	s.stateStatus = http.StatusInternalServerError
	return s.a_state_change_endpoint()
}

func (s *VerificationStage) state_teardown_is_enabled() *VerificationStage {
	s.opts.StateTeardown = true
	return s
}

func (s *VerificationStage) the_provider_responds_with(bodies ...string) *VerificationStage {
	s.responses = bodies
	return s
}

func (s *VerificationStage) a_slow_provider() *VerificationStage {
	s.providerDelay = 20 * time.Millisecond
	return s
}

func (s *VerificationStage) a_provider_taking_(delay time.Duration) *VerificationStage {
	s.providerDelay = delay
	return s
}

func (s *VerificationStage) a_request_timeout_of_(timeout time.Duration) *VerificationStage {
	s.opts.RequestTimeout = timeout
	return s
}

func (s *VerificationStage) the_provider_is_unreachable() *VerificationStage {
	s.provider.Close()
	return s
}

func (s *VerificationStage) retries_of_(attempts uint, pendingOnly bool) *VerificationStage {
	s.opts.Retry = RetryPolicy{Attempts: attempts, Delay: 5 * time.Millisecond, PendingOnly: pendingOnly}
	return s
}

func (s *VerificationStage) a_concurrency_of_(n int) *VerificationStage {
	s.opts.Concurrency = n
	return s
}

func (s *VerificationStage) only_interactions_matching_(description string) *VerificationStage {
	s.opts.Filter.Description = description
	return s
}

func (s *VerificationStage) the_run_is_cancelled() *VerificationStage {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.ctx = ctx
	return s
}

func (s *VerificationStage) the_run_is_cancelled_during_state_setup() *VerificationStage {
	ctx, cancel := context.WithCancel(context.Background())
	s.t.Cleanup(cancel)
	s.ctx = ctx
	s.cancelRun = cancel
	return s
}

func (s *VerificationStage) the_pact() *pact.Pact {
	doc := `{"consumer": {"name": "library-ui"}, "provider": {"name": "books-api"}, "interactions": [],
		"metadata": {"pactSpecification": {"version": "3.0.0"}}}`
	for _, interaction := range s.interactions {
		var err error
		doc, err = sjson.SetRaw(doc, "interactions.-1", interaction)
		s.require.NoError(err)
	}
	p, err := pact.Load([]byte(doc), "books.json")
	s.require.NoError(err)
	return p
}

func (s *VerificationStage) the_pact_is_verified() *VerificationStage {
	verifier, err := New(s.opts, nil, nil)
	s.require.NoError(err)
	s.report = verifier.Verify(s.ctx, s.the_pact())
	return s
}

func (s *VerificationStage) the_verification_succeeds() *VerificationStage {
	s.assert.True(s.report.Success, "report: %+v", s.report)
	return s
}

func (s *VerificationStage) the_verification_fails() *VerificationStage {
	s.assert.False(s.report.Success)
	return s
}

func (s *VerificationStage) the_counts_are(passed, failed, pending int) *VerificationStage {
	s.assert.Equal(passed, s.report.Passed, "passed")
	s.assert.Equal(failed, s.report.Failed, "failed")
	s.assert.Equal(pending, s.report.Pending, "pending")
	return s
}

func (s *VerificationStage) result(n int) *VerificationResult {
	s.require.Greater(len(s.report.Results), n)
	return s.report.Results[n]
}

func (s *VerificationStage) the_interaction_passes() *VerificationStage {
	return s.the_result_passes(0)
}

func (s *VerificationStage) the_result_passes(n int) *VerificationStage {
	r := s.result(n)
	s.assert.True(r.Passed)
	s.assert.Empty(r.Mismatches)
	s.assert.Equal(StatePassed, r.State)
	return s
}

func (s *VerificationStage) the_transitions_are(states ...State) *VerificationStage {
	s.assert.Equal(states, s.result(0).Transitions)
	return s
}

func (s *VerificationStage) the_mismatch_kinds_are(kinds ...matching.Kind) *VerificationStage {
	return s.the_mismatch_kinds_of_result_are(0, kinds...)
}

func (s *VerificationStage) the_mismatch_kinds_of_result_are(n int, kinds ...matching.Kind) *VerificationStage {
	r := s.result(n)
	got := make([]matching.Kind, len(r.Mismatches))
	for i, m := range r.Mismatches {
		got[i] = m.Kind
	}
	s.assert.Equal(kinds, got, "mismatches: %v", r.Mismatches)
	return s
}

func (s *VerificationStage) the_mismatch_paths_are(paths ...string) *VerificationStage {
	r := s.result(0)
	got := make([]string, len(r.Mismatches))
	for i, m := range r.Mismatches {
		got[i] = m.Path.String()
	}
	s.assert.Equal(paths, got)
	return s
}

func (s *VerificationStage) the_provider_received_(n int) *VerificationStage {
	s.assert.Equal(int32(n), atomic.LoadInt32(&s.providerCalls))
	return s
}

func (s *VerificationStage) the_attempts_are(n int) *VerificationStage {
	s.assert.Equal(n, s.result(0).Attempts)
	return s
}

func (s *VerificationStage) the_provider_received_a_request_to_(path string, body string) *VerificationStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.require.NotEmpty(s.received)
	s.assert.Equal(path, s.received[0].path)
	s.assert.JSONEq(body, s.received[0].body)
	return s
}

func (s *VerificationStage) the_state_changes_were(changes ...stateChangeRequest) *VerificationStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assert.Equal(changes, s.stateChanges)
	return s
}

func (s *VerificationStage) at_most_one_request_was_in_flight() *VerificationStage {
	return s.at_most_n_requests_were_in_flight(1)
}

func (s *VerificationStage) at_most_n_requests_were_in_flight(n int) *VerificationStage {
	s.assert.Equal(int32(n), atomic.LoadInt32(&s.maxInFlight))
	return s
}

func (s *VerificationStage) the_results_keep_the_declaration_order() *VerificationStage {
	for i, r := range s.report.Results {
		s.assert.Equal("a request to create book "+string(rune('a'+i)), r.Description)
	}
	return s
}

func (s *VerificationStage) every_result_is_cancelled() *VerificationStage {
	s.require.NotEmpty(s.report.Results)
	for _, r := range s.report.Results {
		s.assert.False(r.Passed)
		s.require.Len(r.Mismatches, 1)
		s.assert.Equal(matching.Cancelled, r.Mismatches[0].Kind)
	}
	return s
}

func (s *VerificationStage) the_skipped_count_is(n int) *VerificationStage {
	s.assert.Equal(n, s.report.Skipped)
	s.assert.Len(s.report.Results, len(s.interactions)-n)
	return s
}

func (s *VerificationStage) the_report_serializes() *VerificationStage {
	data, err := json.Marshal(s.report)
	s.require.NoError(err)
	s.assert.NotEmpty(data)
	return s
}
