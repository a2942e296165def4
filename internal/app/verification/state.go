package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// HTTPDoer sends requests to the provider. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type StateAction string

const (
	SetupAction    StateAction = "setup"
	TeardownAction StateAction = "teardown"
)

// StateChanger puts the provider into a provider state. The returned values feed the
// ProviderState generators of the interaction.
type StateChanger interface {
	ChangeState(ctx context.Context, state pact.ProviderState, action StateAction) (map[string]interface{}, error)
}

type stateChangeRequest struct {
	State  string                 `json:"state"`
	Params map[string]interface{} `json:"params,omitempty"`
	Action StateAction            `json:"action"`
}

// HTTPStateChanger posts state changes to a provider endpoint as
// {"state": ..., "params": {...}, "action": "setup"}.
type HTTPStateChanger struct {
	url     *url.URL
	client  HTTPDoer
	timeout time.Duration
}

func NewHTTPStateChanger(u *url.URL, client HTTPDoer, timeout time.Duration) *HTTPStateChanger {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPStateChanger{url: u, client: client, timeout: timeout}
}

func (c *HTTPStateChanger) ChangeState(ctx context.Context, state pact.ProviderState, action StateAction) (map[string]interface{}, error) {
	payload, err := json.Marshal(stateChangeRequest{State: state.Name, Params: state.Params, Action: action})
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode state change")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create state change request")
	}
	req.Header.Set("Content-Type", pact.MediaTypeJSON)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "state change '%s' failed", state.Name)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read state change response for '%s'", state.Name)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, errors.Errorf("state change '%s' returned status %d: %s", state.Name, res.StatusCode, string(body))
	}

	var values map[string]interface{}
	if len(bytes.TrimSpace(body)) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.UseNumber()
		if err := d.Decode(&values); err != nil {
			log.Debugf("state change response for '%s' is not a JSON object, ignoring it", state.Name)
			values = nil
		}
	}
	return values, nil
}
