// Package pactverifier is a client of the verification API served by pact-verifier.
package pactverifier

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type PactVerifier struct {
	client http.Client
	url    string
}

// StartOptions change how a submitted pact is verified.
type StartOptions struct {
	// ProviderURL replaces the provider the server is configured with.
	ProviderURL string
	// Pending makes failures of the pact non blocking.
	Pending bool
}

func New(url string) *PactVerifier {
	return &PactVerifier{
		client: http.Client{
			Timeout: 30 * time.Second,
		},
		url: strings.TrimSuffix(url, "/"),
	}
}

// Start submits a pact and returns the id of its verification.
func (p *PactVerifier) Start(pact []byte, opts StartOptions) (string, error) {
	q := url.Values{}
	if opts.ProviderURL != "" {
		q.Set("provider", opts.ProviderURL)
	}
	if opts.Pending {
		q.Set("pending", "true")
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := p.do(http.MethodPost, "/verifications", q, pact, http.StatusAccepted, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (p *PactVerifier) Get(id string) (*Run, error) {
	var run Run
	if err := p.do(http.MethodGet, "/verifications/"+url.PathEscape(id), nil, nil, http.StatusOK, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Wait blocks until the verification completes or timeout passes. A zero timeout uses the wait
// duration of the server.
func (p *PactVerifier) Wait(id string, timeout time.Duration) (*Run, error) {
	q := url.Values{}
	if timeout > 0 {
		q.Set("timeout", timeout.String())
	}

	var run Run
	if err := p.do(http.MethodGet, "/verifications/"+url.PathEscape(id)+"/wait", q, nil, http.StatusOK, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Verify submits a pact and waits for its report.
func (p *PactVerifier) Verify(pact []byte, opts StartOptions, timeout time.Duration) (*Run, error) {
	id, err := p.Start(pact, opts)
	if err != nil {
		return nil, err
	}
	log.Infof("waiting for verification %s", id)
	return p.Wait(id, timeout)
}

func (p *PactVerifier) WaitForAll() error {
	return p.do(http.MethodGet, "/verifications/wait", nil, nil, http.StatusOK, nil)
}

// Reset cancels and forgets every verification.
func (p *PactVerifier) Reset() error {
	return p.do(http.MethodDelete, "/verifications", nil, nil, http.StatusNoContent, nil)
}

// Match checks whether req satisfies the request of an interaction of pact. interaction is the
// description or the id of the interaction.
func (p *PactVerifier) Match(pact []byte, interaction string, req Request) (*MatchResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"pact":        json.RawMessage(pact),
		"interaction": interaction,
		"request":     req,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal match request")
	}

	var result MatchResult
	if err := p.do(http.MethodPost, "/matches", nil, body, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *PactVerifier) do(method, path string, query url.Values, body []byte, expected int, out interface{}) error {
	target := p.url + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	responseBody, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if res.StatusCode != expected {
		var apiErr struct {
			ErrorMessage string `json:"error_message"`
		}
		if json.Unmarshal(responseBody, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return errors.Errorf("%s %s failed with %d: %s", method, path, res.StatusCode, apiErr.ErrorMessage)
		}
		return errors.Errorf("%s %s failed with %d", method, path, res.StatusCode)
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(responseBody, out), "failed to decode response")
}
