package pactverifier

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/form3tech-oss/pact-verifier/internal/app/matching"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/pkg/errors"
)

// matchRequest asks whether request would satisfy an interaction of a pact.
type matchRequest struct {
	Pact        json.RawMessage `json:"pact"`
	Interaction string          `json:"interaction"`
	Request     stubRequest     `json:"request"`
}

type stubRequest struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    json.RawMessage     `json:"body,omitempty"`
}

type matchResult struct {
	Interaction string              `json:"interaction"`
	Matched     bool                `json:"matched"`
	Mismatches  []matching.Mismatch `json:"mismatches"`
}

// toRequest converts the stub request. A JSON string body sent with a non JSON content type is
// the raw body text.
func (s stubRequest) toRequest() (matching.Request, error) {
	headers := http.Header{}
	for name, values := range s.Headers {
		for _, v := range values {
			headers.Add(name, v)
		}
	}

	body := []byte(s.Body)
	if len(body) > 0 && body[0] == '"' && !pact.IsJSONMediaType(mediaType(headers)) {
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return matching.Request{}, errors.Wrap(err, "invalid request body")
		}
		body = []byte(text)
	}
	if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		body = nil
	}

	return matching.Request{
		Method:  s.Method,
		Path:    s.Path,
		Query:   url.Values(s.Query),
		Headers: headers,
		Body:    body,
	}, nil
}

func mediaType(h http.Header) string {
	return pact.Body{ContentType: h.Get("Content-Type")}.MediaType()
}

func findInteraction(p *pact.Pact, key string) (*pact.Interaction, bool) {
	for _, i := range p.Interactions {
		if i.Description == key || (i.ID != "" && i.ID == key) {
			return i, true
		}
	}
	return nil, false
}
