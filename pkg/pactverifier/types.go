package pactverifier

import (
	"encoding/json"

	"github.com/form3tech-oss/pact-verifier/internal/app/matching"
	"github.com/form3tech-oss/pact-verifier/internal/app/pactverifier"
)

type Run pactverifier.RunDocument

type Mismatch = matching.Mismatch

// Request is a request checked against an interaction with Match.
type Request struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    json.RawMessage     `json:"body,omitempty"`
}

type MatchResult struct {
	Interaction string     `json:"interaction"`
	Matched     bool       `json:"matched"`
	Mismatches  []Mismatch `json:"mismatches"`
}
