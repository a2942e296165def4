// Package pact is the in-memory model of a contract: the consumer and provider, the ordered
// interactions and the request and response patterns they expect.
package pact

import (
	"encoding/base64"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/matchers"
	"github.com/hashicorp/go-version"
)

const (
	MediaTypeJSON = "application/json"
	MediaTypeText = "text/plain"
	MediaTypeXML  = "application/xml"
)

type Pacticipant struct {
	Name string `json:"name"`
}

type Pact struct {
	Consumer     Pacticipant
	Provider     Pacticipant
	Interactions []*Interaction
	Version      SpecVersion
	Metadata     map[string]interface{}
	// Source names where the pact was read from, a file path or a broker URL.
	Source string
	// Pending marks every interaction of the pact as pending, as the broker does for pacts the
	// provider has not yet verified successfully.
	Pending bool
	// WIP is set for work in progress pacts returned by a broker.
	WIP bool
}

// SpecVersion is the pact specification version declared in the metadata. The zero value is V3.
type SpecVersion struct {
	v *version.Version
}

var defaultSpecVersion = version.Must(version.NewVersion("3.0.0"))

func ParseSpecVersion(s string) (SpecVersion, error) {
	v, err := version.NewVersion(s)
	if err != nil {
		return SpecVersion{}, err
	}
	return SpecVersion{v: v}, nil
}

// MustSpecVersion is like ParseSpecVersion but panics on an invalid version.
func MustSpecVersion(s string) SpecVersion {
	v, err := ParseSpecVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (s SpecVersion) version() *version.Version {
	if s.v == nil {
		return defaultSpecVersion
	}
	return s.v
}

func (s SpecVersion) Major() int {
	return s.version().Segments()[0]
}

// AtLeast reports whether s is the given version or later.
func (s SpecVersion) AtLeast(other string) bool {
	v, err := version.NewVersion(other)
	if err != nil {
		return false
	}
	return s.version().GreaterThanOrEqual(v)
}

func (s SpecVersion) String() string {
	return s.version().String()
}

func (s SpecVersion) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ProviderState struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type Interaction struct {
	ID             string
	Description    string
	ProviderStates []ProviderState
	Request        RequestPattern
	Response       ResponsePattern
	Pending        bool
	SpecVersion    SpecVersion
}

// StateKey identifies the provider states of the interaction. Interactions with equal keys
// share provider state side effects.
func (i *Interaction) StateKey() string {
	names := make([]string, len(i.ProviderStates))
	for n, s := range i.ProviderStates {
		names[n] = s.Name
	}
	return strings.Join(names, " & ")
}

// Headers keeps the header names as written in the pact. Lookups are case-insensitive.
type Headers map[string][]string

// Get returns the values of name, looked up case-insensitively.
func (h Headers) Get(name string) ([]string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Names returns the header names sorted case-insensitively.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return strings.ToLower(names[i]) < strings.ToLower(names[j]) })
	return names
}

// HTTP converts the headers to an http.Header.
func (h Headers) HTTP() http.Header {
	header := http.Header{}
	for k, values := range h {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	return header
}

type RequestPattern struct {
	Method        string
	Path          string
	Query         url.Values
	Headers       Headers
	Body          Body
	MatchingRules matchers.MatchingRules
	Generators    Generators
}

type ResponsePattern struct {
	Status        int
	Headers       Headers
	Body          Body
	MatchingRules matchers.MatchingRules
	Generators    Generators
}

// Body is an expected body. Value holds decoded JSON (numbers as json.Number) for JSON content
// and a string for anything else.
type Body struct {
	Present     bool
	ContentType string
	Value       interface{}
}

// MediaType returns the content type without parameters.
func (b Body) MediaType() string {
	if b.ContentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(b.ContentType)
	if err != nil {
		return strings.ToLower(b.ContentType)
	}
	return mediaType
}

// IsJSON reports whether the body is JSON content.
func (b Body) IsJSON() bool {
	return IsJSONMediaType(b.MediaType())
}

// Bytes renders the body as it is sent on the wire.
func (b Body) Bytes() ([]byte, error) {
	if !b.Present || b.Value == nil && !b.IsJSON() {
		return nil, nil
	}
	if s, ok := b.Value.(string); ok && !b.IsJSON() {
		return []byte(s), nil
	}
	return json.Marshal(b.Value)
}

func IsJSONMediaType(mediaType string) bool {
	return mediaType == MediaTypeJSON || strings.HasSuffix(mediaType, "+json")
}

func IsXMLMediaType(mediaType string) bool {
	return mediaType == MediaTypeXML || mediaType == "text/xml" || strings.HasSuffix(mediaType, "+xml")
}

func decodeBase64(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Generator replaces a value of the request with a generated one before it is sent.
type Generator struct {
	Type       string
	Attributes map[string]interface{}
}

// Generators are keyed by category ("body", "header", "query", "path", "status") and then by
// path expression or header / parameter name. Path and status generators use the key "".
type Generators map[string]map[string]Generator

// Get returns the generators of category c.
func (g Generators) Get(c string) map[string]Generator {
	if g == nil {
		return nil
	}
	return g[c]
}
