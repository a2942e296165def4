package matching

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/matchers"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
	"github.com/pkg/errors"
)

var textContext = matchers.Context{Scope: matchers.TextScope}

// mediaTypeHeaders are compared on the parsed media type and parameters.
var mediaTypeHeaders = map[string]bool{
	"content-type": true,
}

// CompareHeaders checks every expected header. Header names are case-insensitive and headers the
// provider adds are ignored.
func CompareHeaders(expected pact.Headers, actual http.Header, rules *matchers.RuleSet) []Mismatch {
	var mismatches []Mismatch
	for _, name := range expected.Names() {
		want := strings.Join(expected[name], ", ")
		path := matchers.HeaderPath(name)

		values := actual.Values(name)
		if len(values) == 0 {
			values = lookupFolded(actual, name)
		}
		if len(values) == 0 {
			mismatches = append(mismatches, Mismatch{
				Kind:     HeaderMismatch,
				Path:     path,
				Expected: want,
				Message:  fmt.Sprintf("Expected a header '%s' but was missing", name),
			})
			continue
		}
		got := strings.Join(values, ", ")

		if resolution, ok := rules.Resolve(path); ok && !resolution.Group.OnlyEquality() {
			for _, f := range resolution.Group.Evaluate(want, got, textContext) {
				m := fromFailure(f, path, want, got, HeaderMismatch)
				m.Message = fmt.Sprintf("Mismatch with header '%s': %s", name, f.Message)
				mismatches = append(mismatches, m)
			}
			continue
		}

		if !headerValuesEqual(name, want, got) {
			mismatches = append(mismatches, Mismatch{
				Kind:     HeaderMismatch,
				Path:     path,
				Expected: want,
				Actual:   got,
				Message:  fmt.Sprintf("Mismatch with header '%s': Expected '%s' but received '%s'", name, want, got),
			})
		}
	}
	return mismatches
}

func lookupFolded(h http.Header, name string) []string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

func headerValuesEqual(name, expected, actual string) bool {
	if mediaTypeHeaders[strings.ToLower(name)] {
		return mediaTypesEqual(expected, actual)
	}
	want, got := splitHeaderValue(expected), splitHeaderValue(actual)
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// mediaTypesEqual compares media types and requires every expected parameter. Parameters the
// actual value adds are tolerated.
func mediaTypesEqual(expected, actual string) bool {
	wantType, wantParams, err := mime.ParseMediaType(expected)
	if err != nil {
		return strings.EqualFold(expected, actual)
	}
	gotType, gotParams, err := mime.ParseMediaType(actual)
	if err != nil || wantType != gotType {
		return false
	}
	for k, v := range wantParams {
		if !strings.EqualFold(gotParams[k], v) {
			return false
		}
	}
	return true
}

func splitHeaderValue(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// CompareQuery checks query parameters. Names are case-sensitive and multiple values are compared
// in order. Unexpected parameters are reported.
func CompareQuery(expected, actual url.Values, rules *matchers.RuleSet) []Mismatch {
	var mismatches []Mismatch
	for _, name := range sortedNames(expected) {
		want := expected[name]
		got, ok := actual[name]
		path := matchers.ParameterPath(name)
		if !ok {
			mismatches = append(mismatches, Mismatch{
				Kind:     QueryMismatch,
				Path:     path,
				Expected: strings.Join(want, ","),
				Message:  fmt.Sprintf("Expected query parameter '%s' but was missing", name),
			})
			continue
		}

		if resolution, hasRule := rules.Resolve(path); hasRule && !resolution.Group.OnlyEquality() {
			for i, value := range got {
				template := ""
				if len(want) > 0 {
					template = want[0]
				}
				if i < len(want) {
					template = want[i]
				}
				for _, f := range resolution.Group.Evaluate(template, value, textContext) {
					m := fromFailure(f, path.Index(i), template, value, QueryMismatch)
					m.Message = fmt.Sprintf("Mismatch with query parameter '%s': %s", name, f.Message)
					mismatches = append(mismatches, m)
				}
			}
			continue
		}

		if len(want) != len(got) {
			mismatches = append(mismatches, Mismatch{
				Kind:     QueryMismatch,
				Path:     path,
				Expected: strings.Join(want, ","),
				Actual:   strings.Join(got, ","),
				Message:  fmt.Sprintf("Expected query parameter '%s' with %d value(s) but received %d value(s)", name, len(want), len(got)),
			})
		}
		for i := 0; i < len(want) && i < len(got); i++ {
			if want[i] != got[i] {
				mismatches = append(mismatches, Mismatch{
					Kind:     QueryMismatch,
					Path:     path.Index(i),
					Expected: want[i],
					Actual:   got[i],
					Message:  fmt.Sprintf("Expected '%s' but received '%s' for query parameter '%s'", want[i], got[i], name),
				})
			}
		}
	}

	for _, name := range sortedNames(actual) {
		if _, ok := expected[name]; !ok {
			mismatches = append(mismatches, Mismatch{
				Kind:    QueryMismatch,
				Path:    matchers.ParameterPath(name),
				Actual:  strings.Join(actual[name], ","),
				Message: fmt.Sprintf("Unexpected query parameter '%s' received", name),
			})
		}
	}
	return mismatches
}

func sortedNames(values url.Values) []string {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CompareStatus checks the response status against the expected one or the status rules.
func CompareStatus(expected, actual int, rules *matchers.RuleSet) []Mismatch {
	if resolution, ok := rules.Resolve(pactpath.Root()); ok && !resolution.Group.OnlyEquality() {
		var mismatches []Mismatch
		for _, f := range resolution.Group.Evaluate(expected, actual, textContext) {
			m := fromFailure(f, pactpath.Root(), expected, actual, StatusMismatch)
			mismatches = append(mismatches, m)
		}
		return mismatches
	}
	if expected != actual {
		return []Mismatch{{
			Kind:     StatusMismatch,
			Path:     pactpath.Root(),
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
			Message:  fmt.Sprintf("expected status of %d but was %d", expected, actual),
		}}
	}
	return nil
}

// ComparePath checks the request path, honouring path rules.
func ComparePath(expected, actual string, rules *matchers.RuleSet) []Mismatch {
	if resolution, ok := rules.Resolve(pactpath.Root()); ok && !resolution.Group.OnlyEquality() {
		var mismatches []Mismatch
		for _, f := range resolution.Group.Evaluate(expected, actual, textContext) {
			mismatches = append(mismatches, fromFailure(f, pactpath.Root(), expected, actual, PathMismatch))
		}
		return mismatches
	}
	if expected != actual {
		return []Mismatch{{
			Kind:     PathMismatch,
			Path:     pactpath.Root(),
			Expected: expected,
			Actual:   actual,
			Message:  fmt.Sprintf("Expected path '%s' but received '%s'", expected, actual),
		}}
	}
	return nil
}

// Request is an actual request received or built for an interaction.
type Request struct {
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Query   url.Values  `json:"query,omitempty"`
	Headers http.Header `json:"headers,omitempty"`
	Body    []byte      `json:"body,omitempty"`
}

// RequestFromHTTP reads r, consuming its body.
func RequestFromHTTP(r *http.Request) (Request, error) {
	req := Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header,
	}
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return Request{}, errors.Wrap(err, "unable to read request body")
		}
		req.Body = body
	}
	return req, nil
}

// Response is an actual response received from a provider.
type Response struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers,omitempty"`
	Body    []byte      `json:"body,omitempty"`
}

// MatchRequest compares an actual request with a request pattern: method, path, query, headers
// and body, in that order.
func MatchRequest(expected pact.RequestPattern, actual Request, opts Options) []Mismatch {
	var mismatches []Mismatch
	if !strings.EqualFold(expected.Method, actual.Method) {
		mismatches = append(mismatches, Mismatch{
			Kind:     MethodMismatch,
			Path:     pactpath.Root(),
			Expected: expected.Method,
			Actual:   actual.Method,
			Message:  fmt.Sprintf("Expected method %s but received %s", expected.Method, actual.Method),
		})
	}
	mismatches = append(mismatches, ComparePath(expected.Path, actual.Path, expected.MatchingRules.Get(matchers.CategoryPath))...)
	mismatches = append(mismatches, CompareQuery(expected.Query, actual.Query, expected.MatchingRules.Get(matchers.CategoryQuery))...)
	mismatches = append(mismatches, CompareHeaders(expected.Headers, actual.Headers, expected.MatchingRules.Get(matchers.CategoryHeader))...)
	mismatches = append(mismatches, CompareBody(expected.Body, actual.Body, actual.Headers.Get("Content-Type"), expected.MatchingRules.Get(matchers.CategoryBody), opts)...)
	return mismatches
}

// MatchResponse compares an actual response with a response pattern: status, headers and body, in
// that order.
func MatchResponse(expected pact.ResponsePattern, actual Response, opts Options) []Mismatch {
	var mismatches []Mismatch
	mismatches = append(mismatches, CompareStatus(expected.Status, actual.Status, expected.MatchingRules.Get(matchers.CategoryStatus))...)
	mismatches = append(mismatches, CompareHeaders(expected.Headers, actual.Headers, expected.MatchingRules.Get(matchers.CategoryHeader))...)
	mismatches = append(mismatches, CompareBody(expected.Body, actual.Body, actual.Headers.Get("Content-Type"), expected.MatchingRules.Get(matchers.CategoryBody), opts)...)
	return mismatches
}
