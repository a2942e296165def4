package pact

import (
	"encoding/json"
	"testing"

	"github.com/form3tech-oss/pact-verifier/internal/app/matchers"
	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const v2Pact = `{
	"consumer": {"name": "library-ui"},
	"provider": {"name": "books-api"},
	"interactions": [
	  {
		"description": "A request to list books",
		"providerState": "books exist",
		"request": {
		  "method": "get",
		  "path": "/books",
		  "query": "page=1&tag=a&tag=b",
		  "headers": {"Accept": "application/json"}
		},
		"response": {
		  "status": 200,
		  "headers": {"Content-Type": "application/json; charset=utf-8"},
		  "body": {"books": [{"id": 1, "title": "Dune"}]},
		  "matchingRules": {
			"$.body.books": {"min": 1},
			"$.body.books[*].id": {"match": "integer"},
			"$.headers.Content-Type": {"match": "regex", "regex": "application/json.*"}
		  }
		}
	  }
	],
	"metadata": {"pactSpecification": {"version": "2.0.0"}}
}`

const v3Pact = `{
	"consumer": {"name": "library-ui"},
	"provider": {"name": "books-api"},
	"interactions": [
	  {
		"_id": "d1f0c1",
		"description": "A request to create a book",
		"providerStates": [
		  {"name": "an author exists", "params": {"authorId": 7}},
		  {"name": "the catalogue is open"}
		],
		"request": {
		  "method": "POST",
		  "path": "/books",
		  "query": {"dryRun": ["true"]},
		  "headers": {"Content-Type": "application/json"},
		  "body": {"title": "Dune", "authorId": 7},
		  "generators": {
			"body": {"$.authorId": {"type": "ProviderState", "expression": "${authorId}"}},
			"path": {"type": "ProviderState", "expression": "/authors/${authorId}/books"}
		  }
		},
		"response": {
		  "status": 201,
		  "headers": {"Content-Type": "application/json"},
		  "body": {"title": "Dune", "publicationDate": "1965-08-01T00:00:00+00:00"},
		  "matchingRules": {
			"body": {
			  "$.title": {"matchers": [{"match": "type"}], "combine": "AND"},
			  "$.publicationDate": {"matchers": [{"match": "timestamp", "timestamp": "yyyy-MM-dd'T'HH:mm:ssXXX"}]}
			},
			"status": {"matchers": [{"match": "statusCode", "status": "success"}]}
		  }
		}
	  }
	],
	"metadata": {"pactSpecification": {"version": "3.0.0"}}
}`

func TestLoadV2Pact(t *testing.T) {
	p, err := Load([]byte(v2Pact), "books.json")
	require.NoError(t, err)

	assert.Equal(t, "library-ui", p.Consumer.Name)
	assert.Equal(t, "books-api", p.Provider.Name)
	assert.Equal(t, 2, p.Version.Major())
	assert.Equal(t, "books.json", p.Source)
	require.Len(t, p.Interactions, 1)

	i := p.Interactions[0]
	assert.Equal(t, "A request to list books", i.Description)
	assert.Equal(t, []ProviderState{{Name: "books exist"}}, i.ProviderStates)
	assert.Equal(t, "GET", i.Request.Method)
	assert.Equal(t, []string{"a", "b"}, i.Request.Query["tag"])
	assert.False(t, i.Request.Body.Present)

	assert.Equal(t, 200, i.Response.Status)
	assert.True(t, i.Response.Body.IsJSON())
	assert.Equal(t, "application/json", i.Response.Body.MediaType())

	body := i.Response.MatchingRules.Get(matchers.CategoryBody)
	group, ok := body.Get(pactpath.MustParse("$.books"))
	require.True(t, ok)
	assert.Equal(t, matchers.Group(matchers.MinType{Min: 1}), group)
	_, ok = i.Response.MatchingRules.Get(matchers.CategoryHeader).Get(matchers.HeaderPath("content-type"))
	assert.True(t, ok)
}

func TestLoadV3Pact(t *testing.T) {
	p, err := Load([]byte(v3Pact), "")
	require.NoError(t, err)
	require.Len(t, p.Interactions, 1)

	i := p.Interactions[0]
	assert.Equal(t, "d1f0c1", i.ID)
	require.Len(t, i.ProviderStates, 2)
	assert.Equal(t, "an author exists", i.ProviderStates[0].Name)
	assert.Equal(t, json.Number("7"), i.ProviderStates[0].Params["authorId"])
	assert.Equal(t, "an author exists & the catalogue is open", i.StateKey())

	assert.Equal(t, []string{"true"}, i.Request.Query["dryRun"])
	assert.Equal(t, map[string]interface{}{"title": "Dune", "authorId": json.Number("7")}, i.Request.Body.Value)
	assert.Equal(t, Generator{Type: "ProviderState", Attributes: map[string]interface{}{"expression": "${authorId}"}}, i.Request.Generators.Get("body")["$.authorId"])
	assert.Equal(t, "ProviderState", i.Request.Generators.Get("path")[""].Type)

	assert.Equal(t, 201, i.Response.Status)
	assert.Equal(t, 2, i.Response.MatchingRules.Get(matchers.CategoryBody).Len())
	_, ok := i.Response.MatchingRules.Get(matchers.CategoryStatus).Get(pactpath.Root())
	assert.True(t, ok)

	rendered, err := i.Request.Body.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"title": "Dune", "authorId": 7}`, string(rendered))
}

func TestLoadBodies(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		contentType string
		value       interface{}
		wantErr     bool
	}{
		{
			name:        "text body",
			response:    `{"status": 200, "headers": {"Content-Type": "text/plain"}, "body": "some file response"}`,
			contentType: "text/plain",
			value:       "some file response",
		},
		{
			name:        "xml body",
			response:    `{"status": 200, "headers": {"Content-Type": "application/xml"}, "body": "<a/>"}`,
			contentType: "application/xml",
			value:       "<a/>",
		},
		{
			name:        "json body without content type",
			response:    `{"status": 200, "body": [1, 2]}`,
			contentType: "application/json",
			value:       []interface{}{json.Number("1"), json.Number("2")},
		},
		{
			name:        "json document embedded as a string",
			response:    `{"status": 200, "headers": {"content-type": "application/json"}, "body": "{\"a\": true}"}`,
			contentType: "application/json",
			value:       map[string]interface{}{"a": true},
		},
		{
			name:        "v4 base64 body",
			response:    `{"status": 200, "body": {"content": "aGVsbG8=", "contentType": "text/plain", "encoded": "base64"}}`,
			contentType: "text/plain",
			value:       "hello",
		},
		{
			name:     "text media type with json body",
			response: `{"status": 200, "headers": {"Content-Type": "text/plain"}, "body": {"a": 1}}`,
			wantErr:  true,
		},
		{
			name:     "invalid media type",
			response: `{"status": 200, "headers": {"Content-Type": "/"}, "body": "x"}`,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [{
				"description": "d", "request": {"method": "GET", "path": "/"}, "response": ` + tt.response + `}],
				"metadata": {"pactSpecification": {"version": "4.0"}}}`
			p, err := Load([]byte(doc), "")
			require.Equalf(t, tt.wantErr, err != nil, "error %v", err)
			if tt.wantErr {
				return
			}
			body := p.Interactions[0].Response.Body
			assert.True(t, body.Present)
			assert.Equal(t, tt.contentType, body.MediaType())
			assert.Equal(t, tt.value, body.Value)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		interaction string
	}{
		{name: "invalid json", doc: `{`},
		{name: "no consumer", doc: `{"provider": {"name": "p"}, "interactions": []}`},
		{name: "no interactions", doc: `{"consumer": {"name": "c"}, "provider": {"name": "p"}}`},
		{
			name:        "no request",
			doc:         `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [{"description": "d", "response": {}}]}`,
			interaction: "d",
		},
		{
			name: "unknown matcher",
			doc: `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [{"description": "d",
				"request": {"method": "GET", "path": "/"},
				"response": {"status": 200, "matchingRules": {"body": {"$.a": {"matchers": [{"match": "fuzzy"}]}}}}}],
				"metadata": {"pactSpecification": {"version": "3.0.0"}}}`,
			interaction: "d",
		},
		{
			name: "malformed rule path",
			doc: `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [{"description": "d",
				"request": {"method": "GET", "path": "/"},
				"response": {"status": 200, "matchingRules": {"$.body[": {"match": "type"}}}}],
				"metadata": {"pactSpecification": {"version": "2.0.0"}}}`,
			interaction: "d",
		},
		{
			name: "invalid version",
			doc:  `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [], "metadata": {"pactSpecification": {"version": "three"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc), "pact.json")
			require.Error(t, err)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, "pact.json", parseErr.Source)
			assert.Equal(t, tt.interaction, parseErr.Interaction)
		})
	}
}

func TestSpecVersionDefaults(t *testing.T) {
	var v SpecVersion
	assert.Equal(t, 3, v.Major())
	assert.Equal(t, "3.0.0", v.String())
	assert.True(t, MustSpecVersion("4.0").AtLeast("3.0.0"))
	assert.False(t, MustSpecVersion("1.1").AtLeast("2"))
}

func TestSkipsNonHTTPInteractions(t *testing.T) {
	p, err := Load([]byte(`{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [
		{"type": "Asynchronous/Messages", "description": "m"},
		{"type": "Synchronous/HTTP", "description": "h", "pending": true, "request": {"method": "GET", "path": "/"}, "response": {"status": 204}}
	], "metadata": {"pactSpecification": {"version": "4.0"}}}`), "")
	require.NoError(t, err)
	require.Len(t, p.Interactions, 1)
	assert.Equal(t, "h", p.Interactions[0].Description)
	assert.True(t, p.Interactions[0].Pending)
	assert.Equal(t, 4, p.Interactions[0].SpecVersion.Major())
}
