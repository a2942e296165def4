package pactverifier_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	internal "github.com/form3tech-oss/pact-verifier/internal/app/pactverifier"
	"github.com/form3tech-oss/pact-verifier/pkg/pactverifier"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pact = `{
	"consumer": {"name": "library-ui"},
	"provider": {"name": "books-api"},
	"interactions": [
	  {
		"description": "a request for a book",
		"request": {"method": "GET", "path": "/books/1"},
		"response": {"status": 200, "headers": {"Content-Type": "application/json"}, "body": {"id": 1}}
	  }
	],
	"metadata": {"pactSpecification": {"version": "3.0.0"}}
}`

func newVerifier(t *testing.T) (*pactverifier.PactVerifier, string) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/books/1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": 1, "title": "Dune"}`)
	}))
	t.Cleanup(provider.Close)

	e := echo.New()
	internal.SetupRoutes(e, &internal.Config{WaitDelay: 10 * time.Millisecond, WaitDuration: time.Second})
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return pactverifier.New(server.URL + "/"), provider.URL
}

func TestVerify(t *testing.T) {
	verifier, providerURL := newVerifier(t)

	run, err := verifier.Verify([]byte(pact), pactverifier.StartOptions{ProviderURL: providerURL}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, internal.RunCompleted, run.Status)
	require.NotNil(t, run.Report)
	assert.True(t, run.Report.Success)

	fetched, err := verifier.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, fetched.ID)

	require.NoError(t, verifier.WaitForAll())
	require.NoError(t, verifier.Reset())

	_, err = verifier.Get(run.ID)
	assert.Error(t, err)
}

func TestPendingVerificationFailureIsNotBlocking(t *testing.T) {
	verifier, _ := newVerifier(t)

	run, err := verifier.Verify([]byte(pact), pactverifier.StartOptions{ProviderURL: "http://127.0.0.1:1", Pending: true}, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, run.Report.Success)
	assert.Equal(t, 1, run.Report.Pending)
}

func TestStartWithoutProvider(t *testing.T) {
	verifier, _ := newVerifier(t)

	_, err := verifier.Start([]byte(pact), pactverifier.StartOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider url")
}

func TestMatch(t *testing.T) {
	verifier, _ := newVerifier(t)

	result, err := verifier.Match([]byte(pact), "a request for a book", pactverifier.Request{Method: "GET", Path: "/books/1"})
	require.NoError(t, err)
	assert.True(t, result.Matched)

	result, err = verifier.Match([]byte(pact), "a request for a book", pactverifier.Request{
		Method: "GET",
		Path:   "/books/2",
		Body:   json.RawMessage(`{"unexpected": true}`),
	})
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.NotEmpty(t, result.Mismatches)
}
