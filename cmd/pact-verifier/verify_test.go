package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/form3tech-oss/pact-verifier/internal/app/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookPact = `{
	"consumer": {"name": "library-ui"},
	"provider": {"name": "books-api"},
	"interactions": [
	  {
		"description": "a request for a book",
		"request": {"method": "GET", "path": "/books/1"},
		"response": {"status": 200, "headers": {"Content-Type": "application/json"}, "body": {"id": 1, "title": "Dune"}}
	  }
	],
	"metadata": {"pactSpecification": {"version": "3.0.0"}}
}`

func newProvider(t *testing.T, body string) string {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func pactDir(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "library-ui-books-api.json"), []byte(bookPact), 0o600))
	return dir
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVerifyCommandPasses(t *testing.T) {
	provider := newProvider(t, `{"id": 1, "title": "Dune"}`)

	out, err := execute("verify", "--provider-url", provider, pactDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "a request for a book ... OK")
	assert.Contains(t, out, "1 passed, 0 failed, 0 pending, 0 skipped")
}

func TestVerifyCommandFails(t *testing.T) {
	provider := newProvider(t, `{"id": 2, "title": "Dune"}`)

	out, err := execute("verify", "--provider-url", provider, "--format", "json", pactDir(t))
	require.ErrorIs(t, err, errVerificationFailed)

	var summary verification.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.False(t, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Reports, 1)
	assert.Equal(t, "books-api", summary.Reports[0].Provider)
}

func TestVerifyCommandWritesReportFile(t *testing.T) {
	provider := newProvider(t, `{"id": 1, "title": "Dune"}`)
	report := filepath.Join(t.TempDir(), "report.json")

	_, err := execute("verify", "--provider-url", provider, "--format", "json", "-o", report, pactDir(t))
	require.NoError(t, err)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"success": true`)
}

func TestVerifyCommandErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
	}{
		{name: "no pacts", args: []string{"verify", "--provider-url", "http://localhost:1"}},
		{name: "invalid format", args: []string{"verify", "--format", "xml", "pacts"}},
		{name: "missing provider url", args: []string{"verify", pactDirPlaceholder}},
		{name: "unknown pact path", args: []string{"verify", "--provider-url", "http://localhost:1", "does-not-exist"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			for n, arg := range args {
				if arg == pactDirPlaceholder {
					args[n] = pactDir(t)
				}
			}
			_, err := execute(args...)
			require.Error(t, err)
			assert.NotErrorIs(t, err, errVerificationFailed)
		})
	}
}

const pactDirPlaceholder = "<pact-dir>"
