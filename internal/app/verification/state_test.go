package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStateChanger(t *testing.T) {
	var received stateChangeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 12, "name": "dune"}`))
	}))
	defer server.Close()

	changer := NewHTTPStateChanger(mustURL(t, server.URL), nil, time.Second)
	values, err := changer.ChangeState(context.Background(), pact.ProviderState{
		Name:   "a book exists",
		Params: map[string]interface{}{"id": 12},
	}, SetupAction)
	require.NoError(t, err)

	assert.Equal(t, "a book exists", received.State)
	assert.Equal(t, SetupAction, received.Action)
	assert.Equal(t, map[string]interface{}{"id": float64(12)}, received.Params)
	assert.Equal(t, map[string]interface{}{"id": json.Number("12"), "name": "dune"}, values)
}

func TestHTTPStateChangerResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		values  map[string]interface{}
		wantErr bool
	}{
		{name: "no content", status: http.StatusNoContent},
		{name: "non object body is ignored", status: http.StatusOK, body: `"ok"`},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: true},
		{name: "not found", status: http.StatusNotFound, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			values, err := NewHTTPStateChanger(mustURL(t, server.URL), nil, time.Second).
				ChangeState(context.Background(), pact.ProviderState{Name: "s"}, SetupAction)
			require.Equal(t, tt.wantErr, err != nil, "error %v", err)
			assert.Equal(t, tt.values, values)
		})
	}
}

func TestHTTPStateChangerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewHTTPStateChanger(mustURL(t, server.URL), nil, 20*time.Millisecond).
		ChangeState(context.Background(), pact.ProviderState{Name: "slow"}, SetupAction)
	assert.Error(t, err)
}
