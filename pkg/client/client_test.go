package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientSendsBearerToken tests auth header and body encoding
func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"id":"proj-1","repo_name":"acme/widgets"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "trc_test")
	project, err := c.ConnectProject(context.Background(), "acme/widgets", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer trc_test", gotAuth)
	assert.Equal(t, "/v1/projects/connect", gotPath)
	assert.Equal(t, "acme/widgets", gotBody["repo_name"])
	assert.Equal(t, "proj-1", project.ID)
}

// TestClientSurfacesAPIErrors tests the typed error for non-2xx answers
func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"plan_stale","message":"plan p1 is stale"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "trc_test")
	_, err := c.StartRun(context.Background(), "proj-1", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "plan_stale", apiErr.Kind)
	assert.Contains(t, apiErr.Message, "stale")
}

// TestLogsTailQuery tests query parameter assembly
func TestLogsTailQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "run-1", r.URL.Query().Get("run_id"))
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"events":[{"event_id":"e1"},{"event_id":"e2"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "trc_test")
	events, err := c.LogsTail(context.Background(), "run-1", 7)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].EventID)
}
