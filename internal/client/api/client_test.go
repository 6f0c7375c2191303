package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmalkov/fieldsync/pkg/api"
)

func TestPush_SendsBatchWithBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/sync/push", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Operations, 1)
		assert.Equal(t, "op-1", req.Operations[0].ID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.PushResponse{Results: []api.PushResult{
			{ID: "op-1", Status: api.StatusSuccess, Revision: 4},
		}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	resp, err := client.Push(context.Background(), "test-token", api.PushRequest{
		Operations: []api.PushOperation{{ID: "op-1", Kind: "create", Collection: "projects", EntityID: "p-1"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(4), resp.Results[0].Revision)
}

func TestPull_PassesSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/pull", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("since"))

		_ = json.NewEncoder(w).Encode(api.PullResponse{Watermark: 50})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	resp, err := client.Pull(context.Background(), "test-token", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(50), resp.Watermark)
}

func TestResolve_EscapesEntityID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/conflicts/p%2F1/resolve", r.URL.EscapedPath())

		_ = json.NewEncoder(w).Encode(api.ResolveResponse{Record: api.Record{Revision: 6}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	resp, err := client.Resolve(context.Background(), "test-token", "p/1", api.ResolveRequest{
		Collection: "projects",
		Resolution: "use_server",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), resp.Record.Revision)
}

func TestDoRequest_DecodesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "invalid_request", Message: "since must be a non-negative integer"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.Pull(context.Background(), "test-token", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request")
}

func TestDoRequest_ServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, 100*time.Millisecond)
	_, err := client.Pull(context.Background(), "test-token", 0)
	assert.Error(t, err)
}
