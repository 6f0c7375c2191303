package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmalkov/fieldsync/internal/server/storage/sqlite"
	"github.com/ivmalkov/fieldsync/internal/server/token"
	"github.com/ivmalkov/fieldsync/pkg/api"
)

var testTokenConfig = token.Config{
	Secret: "test-secret",
	Issuer: "fieldsync",
	TTL:    time.Hour,
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(New(logger, store, testTokenConfig))
	t.Cleanup(srv.Close)

	deviceToken, err := token.Generate(testTokenConfig, "device-1")
	require.NoError(t, err)

	return srv, deviceToken
}

func doJSON(t *testing.T, method, url, bearer string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func pushOp(kind, entityID string, baseRevision int64, payload string) api.PushOperation {
	return api.PushOperation{
		CreatedAt:    time.Now().UTC(),
		ID:           uuid.New().String(),
		Kind:         kind,
		Collection:   "projects",
		EntityID:     entityID,
		DeviceID:     "device-1",
		Payload:      json.RawMessage(payload),
		BaseRevision: baseRevision,
	}
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	status := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestPush_RequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)

	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", "", api.PushRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", "bogus", api.PushRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPush_CreateAndPull(t *testing.T) {
	srv, bearer := newTestServer(t)

	var pushResp api.PushResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, api.PushRequest{
		Operations: []api.PushOperation{pushOp("create", "p-1", 0, `{"name":"Riverside Tower"}`)},
	}, &pushResp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, pushResp.Results, 1)
	assert.Equal(t, api.StatusSuccess, pushResp.Results[0].Status)
	assert.Equal(t, int64(1), pushResp.Results[0].Revision)

	var pullResp api.PullResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/pull?since=0", bearer, nil, &pullResp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, pullResp.Changes, 1)
	assert.Equal(t, "p-1", pullResp.Changes[0].ID)
	assert.Equal(t, int64(1), pullResp.Changes[0].Revision)
	assert.Equal(t, int64(1), pullResp.Watermark)
}

func TestPush_DuplicateOperationReplayed(t *testing.T) {
	srv, bearer := newTestServer(t)

	op := pushOp("create", "p-1", 0, `{"name":"a"}`)
	req := api.PushRequest{Operations: []api.PushOperation{op}}

	var first api.PushResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, req, &first)

	// Повтор того же пакета (потерянный ответ) - тот же результат
	var second api.PushResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, req, &second)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, second.Results, 1)
	assert.Equal(t, api.StatusSuccess, second.Results[0].Status)
	assert.Equal(t, first.Results[0].Revision, second.Results[0].Revision)
}

func TestPush_ConflictReturnsServerRecord(t *testing.T) {
	srv, bearer := newTestServer(t)

	var setup api.PushResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, api.PushRequest{
		Operations: []api.PushOperation{pushOp("create", "p-1", 0, `{"v":"server"}`)},
	}, &setup)
	require.Equal(t, api.StatusSuccess, setup.Results[0].Status)

	// Операция с отставшей базовой ревизией
	var resp api.PushResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, api.PushRequest{
		Operations: []api.PushOperation{pushOp("update", "p-1", 0, `{"v":"client"}`)},
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, api.StatusConflict, resp.Results[0].Status)
	require.NotNil(t, resp.Results[0].ServerRecord)
	assert.Equal(t, int64(1), resp.Results[0].ServerRecord.Revision)
	assert.JSONEq(t, `{"v":"server"}`, string(resp.Results[0].ServerRecord.Payload))
}

func TestPush_InvalidOperationIsPermanentError(t *testing.T) {
	srv, bearer := newTestServer(t)

	op := pushOp("update", "p-1", 0, ``)
	op.Payload = nil

	var resp api.PushResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, api.PushRequest{
		Operations: []api.PushOperation{op},
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, api.StatusError, resp.Results[0].Status)
	assert.Equal(t, api.ErrorKindPermanent, resp.Results[0].ErrorKind)
}

func TestPush_MixedBatchAppliedIndependently(t *testing.T) {
	srv, bearer := newTestServer(t)

	bad := pushOp("upsert", "p-2", 0, `{"v":1}`)

	var resp api.PushResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, api.PushRequest{
		Operations: []api.PushOperation{
			pushOp("create", "p-1", 0, `{"v":1}`),
			bad,
		},
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, api.StatusSuccess, resp.Results[0].Status)
	assert.Equal(t, api.StatusError, resp.Results[1].Status)
}

func TestPull_InvalidSince(t *testing.T) {
	srv, bearer := newTestServer(t)

	status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/pull?since=abc", bearer, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/pull?since=-1", bearer, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestResolve_UseClientWritesNewRevision(t *testing.T) {
	srv, bearer := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, api.PushRequest{
		Operations: []api.PushOperation{pushOp("create", "p-1", 0, `{"v":"server"}`)},
	}, nil)

	var resp api.ResolveResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/conflicts/p-1/resolve", bearer, api.ResolveRequest{
		Collection:      "projects",
		Resolution:      "use_client",
		ResolvedPayload: json.RawMessage(`{"v":"client"}`),
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), resp.Record.Revision)
	assert.JSONEq(t, `{"v":"client"}`, string(resp.Record.Payload))

	// Разрешенная версия видна остальным устройствам через pull
	var pullResp api.PullResponse
	doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v1/sync/pull?since=%d", srv.URL, 1), bearer, nil, &pullResp)
	require.Len(t, pullResp.Changes, 1)
	assert.JSONEq(t, `{"v":"client"}`, string(pullResp.Changes[0].Record.Payload))
}

func TestResolve_UseServerReturnsCurrentRecord(t *testing.T) {
	srv, bearer := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/push", bearer, api.PushRequest{
		Operations: []api.PushOperation{pushOp("create", "p-1", 0, `{"v":"server"}`)},
	}, nil)

	var resp api.ResolveResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/conflicts/p-1/resolve", bearer, api.ResolveRequest{
		Collection: "projects",
		Resolution: "use_server",
	}, &resp)
	require.Equal(t, http.StatusOK, status)

	// Новая ревизия не создается
	assert.Equal(t, int64(1), resp.Record.Revision)
	assert.JSONEq(t, `{"v":"server"}`, string(resp.Record.Payload))
}

func TestResolve_Validation(t *testing.T) {
	srv, bearer := newTestServer(t)

	// Неизвестный способ разрешения
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/conflicts/p-1/resolve", bearer, api.ResolveRequest{
		Collection: "projects",
		Resolution: "discard",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Отсутствует коллекция
	status = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/conflicts/p-1/resolve", bearer, api.ResolveRequest{
		Resolution: "use_server",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// use_server по несуществующей сущности
	status = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/conflicts/missing/resolve", bearer, api.ResolveRequest{
		Collection: "projects",
		Resolution: "use_server",
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
