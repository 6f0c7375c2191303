package resolver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmalkov/fieldsync/internal/models"
)

func record(id string, revision int64, payload string) *models.EntityRecord {
	return &models.EntityRecord{
		UpdatedAt:  time.Now().UTC(),
		Collection: "projects",
		ID:         id,
		Payload:    json.RawMessage(payload),
		Revision:   revision,
	}
}

func TestDetect_BothSidesChanged(t *testing.T) {
	r := New(nil)

	local := record("p-1", 3, `{"name":"local"}`)
	server := record("p-1", 7, `{"name":"server"}`)

	conflict := r.Detect(local, server, 3)
	require.NotNil(t, conflict)
	assert.Equal(t, "projects", conflict.Collection)
	assert.Equal(t, "p-1", conflict.EntityID)
	assert.JSONEq(t, `{"name":"local"}`, string(conflict.ClientVersion.Payload))
	assert.JSONEq(t, `{"name":"server"}`, string(conflict.ServerVersion.Payload))
}

func TestDetect_ServerUnchanged(t *testing.T) {
	r := New(nil)

	local := record("p-1", 3, `{"name":"local"}`)
	server := record("p-1", 3, `{"name":"server"}`)

	// Серверная ревизия не ушла вперед базовой - конфликта нет
	assert.Nil(t, r.Detect(local, server, 3))
}

func TestDetect_MissingSide(t *testing.T) {
	r := New(nil)

	local := record("p-1", 3, `{}`)
	server := record("p-1", 7, `{}`)

	assert.Nil(t, r.Detect(nil, server, 3))
	assert.Nil(t, r.Detect(local, nil, 3))
}

func TestDetect_ClonesVersions(t *testing.T) {
	r := New(nil)

	local := record("p-1", 3, `{"name":"local"}`)
	server := record("p-1", 7, `{"name":"server"}`)

	conflict := r.Detect(local, server, 3)
	require.NotNil(t, conflict)

	// Мутация оригинала не должна менять зафиксированные версии
	local.Payload = json.RawMessage(`{"name":"mutated"}`)
	assert.JSONEq(t, `{"name":"local"}`, string(conflict.ClientVersion.Payload))
}

func TestResolve_UseServer(t *testing.T) {
	r := New(nil)

	conflict := r.Detect(record("p-1", 3, `{"name":"local"}`), record("p-1", 7, `{"name":"server"}`), 3)
	require.NotNil(t, conflict)

	resolved, err := r.Resolve(conflict, models.ResolutionUseServer, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), resolved.Revision)
	assert.JSONEq(t, `{"name":"server"}`, string(resolved.Payload))
	assert.Equal(t, models.ResolutionUseServer, conflict.Resolution)
}

func TestResolve_UseClient(t *testing.T) {
	r := New(nil)

	conflict := r.Detect(record("p-1", 3, `{"name":"local"}`), record("p-1", 7, `{"name":"server"}`), 3)
	require.NotNil(t, conflict)

	resolved, err := r.Resolve(conflict, models.ResolutionUseClient, nil)
	require.NoError(t, err)

	// Клиентский payload на серверной ревизии
	assert.Equal(t, int64(7), resolved.Revision)
	assert.JSONEq(t, `{"name":"local"}`, string(resolved.Payload))
}

func TestResolve_MergeWithExplicitFn(t *testing.T) {
	r := New(nil)

	conflict := r.Detect(record("p-1", 3, `{"name":"local"}`), record("p-1", 7, `{"name":"server"}`), 3)
	require.NotNil(t, conflict)

	mergeFn := func(client, server json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"name":"merged"}`), nil
	}

	resolved, err := r.Resolve(conflict, models.ResolutionMerge, mergeFn)
	require.NoError(t, err)
	assert.Equal(t, int64(7), resolved.Revision)
	assert.JSONEq(t, `{"name":"merged"}`, string(resolved.Payload))
	assert.JSONEq(t, `{"name":"merged"}`, string(conflict.ResolvedPayload))
}

func TestResolve_MergeFallsBackToPolicy(t *testing.T) {
	r := New(nil)
	r.SetPolicy("projects", Policy{Resolution: models.ResolutionMerge, Merge: ShallowMerge})

	conflict := r.Detect(
		record("p-1", 3, `{"name":"Riverside Tower","budget":100000}`),
		record("p-1", 7, `{"name":"Riverside Plaza","budget":100000}`),
		3,
	)
	require.NotNil(t, conflict)

	resolved, err := r.Resolve(conflict, models.ResolutionMerge, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Riverside Tower","budget":100000}`, string(resolved.Payload))
}

func TestResolve_MergeWithoutFn(t *testing.T) {
	r := New(nil)

	conflict := r.Detect(record("p-1", 3, `{}`), record("p-1", 7, `{}`), 3)
	require.NotNil(t, conflict)

	_, err := r.Resolve(conflict, models.ResolutionMerge, nil)
	assert.Error(t, err)
}

func TestResolve_UnknownResolution(t *testing.T) {
	r := New(nil)

	conflict := r.Detect(record("p-1", 3, `{}`), record("p-1", 7, `{}`), 3)
	require.NotNil(t, conflict)

	_, err := r.Resolve(conflict, models.Resolution("discard"), nil)
	assert.Error(t, err)
}

func TestShallowMerge_ClientWinsOnOverlap(t *testing.T) {
	// Устройства правили разные поля: бюджет с клиента, имя с сервера
	merged, err := ShallowMerge(
		json.RawMessage(`{"budget":150000}`),
		json.RawMessage(`{"name":"Riverside Plaza","budget":100000}`),
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Riverside Plaza","budget":150000}`, string(merged))
}

func TestShallowMerge_NonObjectPayload(t *testing.T) {
	_, err := ShallowMerge(json.RawMessage(`[1,2]`), json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = ShallowMerge(json.RawMessage(`{}`), json.RawMessage(`"text"`))
	assert.Error(t, err)
}
