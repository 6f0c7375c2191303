package boltdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
	"github.com/ivmalkov/fieldsync/internal/models"
)

func testRecord(collection, id string, revision int64) *models.EntityRecord {
	return &models.EntityRecord{
		UpdatedAt:  time.Now().UTC().Truncate(time.Second),
		Collection: collection,
		ID:         id,
		Payload:    json.RawMessage(`{"name":"Riverside Tower"}`),
		Revision:   revision,
	}
}

func TestWriteOne_ReadRoundtrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	record := testRecord("projects", "p-1", 3)
	require.NoError(t, store.WriteOne(ctx, record))

	got, err := store.Read(ctx, "projects", "p-1")
	require.NoError(t, err)
	assert.Equal(t, record.Collection, got.Collection)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.Revision, got.Revision)
	assert.JSONEq(t, string(record.Payload), string(got.Payload))
}

func TestRead_NotFound(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	_, err := store.Read(ctx, "projects", "missing")
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)

	// Коллекция существует, записи нет
	require.NoError(t, store.WriteOne(ctx, testRecord("projects", "p-1", 1)))
	_, err = store.Read(ctx, "projects", "missing")
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)
}

func TestWriteOne_ReplacesWholeRecord(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.WriteOne(ctx, testRecord("projects", "p-1", 1)))

	updated := testRecord("projects", "p-1", 2)
	updated.Payload = json.RawMessage(`{"name":"Harbor Bridge"}`)
	require.NoError(t, store.WriteOne(ctx, updated))

	got, err := store.Read(ctx, "projects", "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
	assert.JSONEq(t, `{"name":"Harbor Bridge"}`, string(got.Payload))
}

func TestWriteAll_SingleTransaction(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	records := []*models.EntityRecord{
		testRecord("tasks", "t-1", 1),
		testRecord("tasks", "t-2", 2),
		testRecord("tasks", "t-3", 3),
	}
	require.NoError(t, store.WriteAll(ctx, "tasks", records))

	for _, want := range records {
		got, err := store.Read(ctx, "tasks", want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.Revision, got.Revision)
	}
}

func TestListCollection_FiltersDeleted(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.WriteOne(ctx, testRecord("projects", "p-1", 1)))

	tombstone := testRecord("projects", "p-2", 2)
	tombstone.Deleted = true
	require.NoError(t, store.WriteOne(ctx, tombstone))

	records, err := store.ListCollection(ctx, "projects")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p-1", records[0].ID)
}

func TestListCollection_Empty(t *testing.T) {
	store := newTestStorage(t)

	records, err := store.ListCollection(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSnapshot_Restore_Roundtrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.WriteOne(ctx, testRecord("projects", "p-1", 5)))
	require.NoError(t, store.WriteOne(ctx, testRecord("tasks", "t-1", 7)))
	require.NoError(t, store.SaveLastSync(ctx, 42))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.LastSync)
	assert.Len(t, snap.Collections, 2)
	require.Contains(t, snap.Collections, "projects")
	assert.Equal(t, int64(5), snap.Collections["projects"]["p-1"].Revision)

	// Восстанавливаем снимок в чистую базу
	other := newTestStorage(t)
	require.NoError(t, other.Restore(ctx, snap))

	got, err := other.Read(ctx, "tasks", "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Revision)

	watermark, err := other.LastSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), watermark)
}

func TestRestore_ReplacesExistingState(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.WriteOne(ctx, testRecord("projects", "stale", 1)))

	snap := models.NewSyncSnapshot()
	snap.Collections["projects"] = map[string]*models.EntityRecord{
		"p-1": testRecord("projects", "p-1", 9),
	}
	snap.LastSync = 9

	require.NoError(t, store.Restore(ctx, snap))

	// Старое состояние должно быть замещено целиком
	_, err := store.Read(ctx, "projects", "stale")
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)

	got, err := store.Read(ctx, "projects", "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Revision)
}
