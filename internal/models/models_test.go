package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityRecord_IsNewerThan(t *testing.T) {
	a := &EntityRecord{Revision: 5}
	b := &EntityRecord{Revision: 3}

	assert.True(t, a.IsNewerThan(b))
	assert.False(t, b.IsNewerThan(a))
	assert.False(t, a.IsNewerThan(a))
}

func TestEntityRecord_CloneIsDeep(t *testing.T) {
	original := &EntityRecord{
		Collection: "projects",
		ID:         "p-1",
		Payload:    json.RawMessage(`{"v":1}`),
		Revision:   2,
	}

	clone := original.Clone()
	clone.Payload[2] = 'x'

	assert.JSONEq(t, `{"v":1}`, string(original.Payload))
}

func TestOperationKind_Valid(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.True(t, OpUpdate.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, OperationKind("upsert").Valid())
	assert.False(t, OperationKind("").Valid())
}

func TestResolution_Valid(t *testing.T) {
	assert.True(t, ResolutionUseServer.Valid())
	assert.True(t, ResolutionUseClient.Valid())
	assert.True(t, ResolutionMerge.Valid())
	assert.False(t, Resolution("discard").Valid())
}

func TestPendingOperation_CloneIsDeep(t *testing.T) {
	original := &PendingOperation{
		ID:      "op-1",
		Kind:    OpUpdate,
		Payload: json.RawMessage(`{"v":1}`),
	}

	clone := original.Clone()
	clone.Payload[2] = 'x'
	clone.RetryCount = 9

	assert.JSONEq(t, `{"v":1}`, string(original.Payload))
	assert.Equal(t, 0, original.RetryCount)
}
