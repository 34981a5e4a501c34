package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelatedTaskShapes(t *testing.T) {
	id, ok := WithRelatedTask("s.t").RelatedTask()
	require.True(t, ok)
	assert.Equal(t, "s.t", id)

	var params GetTaskRequest
	require.NoError(t, json.Unmarshal([]byte(`{"taskId":"x","_meta":{"io.modelcontextprotocol/related-task":{"taskId":"s.t"}}}`), &params))
	id, ok = params.RelatedTask()
	require.True(t, ok)
	assert.Equal(t, "s.t", id)

	bare := BaseMetadata{Meta: map[string]any{MetaRelatedTask: "s.u"}}
	id, ok = bare.RelatedTask()
	require.True(t, ok)
	assert.Equal(t, "s.u", id)

	_, ok = BaseMetadata{}.RelatedTask()
	assert.False(t, ok)
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, TaskStatusWorking.Terminal())
	assert.False(t, TaskStatusInputRequired.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCancelled.Terminal())
}

func TestTaskWireShape(t *testing.T) {
	b, err := json.Marshal(GetTaskResult{Task{TaskID: "a.b", Status: TaskStatusWorking, CreatedAt: "c", LastUpdatedAt: "u"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"taskId":"a.b","status":"working","createdAt":"c","lastUpdatedAt":"u","ttl":null}`, string(b))
}

func TestNegotiateProtocolVersion(t *testing.T) {
	assert.Equal(t, "2025-06-18", NegotiateProtocolVersion("2025-06-18"))
	assert.Equal(t, LatestProtocolVersion, NegotiateProtocolVersion("1999-01-01"))
	assert.Equal(t, LatestProtocolVersion, NegotiateProtocolVersion(""))
}

func TestServerCapabilitiesShape(t *testing.T) {
	caps := ServerCapabilities{
		Tools:     &ListChangedCapability{ListChanged: true},
		Resources: &ResourcesCapability{ListChanged: true, Subscribe: true},
	}
	b, err := json.Marshal(caps)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":{"listChanged":true},"resources":{"listChanged":true,"subscribe":true}}`, string(b))
}
