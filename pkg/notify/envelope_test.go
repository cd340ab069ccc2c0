package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEnvelopeShape(t *testing.T) {
	env, err := RequestEnvelope("topic://VirtualTopic.eng.iib.state", map[string]interface{}{"id": float64(7), "state": "complete"}, true)
	require.NoError(t, err)

	assert.Equal(t, "topic://VirtualTopic.eng.iib.state", env.Address)
	assert.NotEmpty(t, env.Message.ID)
	assert.Equal(t, "application/json", env.Message.ContentType)
	assert.Equal(t, "utf-8", env.Message.ContentEncoding)
	assert.True(t, env.Message.Durable)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Message.Body, &body))
	assert.Equal(t, "complete", body["state"])
}

func TestBatchEnvelopeSortsRequestIDs(t *testing.T) {
	requests := []BatchRequestRef{
		{ID: 30, Type: "add"},
		{ID: 10, Type: "rm"},
		{ID: 20, Type: "add"},
	}
	env, err := BatchEnvelope("topic://VirtualTopic.eng.iib.batch.state", 1, map[string]interface{}{"note": "x"}, requests, "complete", "alice", false)
	require.NoError(t, err)

	var body batchBody
	require.NoError(t, json.Unmarshal(env.Message.Body, &body))
	assert.Equal(t, []int64{10, 20, 30}, body.RequestIDs)
	assert.Equal(t, "complete", body.State)
	assert.Equal(t, "alice", body.User)
	assert.False(t, env.Message.Durable)
}

func TestEnvelopeIDsAreUnique(t *testing.T) {
	e1, err := RequestEnvelope("addr", map[string]interface{}{}, false)
	require.NoError(t, err)
	e2, err := RequestEnvelope("addr", map[string]interface{}{}, false)
	require.NoError(t, err)
	assert.NotEqual(t, e1.Message.ID, e2.Message.ID)
}
