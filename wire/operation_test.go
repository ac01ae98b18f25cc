package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_SetRoundTripsValueUnderValueKey(t *testing.T) {
	op := Operation{
		Type:  OpSet,
		Key:   "k",
		Value: &SerializableValue{Type: ValueKindPlain, Value: json.RawMessage(`"hello"`)},
	}
	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "set", decoded["type"])
	assert.NotNil(t, decoded["value"])
	assert.Nil(t, decoded["act"])

	var round Operation
	require.NoError(t, json.Unmarshal(raw, &round))
	require.NotNil(t, round.Value)
	assert.Equal(t, ValueKindPlain, round.Value.Type)
	assert.Nil(t, round.Act)
}

func TestOperation_ActSerializesPayloadUnderValueKey(t *testing.T) {
	op := Operation{
		Type: OpAct,
		Key:  "counter",
		Act:  &ActPayload{OpName: "increment", Value: json.RawMessage(`{"delta":1}`)},
	}
	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "act", decoded["type"])
	value, ok := decoded["value"].(map[string]any)
	require.True(t, ok, "act payload must serialize under the \"value\" key")
	assert.Equal(t, "increment", value["opName"])
	_, hasActKey := decoded["act"]
	assert.False(t, hasActKey, "act must not also serialize under a distinct \"act\" key")

	var round Operation
	require.NoError(t, json.Unmarshal(raw, &round))
	require.NotNil(t, round.Act)
	assert.Equal(t, "increment", round.Act.OpName)
	assert.Nil(t, round.Value)
}

func TestOperation_DeleteHasNoValueKey(t *testing.T) {
	op := Operation{Type: OpDelete, Key: "k"}
	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded["value"])

	var round Operation
	require.NoError(t, json.Unmarshal(raw, &round))
	assert.Nil(t, round.Value)
	assert.Nil(t, round.Act)
}

func TestSequencedMessage_RoundTripsActOperation(t *testing.T) {
	msg := SequencedMessage{
		Type:                 "op",
		ClientID:             "peerA",
		ClientSequenceNumber: 3,
		SequenceNumber:       10,
		Contents: Operation{
			Type: OpAct,
			Key:  "counter",
			Path: "/",
			Act:  &ActPayload{OpName: "increment", Value: json.RawMessage(`{"delta":2}`)},
		},
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var round SequencedMessage
	require.NoError(t, json.Unmarshal(raw, &round))
	require.NotNil(t, round.Contents.Act)
	assert.Equal(t, "increment", round.Contents.Act.OpName)
	assert.EqualValues(t, 10, round.SequenceNumber)
}
