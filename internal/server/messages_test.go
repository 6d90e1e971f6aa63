package server

import (
	"encoding/json"
	"testing"

	"github.com/npezzotti/go-roomrelay/internal/fabric"
	"github.com/npezzotti/go-roomrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerMessage(t *testing.T) {
	msg := NewServerMessage(fabric.Event{Name: fabric.EventPeers, Payload: []types.Peer{}})

	assert.Equal(t, fabric.EventPeers, msg.Event)
	assert.False(t, msg.Timestamp.IsZero(), "expected timestamp to be set")
	assert.Equal(t, []types.Peer{}, msg.Data)
}

func TestErrInvalidMessage(t *testing.T) {
	msg := ErrInvalidMessage()

	assert.Equal(t, fabric.EventError, msg.Event)
	assert.Equal(t, types.ErrorEvent{Error: errInvalidMessage}, msg.Data)
}

func TestClientMessageSections(t *testing.T) {
	tcs := []struct {
		raw   string
		check func(t *testing.T, msg ClientMessage)
	}{
		{`{"id":1,"join":{"room_id":"r1"}}`, func(t *testing.T, msg ClientMessage) {
			require.NotNil(t, msg.Join)
			assert.Equal(t, 1, msg.Id)
			assert.Equal(t, "r1", msg.Join.RoomId)
		}},
		{`{"typing":{"room_id":"r1","typing":true}}`, func(t *testing.T, msg ClientMessage) {
			require.NotNil(t, msg.Typing)
			require.NotNil(t, msg.Typing.Typing)
			assert.True(t, *msg.Typing.Typing)
		}},
		{`{"send":{"room_id":"r1","content":"hi"}}`, func(t *testing.T, msg ClientMessage) {
			require.NotNil(t, msg.Send)
			assert.Equal(t, "hi", msg.Send.Content)
			assert.Nil(t, msg.Submit)
		}},
		{`{"read":{"message_id":"m1"}}`, func(t *testing.T, msg ClientMessage) {
			require.NotNil(t, msg.Read)
			assert.Equal(t, "m1", msg.Read.MessageId)
		}},
	}

	for _, tc := range tcs {
		t.Run(tc.raw, func(t *testing.T) {
			var msg ClientMessage
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &msg))
			tc.check(t, msg)
		})
	}
}

func TestCallMessageSignalPayloadIsOpaque(t *testing.T) {
	var msg CallMessage
	require.NoError(t, json.Unmarshal([]byte(`{"signal":{"room_id":"c1","to":"x","payload":{"candidate":"a=1","n":[1,2]}}}`), &msg))

	require.NotNil(t, msg.Signal)
	assert.JSONEq(t, `{"candidate":"a=1","n":[1,2]}`, string(msg.Signal.Payload))
}
