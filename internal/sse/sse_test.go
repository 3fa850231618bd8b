package sse

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_Encode(t *testing.T) {
	event := &Event{ID: "abc", Event: "message", Data: map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "result": map[string]interface{}{},
	}}
	encoded, err := event.Encode()
	assert.NoError(t, err)

	text := string(encoded)
	assert.True(t, strings.HasPrefix(text, "id: abc\nevent: message\ndata: "))
	assert.True(t, strings.HasSuffix(text, "\n\n"))
	assert.Equal(t, 1, strings.Count(text, "data:"), "data stays on a single line")
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
		want string
	}{
		{
			name: "welcome becomes a notification",
			data: map[string]interface{}{"type": "welcome", "connection_id": "c1"},
			want: `{"jsonrpc":"2.0","method":"notifications/welcome","params":{"connection_id":"c1"}}`,
		},
		{
			name: "ping becomes a notification",
			data: map[string]interface{}{"type": "ping", "timestamp": "t"},
			want: `{"jsonrpc":"2.0","method":"notifications/ping","params":{"timestamp":"t"}}`,
		},
		{
			name: "result with id passes through as a response",
			data: map[string]interface{}{"id": float64(3), "result": map[string]interface{}{"ok": true}},
			want: `{"jsonrpc":"2.0","id":3,"result":{"ok":true}}`,
		},
		{
			name: "error with id is normalized",
			data: map[string]interface{}{"id": float64(3), "error": "backend unavailable"},
			want: `{"jsonrpc":"2.0","id":3,"error":{"code":-32000,"message":"backend unavailable"}}`,
		},
		{
			name: "error object keeps its message",
			data: map[string]interface{}{"id": float64(3), "error": map[string]interface{}{"code": float64(-32601), "message": "nope"}},
			want: `{"jsonrpc":"2.0","id":3,"error":{"code":-32000,"message":"nope"}}`,
		},
		{
			name: "already jsonrpc passes through",
			data: map[string]interface{}{"jsonrpc": "2.0", "method": "x", "params": map[string]interface{}{}},
			want: `{"jsonrpc":"2.0","method":"x","params":{}}`,
		},
		{
			name: "anything else becomes notifications/message",
			data: map[string]interface{}{"status": "accepted"},
			want: `{"jsonrpc":"2.0","method":"notifications/message","params":{"status":"accepted"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(Wrap(tt.data))
			assert.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestKeepAlive(t *testing.T) {
	assert.Equal(t, ": keep-alive\n\n", string(KeepAlive()))
}

func TestRaw(t *testing.T) {
	frame := Raw("e1", "endpoint", json.RawMessage(`"/messages?session_id=abc"`))
	assert.Equal(t, "id: e1\nevent: endpoint\ndata: \"/messages?session_id=abc\"\n\n", string(frame))
}

func TestFlushWriter(t *testing.T) {
	recorder := httptest.NewRecorder()
	writer := NewFlushWriter(recorder)

	assert.NoError(t, writer.WriteKeepAlive())
	assert.NoError(t, writer.WriteEvent(NewEvent("message", map[string]interface{}{"type": "ping"})))
	assert.True(t, recorder.Flushed)

	body := recorder.Body.String()
	assert.Contains(t, body, ": keep-alive\n\n")
	assert.Contains(t, body, "event: message\n")
	assert.Contains(t, body, "notifications/ping")
}

func TestFlushWriter_NoFlusher(t *testing.T) {
	writer := &FlushWriter{writer: nil, flusher: nil}
	_, err := writer.Write([]byte("x"))
	assert.ErrorContains(t, err, "streaming not supported")
}
