package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequest_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      *Request
		wantError bool
	}{
		{
			name:  "valid request",
			input: `{"jsonrpc":"2.0","method":"tools/list","id":1,"params":{}}`,
			want: &Request{
				Jsonrpc: "2.0",
				Method:  "tools/list",
				Id:      float64(1),
				Params:  json.RawMessage(`{}`),
			},
		},
		{
			name:      "missing jsonrpc version",
			input:     `{"method":"tools/list","id":1}`,
			wantError: true,
		},
		{
			name:      "missing method",
			input:     `{"jsonrpc":"2.0","id":1}`,
			wantError: true,
		},
		{
			name:      "missing id",
			input:     `{"jsonrpc":"2.0","method":"tools/list"}`,
			wantError: true,
		},
		{
			name:  "params optional",
			input: `{"jsonrpc":"2.0","method":"ping","id":"a"}`,
			want: &Request{
				Jsonrpc: "2.0",
				Method:  "ping",
				Id:      "a",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Request
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.EqualValues(t, tt.want, &got)
		})
	}
}

func TestNotification_UnmarshalJSON(t *testing.T) {
	var n Notification
	err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"req-7"}}`), &n)
	assert.NoError(t, err)
	assert.Equal(t, "notifications/cancelled", n.Method)

	err = json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/cancelled","id":3}`), &n)
	assert.Error(t, err, "id is not allowed on a notification")
}

func TestResponse_UnmarshalJSON(t *testing.T) {
	var r Response
	err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":2,"result":{"ok":true}}`), &r)
	assert.NoError(t, err)
	assert.Nil(t, r.Error)

	err = json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"nope"}}`), &r)
	assert.NoError(t, err)
	assert.Equal(t, MethodNotFound, r.Error.Code)

	err = json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":2}`), &r)
	assert.Error(t, err, "either result or error is required")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Kind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, KindRequest},
		{"request with string id", `{"jsonrpc":"2.0","id":"x","method":"ping"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/cancelled"}`, KindNotification},
		{"null id counts as absent", `{"jsonrpc":"2.0","id":null,"method":"ping"}`, KindNotification},
		{"response result", `{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{"response error", `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"x"}}`, KindResponse},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, KindInvalid},
		{"no method no result", `{"jsonrpc":"2.0","id":1}`, KindInvalid},
		{"not json", `{`, KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.input)))
		})
	}
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, float64(7), RequestID([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)))
	assert.Nil(t, RequestID([]byte(`not json`)))
}

func TestError_Error(t *testing.T) {
	err := NewError(InternalError, "boom", "detail")
	assert.Contains(t, err.Error(), "-32603")
	assert.Contains(t, err.Error(), "boom")
}
