// Package sse encodes server-sent event frames for the MCP transports.
package sse

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ticketmcp/ticketmcp/internal/jsonrpc"
)

// Event is one SSE frame. Data is marshaled to a single JSON line.
type Event struct {
	ID    string
	Event string
	Data  interface{}
}

// NewEvent creates a frame with a fresh event id.
func NewEvent(name string, data interface{}) *Event {
	return &Event{ID: uuid.New().String(), Event: name, Data: data}
}

// Encode renders the frame in wire format: id, event and data lines followed
// by a blank line.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(Wrap(e.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to encode sse event: %w", err)
	}
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Event, data)), nil
}

// KeepAlive is the comment frame emitted while a stream idles.
func KeepAlive() []byte {
	return []byte(": keep-alive\n\n")
}

// Raw renders a frame whose data is already serialized JSON.
func Raw(id, name string, data json.RawMessage) []byte {
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", id, name, data))
}

// notificationTypes are the internal event payloads that become
// notifications/<type> on the wire.
var notificationTypes = map[string]bool{
	"welcome":    true,
	"ping":       true,
	"error":      true,
	"connection": true,
}

// Wrap lifts a loose payload into a JSON-RPC message so every data line a
// client sees is protocol-shaped. Payloads already carrying a jsonrpc field
// pass through untouched.
func Wrap(data interface{}) interface{} {
	payload, ok := data.(map[string]interface{})
	if !ok {
		return data
	}
	if _, ok := payload["jsonrpc"]; ok {
		return payload
	}

	if typ, ok := payload["type"].(string); ok && notificationTypes[typ] {
		params := make(map[string]interface{}, len(payload)-1)
		for k, v := range payload {
			if k != "type" {
				params[k] = v
			}
		}
		return map[string]interface{}{
			"jsonrpc": jsonrpc.Version,
			"method":  "notifications/" + typ,
			"params":  params,
		}
	}

	id, hasID := payload["id"]
	if result, ok := payload["result"]; ok && hasID {
		return map[string]interface{}{
			"jsonrpc": jsonrpc.Version,
			"id":      id,
			"result":  result,
		}
	}
	if errValue, ok := payload["error"]; ok && hasID {
		return map[string]interface{}{
			"jsonrpc": jsonrpc.Version,
			"id":      id,
			"error": map[string]interface{}{
				"code":    jsonrpc.TransportError,
				"message": errorMessage(errValue),
			},
		}
	}

	return map[string]interface{}{
		"jsonrpc": jsonrpc.Version,
		"method":  "notifications/message",
		"params":  payload,
	}
}

func errorMessage(value interface{}) string {
	switch actual := value.(type) {
	case string:
		return actual
	case map[string]interface{}:
		if message, ok := actual["message"].(string); ok {
			return message
		}
	}
	return fmt.Sprintf("%v", value)
}
