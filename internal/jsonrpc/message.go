package jsonrpc

import "encoding/json"

// Kind is an enumeration of the syntactic kinds of JSON-RPC messages.
type Kind string

const (
	KindRequest      Kind = "request"
	KindNotification Kind = "notification"
	KindResponse     Kind = "response"
	KindInvalid      Kind = "invalid"
)

type probe struct {
	Jsonrpc string           `json:"jsonrpc"`
	Id      *json.RawMessage `json:"id"`
	Method  *string          `json:"method"`
	Result  *json.RawMessage `json:"result"`
	Error   *json.RawMessage `json:"error"`
}

// Classify determines the message kind purely from field presence:
// method+id is a request, method without id a notification, result or
// error with id a response, anything else invalid.
func Classify(data []byte) Kind {
	p := &probe{}
	if err := json.Unmarshal(data, p); err != nil {
		return KindInvalid
	}
	if p.Jsonrpc != Version {
		return KindInvalid
	}
	hasID := p.Id != nil
	switch {
	case p.Method != nil && hasID:
		return KindRequest
	case p.Method != nil:
		return KindNotification
	case (p.Result != nil || p.Error != nil) && hasID:
		return KindResponse
	default:
		return KindInvalid
	}
}

// RequestID extracts the raw id from a message so error responses can echo
// it; returns nil when the id cannot be determined.
func RequestID(data []byte) RequestId {
	var holder struct {
		Id RequestId `json:"id"`
	}
	if err := json.Unmarshal(data, &holder); err != nil {
		return nil
	}
	return holder.Id
}
