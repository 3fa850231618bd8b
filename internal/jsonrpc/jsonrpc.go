package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RequestId is the type used to represent the id of a JSON-RPC request.
type RequestId any

// Error is used to provide additional information about the error that occurred.
type Error struct {
	// The error type that occurred.
	Code int `json:"code"`

	// Additional information about the error. The value of this member is defined by
	// the sender (e.g. detailed error information, nested errors etc.).
	Data interface{} `json:"data,omitempty"`

	// A short description of the error. The message SHOULD be limited to a concise
	// single sentence.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

// NewError creates a new Error with the supplied code, message and optional data.
func NewError(code int, message string, data interface{}) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// Request represents a JSON-RPC request message.
type Request struct {
	// Id corresponds to the JSON schema field "id".
	Id RequestId `json:"id"`

	// Jsonrpc corresponds to the JSON schema field "jsonrpc".
	Jsonrpc string `json:"jsonrpc"`

	// Method corresponds to the JSON schema field "method".
	Method string `json:"method"`

	// Params is stored as raw bytes to enable unmarshaling into typed
	// parameter structs later on in the protocol.
	Params json.RawMessage `json:"params,omitempty"`
}

// UnmarshalJSON is a custom JSON unmarshaler for the Request type.
func (m *Request) UnmarshalJSON(data []byte) error {
	required := struct {
		Id      *RequestId       `json:"id"`
		Jsonrpc *string          `json:"jsonrpc"`
		Method  *string          `json:"method"`
		Params  *json.RawMessage `json:"params"`
	}{}
	if err := json.Unmarshal(data, &required); err != nil {
		return err
	}
	if required.Id == nil {
		return errors.New("field id in Request: required")
	}
	if required.Jsonrpc == nil {
		return errors.New("field jsonrpc in Request: required")
	}
	if required.Method == nil {
		return errors.New("field method in Request: required")
	}
	if required.Params == nil {
		required.Params = new(json.RawMessage)
	}
	m.Id = *required.Id
	m.Jsonrpc = *required.Jsonrpc
	m.Method = *required.Method
	m.Params = *required.Params
	return nil
}

// Notification is a type representing a JSON-RPC notification message.
type Notification struct {
	// Jsonrpc corresponds to the JSON schema field "jsonrpc".
	Jsonrpc string `json:"jsonrpc"`

	// Method corresponds to the JSON schema field "method".
	Method string `json:"method"`

	// Params is stored as raw bytes, see Request.Params.
	Params json.RawMessage `json:"params,omitempty"`
}

// UnmarshalJSON is a custom JSON unmarshaler for the Notification type.
func (m *Notification) UnmarshalJSON(data []byte) error {
	required := struct {
		Jsonrpc *string          `json:"jsonrpc"`
		Method  *string          `json:"method"`
		Id      *json.RawMessage `json:"id"`
		Params  *json.RawMessage `json:"params"`
	}{}
	if err := json.Unmarshal(data, &required); err != nil {
		return err
	}
	if required.Jsonrpc == nil {
		return errors.New("field jsonrpc in Notification: required")
	}
	if required.Method == nil {
		return errors.New("field method in Notification: required")
	}
	if required.Id != nil {
		return errors.New("field id in Notification: not allowed")
	}
	m.Jsonrpc = *required.Jsonrpc
	m.Method = *required.Method
	if required.Params != nil {
		m.Params = *required.Params
	}
	return nil
}

// NewNotification creates a notification for the given method, marshaling params.
func NewNotification(method string, params interface{}) (*Notification, error) {
	data, err := asParameters(method, params)
	if err != nil {
		return nil, err
	}
	return &Notification{Jsonrpc: Version, Method: method, Params: data}, nil
}

// Response represents a JSON-RPC response message.
type Response struct {
	// Id corresponds to the JSON schema field "id".
	Id RequestId `json:"id"`

	// Jsonrpc corresponds to the JSON schema field "jsonrpc".
	Jsonrpc string `json:"jsonrpc"`

	// Error is set when the call failed; Result must then be empty.
	Error *Error `json:"error,omitempty"`

	// Result corresponds to the JSON schema field "result".
	Result json.RawMessage `json:"result,omitempty"`
}

// NewResponse creates a success response with the specified id and result payload.
func NewResponse(id RequestId, result interface{}) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonrpc result: %w", err)
	}
	return &Response{Id: id, Jsonrpc: Version, Result: data}, nil
}

// NewErrorResponse creates an error response with the specified id.
func NewErrorResponse(id RequestId, code int, message string, data interface{}) *Response {
	return &Response{Id: id, Jsonrpc: Version, Error: NewError(code, message, data)}
}

// UnmarshalJSON is a custom JSON unmarshaler for the Response type.
func (m *Response) UnmarshalJSON(data []byte) error {
	required := struct {
		Id      *RequestId       `json:"id"`
		Jsonrpc *string          `json:"jsonrpc"`
		Result  *json.RawMessage `json:"result"`
		Error   *Error           `json:"error"`
	}{}
	if err := json.Unmarshal(data, &required); err != nil {
		return err
	}
	if required.Id == nil {
		return errors.New("field id in Response: required")
	}
	if required.Jsonrpc == nil {
		return errors.New("field jsonrpc in Response: required")
	}
	m.Id = *required.Id
	m.Jsonrpc = *required.Jsonrpc
	if required.Result != nil {
		m.Result = *required.Result
	}
	m.Error = required.Error
	if required.Result == nil && required.Error == nil {
		return errors.New("field result in Response: required")
	}
	return nil
}

// NewRequest creates a request for the given method, marshaling params.
func NewRequest(id RequestId, method string, parameters interface{}) (*Request, error) {
	req := &Request{Id: id, Jsonrpc: Version, Method: method}
	var err error
	req.Params, err = asParameters(method, parameters)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func asParameters(method string, parameters interface{}) (json.RawMessage, error) {
	switch actual := parameters.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(actual), nil
	case []byte:
		return actual, nil
	case json.RawMessage:
		return actual, nil
	default:
		data, err := json.Marshal(actual)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jsonrpc parameters: [method:%v] %w", method, err)
		}
		return data, nil
	}
}
