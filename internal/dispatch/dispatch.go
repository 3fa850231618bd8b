// Package dispatch routes JSON-RPC messages to their MCP method handlers.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ticketmcp/ticketmcp/internal/jsonrpc"
	"github.com/ticketmcp/ticketmcp/internal/tickets"
)

const (
	serverName    = "MCP Ticket Server"
	serverVersion = "1.0.0"
)

// Dispatcher executes MCP methods against the ticket tool adapter. Both
// transports share one instance; it holds no per-session state.
type Dispatcher struct {
	adapter    *tickets.Adapter
	logger     *zap.Logger
	onToolCall func(tool string)
}

// New creates a Dispatcher.
func New(adapter *tickets.Adapter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{adapter: adapter, logger: logger}
}

// OnToolCall registers an observer invoked once per tools/call, used for
// metrics.
func (d *Dispatcher) OnToolCall(fn func(tool string)) {
	d.onToolCall = fn
}

// Dispatch runs a request and always produces a response; failures are
// encoded as JSON-RPC errors rather than returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var (
		result interface{}
		err    error
	)
	switch req.Method {
	case "initialize":
		result = d.initialize()
	case "tools/list":
		result = toolList()
	case "tools/call":
		result, err = d.callTool(ctx, req.Params)
	case "ping":
		result = map[string]string{
			"status":    "pong",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
	default:
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.MethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
	if err != nil {
		d.logger.Warn("method failed", zap.String("method", req.Method), zap.Error(err))
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.InternalError, "Internal error", err.Error())
	}
	resp, err := jsonrpc.NewResponse(req.Id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.InternalError, "Internal error", err.Error())
	}
	return resp
}

// HandleNotification consumes a notification; notifications never produce a
// response, they are only logged.
func (d *Dispatcher) HandleNotification(_ context.Context, n *jsonrpc.Notification) {
	switch n.Method {
	case "notifications/cancelled":
		params := struct {
			RequestId interface{} `json:"requestId"`
			Reason    string      `json:"reason"`
		}{}
		_ = json.Unmarshal(n.Params, &params)
		d.logger.Info("request cancelled",
			zap.Any("request_id", params.RequestId),
			zap.String("reason", params.Reason))
	case "notifications/initialized":
		d.logger.Debug("client initialized")
	default:
		d.logger.Debug("notification received", zap.String("method", n.Method))
	}
}

func (d *Dispatcher) initialize() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": jsonrpc.ProtocolVersion,
		"serverName":      serverName,
		"serverVersion":   serverVersion,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
			"logging":   map[string]interface{}{},
		},
	}
}

func (d *Dispatcher) callTool(ctx context.Context, params json.RawMessage) (interface{}, error) {
	call, err := parseToolCall(params)
	if err != nil {
		return nil, err
	}
	var payload interface{}
	switch actual := call.(type) {
	case *SearchCall:
		d.observe("search")
		payload = d.adapter.Search(ctx, actual.Query)
	case *FetchCall:
		d.observe("fetch")
		payload, err = d.adapter.Fetch(ctx, actual.ID)
		if err != nil {
			return nil, err
		}
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": string(text)}},
	}, nil
}

func (d *Dispatcher) observe(tool string) {
	if d.onToolCall != nil {
		d.onToolCall(tool)
	}
}
