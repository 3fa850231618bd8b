package jsonrpc

// Version is the JSON-RPC protocol version.
const Version = "2.0"

const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// TransportError covers session and transport level failures
	// (missing/expired session, wrong method for an endpoint, bad origin).
	TransportError = -32000
)

// ProtocolVersion is the MCP protocol revision advertised by initialize.
const ProtocolVersion = "2025-03-26"
