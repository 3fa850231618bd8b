// Package streamable implements the single-endpoint MCP Streamable HTTP
// transport.
package streamable

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ticketmcp/ticketmcp/internal/auth"
	"github.com/ticketmcp/ticketmcp/internal/dispatch"
	"github.com/ticketmcp/ticketmcp/internal/jsonrpc"
	"github.com/ticketmcp/ticketmcp/internal/session"
	"github.com/ticketmcp/ticketmcp/internal/sse"
	"github.com/ticketmcp/ticketmcp/internal/stream"
)

const (
	// SessionHeader carries the session id on every exchange.
	SessionHeader = "Mcp-Session-Id"

	// Path is where the transport is mounted; it is also advertised in the
	// endpoint event.
	Path = "/mcp"

	maxBodySize = 4 << 20
)

// Handler serves GET, POST and OPTIONS on the /mcp endpoint.
type Handler struct {
	sessions   *session.Manager
	streams    *stream.Manager
	dispatcher *dispatch.Dispatcher
	provider   auth.Provider
	logger     *zap.Logger

	// pingInterval is shortened by tests.
	pingInterval time.Duration
}

// New creates a Handler.
func New(sessions *session.Manager, streams *stream.Manager, dispatcher *dispatch.Dispatcher, provider auth.Provider, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:     sessions,
		streams:      streams,
		dispatcher:   dispatcher,
		provider:     provider,
		logger:       logger,
		pingInterval: 30 * time.Second,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, nil, jsonrpc.TransportError,
			"Method not allowed: "+r.Method)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream") {
		writeError(w, http.StatusBadRequest, nil, jsonrpc.InvalidRequest,
			"Not Acceptable: client must accept both application/json and text/event-stream")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, jsonrpc.ParseError, "Parse error")
		return
	}
	if isBatch(body) {
		writeError(w, http.StatusBadRequest, nil, jsonrpc.InvalidRequest,
			"Batch requests are not supported")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, nil, jsonrpc.ParseError, "Parse error")
		return
	}

	switch jsonrpc.Classify(body) {
	case jsonrpc.KindRequest:
		req := &jsonrpc.Request{}
		if err := json.Unmarshal(body, req); err != nil {
			writeError(w, http.StatusBadRequest, jsonrpc.RequestID(body), jsonrpc.InvalidRequest, "Invalid Request")
			return
		}
		if req.Method == "initialize" {
			h.handleInitialize(w, r, req)
			return
		}
		h.handleRequest(w, r, req)
	case jsonrpc.KindNotification:
		h.handleNotification(w, r, body)
	case jsonrpc.KindResponse:
		h.handleResponse(w, r, body)
	default:
		writeError(w, http.StatusBadRequest, jsonrpc.RequestID(body), jsonrpc.InvalidRequest, "Invalid Request")
	}
}

// handleInitialize mints the session. The Authorization header is
// snapshotted so the legacy message endpoint can match it later.
func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request) {
	userID := "anonymous"
	if credential := auth.ExtractCredentials(r); credential != "" {
		if user, err := h.provider.Authenticate(r.Context(), credential); err == nil {
			userID = user.ID
		}
	}
	sess, err := h.sessions.Create(userID, r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.Id, jsonrpc.InternalError, "Failed to create session")
		return
	}
	h.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID))

	resp := h.dispatcher.Dispatch(r.Context(), req)
	writeResponse(w, http.StatusOK, sess.ID, resp)
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request) {
	sessionID, ok := h.requireSession(w, r, req.Id)
	if !ok {
		return
	}
	resp := h.dispatcher.Dispatch(r.Context(), req)
	h.sessions.UpdateActivity(sessionID)
	writeResponse(w, http.StatusOK, sessionID, resp)
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request, body []byte) {
	sessionID, ok := h.requireSession(w, r, nil)
	if !ok {
		return
	}
	notification := &jsonrpc.Notification{}
	if err := json.Unmarshal(body, notification); err != nil {
		writeError(w, http.StatusBadRequest, nil, jsonrpc.InvalidRequest, "Invalid Request")
		return
	}
	h.dispatcher.HandleNotification(r.Context(), notification)
	h.sessions.UpdateActivity(sessionID)
	w.Header().Set(SessionHeader, sessionID)
	w.WriteHeader(http.StatusAccepted)
}

// handleResponse accepts client-direction responses; the gateway issues no
// server-to-client requests yet, so they are only acknowledged.
func (h *Handler) handleResponse(w http.ResponseWriter, r *http.Request, body []byte) {
	sessionID, ok := h.requireSession(w, r, nil)
	if !ok {
		return
	}
	h.logger.Debug("client response accepted",
		zap.String("session_id", sessionID),
		zap.Any("request_id", jsonrpc.RequestID(body)))
	h.sessions.UpdateActivity(sessionID)
	w.Header().Set(SessionHeader, sessionID)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeError(w, http.StatusMethodNotAllowed, nil, jsonrpc.TransportError,
			"Method not allowed: GET requires Accept: text/event-stream")
		return
	}
	sessionID, ok := h.requireSession(w, r, nil)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionHeader, sessionID)
	w.WriteHeader(http.StatusOK)

	conn := h.streams.Connect(clientIP(r), auth.ExtractCredentials(r))
	defer h.streams.Disconnect(conn.ID)
	h.runStream(r.Context(), w, sessionID, conn.ID)
}

// runStream emits the endpoint event, then pings every interval until the
// session expires, the stream budget lapses or the client goes away.
func (h *Handler) runStream(ctx context.Context, w http.ResponseWriter, sessionID, connectionID string) {
	writer := sse.NewFlushWriter(w)
	endpoint := sse.NewEvent("endpoint", map[string]interface{}{
		"jsonrpc": jsonrpc.Version,
		"method":  "notifications/endpoint",
		"params":  map[string]interface{}{"endpoint": Path},
	})
	if err := writer.WriteEvent(endpoint); err != nil {
		h.logger.Warn("failed to write endpoint event", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("stream cancelled",
				zap.String("session_id", sessionID),
				zap.String("connection_id", connectionID))
			return
		case <-ticker.C:
			if !h.sessions.Validate(sessionID) {
				h.logger.Info("stream closing: session expired",
					zap.String("session_id", sessionID))
				return
			}
			if !h.streams.Ping(connectionID) {
				h.logger.Info("stream closing: max age reached",
					zap.String("connection_id", connectionID))
				return
			}
			ping := sse.NewEvent("message", map[string]interface{}{
				"type":      "ping",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			if err := writer.WriteEvent(ping); err != nil {
				return
			}
		}
	}
}

// requireSession validates the session header; it writes the error response
// itself when the header is missing, malformed or unknown.
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request, id jsonrpc.RequestId) (string, bool) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, id, jsonrpc.TransportError, "Missing session ID")
		return "", false
	}
	if !session.ValidID(sessionID) {
		writeError(w, http.StatusBadRequest, id, jsonrpc.TransportError, "Invalid session ID")
		return "", false
	}
	if !h.sessions.Validate(sessionID) {
		writeError(w, http.StatusNotFound, id, jsonrpc.TransportError, "Session not found or expired")
		return "", false
	}
	return sessionID, true
}

// isBatch reports whether the body is a JSON array.
func isBatch(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeResponse(w http.ResponseWriter, status int, sessionID string, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, id jsonrpc.RequestId, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, message, nil))
}
