// Package legacysse implements the pre-streamable SSE transport: a GET
// stream paired with a POST message endpoint bridged by per-session queues.
package legacysse

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticketmcp/ticketmcp/internal/auth"
	"github.com/ticketmcp/ticketmcp/internal/dispatch"
	"github.com/ticketmcp/ticketmcp/internal/jsonrpc"
	"github.com/ticketmcp/ticketmcp/internal/session"
	"github.com/ticketmcp/ticketmcp/internal/sse"
	"github.com/ticketmcp/ticketmcp/internal/stream"
)

const maxBodySize = 4 << 20

// Handler serves GET /sse and POST /messages (alias /message).
type Handler struct {
	sessions   *session.Manager
	streams    *stream.Manager
	dispatcher *dispatch.Dispatcher
	provider   auth.Provider
	logger     *zap.Logger

	// queueWait and pingInterval are shortened by tests.
	queueWait    time.Duration
	pingInterval time.Duration
}

// New creates a Handler. The session manager should be the legacy one with
// the shorter inactivity limit.
func New(sessions *session.Manager, streams *stream.Manager, dispatcher *dispatch.Dispatcher, provider auth.Provider, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:     sessions,
		streams:      streams,
		dispatcher:   dispatcher,
		provider:     provider,
		logger:       logger,
		queueWait:    30 * time.Second,
		pingInterval: 30 * time.Second,
	}
}

// ServeSSE handles GET /sse. A Bearer token selects the standard
// session-backed mode; an api_key query parameter falls back to the
// pre-session welcome/ping loop.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if token, ok := bearerToken(r); ok {
		h.serveStandard(w, r, token)
		return
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		h.serveLegacy(w, r, key)
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
}

func (h *Handler) serveStandard(w http.ResponseWriter, r *http.Request, token string) {
	user, err := h.provider.Authenticate(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	sess, err := h.sessions.Create(user.ID, token)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		return
	}
	h.logger.Info("sse session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", user.ID))

	writeStreamHeaders(w)
	writer := sse.NewFlushWriter(w)
	endpoint := sse.Raw(uuid.New().String(), "endpoint",
		[]byte("/messages?session_id="+sess.ID))
	if _, err := writer.Write(endpoint); err != nil {
		return
	}
	h.drainQueue(r.Context(), writer, sess.ID)
}

// drainQueue delivers queued responses as message frames, emitting a
// keep-alive comment whenever a wait times out.
func (h *Handler) drainQueue(ctx context.Context, writer *sse.FlushWriter, sessionID string) {
	for {
		if ctx.Err() != nil {
			h.logger.Info("sse stream cancelled", zap.String("session_id", sessionID))
			return
		}
		if !h.sessions.Validate(sessionID) {
			h.logger.Info("sse stream closing: session expired", zap.String("session_id", sessionID))
			return
		}
		message, ok := h.sessions.WaitNext(ctx, sessionID, h.queueWait)
		if !ok {
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}
			continue
		}
		if _, err := writer.Write(sse.Raw(uuid.New().String(), "message", message)); err != nil {
			return
		}
		h.sessions.UpdateActivity(sessionID)
	}
}

// serveLegacy runs the pre-session welcome/ping loop over the connection
// manager.
func (h *Handler) serveLegacy(w http.ResponseWriter, r *http.Request, key string) {
	if _, err := h.provider.Authenticate(r.Context(), key); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	conn := h.streams.Connect(clientIP(r), key)
	defer h.streams.Disconnect(conn.ID)

	writeStreamHeaders(w)
	writer := sse.NewFlushWriter(w)
	welcome := sse.NewEvent("message", map[string]interface{}{
		"type":          "welcome",
		"connection_id": conn.ID,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
	if err := writer.WriteEvent(welcome); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("legacy stream cancelled", zap.String("connection_id", conn.ID))
			return
		case <-ticker.C:
			if !h.streams.Ping(conn.ID) {
				h.logger.Info("legacy stream closing: max age reached",
					zap.String("connection_id", conn.ID))
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

// ServeMessages handles POST /messages?session_id= and its singular alias
// /message?sessionId=. The response is enqueued for the SSE stream; the POST
// itself only acknowledges acceptance.
func (h *Handler) ServeMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	// Validate before Get: Get refreshes activity, which must not revive
	// an already expired session.
	if !h.sessions.Validate(sessionID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found or expired"})
		return
	}
	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found or expired"})
		return
	}
	credential := auth.ExtractCredentials(r)
	if credential == "" || credential != sess.AuthToken {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "credentials do not match session"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	switch jsonrpc.Classify(body) {
	case jsonrpc.KindRequest:
		req := &jsonrpc.Request{}
		if err := json.Unmarshal(body, req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON-RPC request"})
			return
		}
		resp := h.dispatcher.Dispatch(r.Context(), req)
		encoded, err := json.Marshal(resp)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to encode response"})
			return
		}
		if err := h.sessions.Enqueue(sessionID, encoded); err != nil {
			h.logger.Warn("failed to enqueue response",
				zap.String("session_id", sessionID), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session queue full"})
			return
		}
	case jsonrpc.KindNotification:
		notification := &jsonrpc.Notification{}
		if err := json.Unmarshal(body, notification); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON-RPC notification"})
			return
		}
		h.dispatcher.HandleNotification(r.Context(), notification)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON-RPC message"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func writeStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
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
