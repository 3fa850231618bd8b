package legacysse

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ticketmcp/ticketmcp/internal/auth"
	"github.com/ticketmcp/ticketmcp/internal/backend"
	"github.com/ticketmcp/ticketmcp/internal/dispatch"
	"github.com/ticketmcp/ticketmcp/internal/jsonrpc"
	"github.com/ticketmcp/ticketmcp/internal/session"
	"github.com/ticketmcp/ticketmcp/internal/stream"
	"github.com/ticketmcp/ticketmcp/internal/tickets"
)

const testToken = "legacy-test-token"

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tickets":[]}`))
	}))
	t.Cleanup(srv.Close)
	adapter := tickets.NewAdapter(backend.New(srv.URL, "", zap.NewNop()), zap.NewNop())
	provider, err := auth.New("api_key")
	require.NoError(t, err)
	h := New(
		session.NewManager(15*time.Minute),
		stream.NewManager(time.Minute, zap.NewNop()),
		dispatch.New(adapter, zap.NewNop()),
		provider,
		zap.NewNop(),
	)
	h.queueWait = 50 * time.Millisecond
	h.pingInterval = 20 * time.Millisecond
	return h
}

func newTransportServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", h.ServeSSE)
	mux.HandleFunc("/messages", h.ServeMessages)
	mux.HandleFunc("/message", h.ServeMessages)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openStream(t *testing.T, srv *httptest.Server) (*http.Response, *bufio.Reader, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	frame := readFrame(t, reader)
	require.Contains(t, frame, "event: endpoint\n")

	var endpoint string
	for _, line := range strings.Split(frame, "\n") {
		if rest, ok := strings.CutPrefix(line, "data: "); ok {
			endpoint = rest
		}
	}
	require.True(t, strings.HasPrefix(endpoint, "/messages?session_id="))
	return resp, reader, strings.TrimPrefix(endpoint, "/messages?session_id=")
}

func TestServeSSE_Unauthenticated(t *testing.T) {
	h := newTestHandler(t)
	r := httptest.NewRequest(http.MethodGet, "/sse", nil)
	w := httptest.NewRecorder()
	h.ServeSSE(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStandardMode_EndpointAndBridge(t *testing.T) {
	h := newTestHandler(t)
	srv := newTransportServer(t, h)

	resp, reader, sessionID := openStream(t, srv)
	defer resp.Body.Close()
	assert.True(t, session.ValidID(sessionID))

	ack, err := http.Post(
		srv.URL+"/messages?session_id="+sessionID+"&api_key="+testToken,
		"application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":5,"method":"tools/list","params":{}}`))
	require.NoError(t, err)
	defer ack.Body.Close()
	assert.Equal(t, http.StatusOK, ack.StatusCode)

	var frame string
	// The response arrives over the stream; skip any keep-alives in between.
	for i := 0; i < 5; i++ {
		frame = readFrame(t, reader)
		if strings.Contains(frame, "event: message\n") {
			break
		}
	}
	assert.Contains(t, frame, "event: message\n")
	assert.Contains(t, frame, `"id":5`)
	assert.Contains(t, frame, `"search"`)
}

func TestStandardMode_KeepAliveWhenIdle(t *testing.T) {
	h := newTestHandler(t)
	srv := newTransportServer(t, h)

	resp, reader, _ := openStream(t, srv)
	defer resp.Body.Close()

	frame := readFrame(t, reader)
	assert.Equal(t, ": keep-alive\n", frame)
}

func TestServeMessages_SessionChecks(t *testing.T) {
	h := newTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	h.ServeMessages(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing session_id")

	r = httptest.NewRequest(http.MethodPost, "/messages?session_id=unknown", strings.NewReader("{}"))
	w = httptest.NewRecorder()
	h.ServeMessages(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code, "unknown session")
}

func TestServeMessages_TokenMismatch(t *testing.T) {
	h := newTestHandler(t)
	sess, err := h.sessions.Create("user", testToken)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/messages?session_id="+sess.ID,
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	r.Header.Set("Authorization", "Bearer some-other-token")
	w := httptest.NewRecorder()
	h.ServeMessages(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServeMessages_DispatchAndEnqueue(t *testing.T) {
	h := newTestHandler(t)
	sess, err := h.sessions.Create("user", testToken)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/message?sessionId="+sess.ID,
		strings.NewReader(`{"jsonrpc":"2.0","id":5,"method":"ping"}`))
	r.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeMessages(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())

	message, ok := h.sessions.WaitNext(r.Context(), sess.ID, time.Second)
	require.True(t, ok)

	var queued jsonrpc.Response
	assert.NoError(t, json.Unmarshal(message, &queued))
	assert.EqualValues(t, 5, queued.Id)
	assert.Contains(t, string(queued.Result), "pong")
}

func TestServeMessages_Notification(t *testing.T) {
	h := newTestHandler(t)
	sess, err := h.sessions.Create("user", testToken)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/messages?session_id="+sess.ID,
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"r1"}}`))
	r.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeMessages(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	_, ok := h.sessions.WaitNext(r.Context(), sess.ID, 20*time.Millisecond)
	assert.False(t, ok, "notifications enqueue nothing")
}

func TestServeMessages_InvalidBody(t *testing.T) {
	h := newTestHandler(t)
	sess, err := h.sessions.Create("user", testToken)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/messages?session_id="+sess.ID,
		strings.NewReader(`{broken`))
	r.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeMessages(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLegacyMode_WelcomeAndPing(t *testing.T) {
	h := newTestHandler(t)
	srv := newTransportServer(t, h)

	resp, err := http.Get(srv.URL + "/sse?api_key=legacy-client-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	welcome := readFrame(t, reader)
	assert.Contains(t, welcome, "notifications/welcome")
	assert.Contains(t, welcome, "connection_id")

	ping := readFrame(t, reader)
	assert.Contains(t, ping, "notifications/ping")
	assert.Equal(t, 1, h.streams.ActiveCount())
}

func TestLegacyMode_BadKey(t *testing.T) {
	h := newTestHandler(t)
	r := httptest.NewRequest(http.MethodGet, "/sse?api_key=short", nil)
	w := httptest.NewRecorder()
	h.ServeSSE(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// readFrame reads one blank-line terminated SSE frame.
func readFrame(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	var b strings.Builder
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			return b.String()
		}
		b.WriteString(line)
	}
}
