package tickets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ticketmcp/ticketmcp/internal/backend"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAdapter(backend.New(srv.URL, "", zap.NewNop()), zap.NewNop())
}

func TestAdapter_Search(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "printer", r.URL.Query().Get("search"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"tickets":[
			{"id":1,"title":"Printer down","description":"No toner","status_name":"open","category_name":"hardware","account_name":"acme"},
			{"id":2,"title":"Just a title"}
		]}`))
	})

	result := adapter.Search(context.Background(), "printer")
	assert.Len(t, result.Results, 2)
	assert.Equal(t, "1", result.Results[0].ID)
	assert.Equal(t, "No toner | Status: open | Category: hardware | Account: acme", result.Results[0].Text)
	assert.Nil(t, result.Results[0].URL)
	assert.Equal(t, "Just a title", result.Results[1].Text, "falls back to the title")
}

func TestAdapter_SearchBackendFailure(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	result := adapter.Search(context.Background(), "anything")
	assert.NotNil(t, result.Results)
	assert.Empty(t, result.Results)
}

func TestAdapter_Fetch(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tickets/7":
			_, _ = w.Write([]byte(`{"id":7,"title":"Printer down","description":"No toner",
				"status_name":"open","priority":2,"created_at":"2025-01-01T00:00:00Z"}`))
		case "/tickets/7/history":
			_, _ = w.Write([]byte(`[
				{"created_at":"2025-01-02T03:04:05Z","content":"escalated","user_name":"ops"},
				{"created_at":"2025-01-03T09:00:00Z","content":"toner ordered","user_name":"alice"}
			]`))
		default:
			http.NotFound(w, r)
		}
	})

	result, err := adapter.Fetch(context.Background(), "7")
	assert.NoError(t, err)
	assert.Equal(t, "7", result.ID)
	assert.Equal(t, "Printer down", result.Title)
	assert.Equal(t, "Description: No toner\n\nHistory:\n- 2025-01-02T03:04:05Z: escalated (by ops)\n- 2025-01-03T09:00:00Z: toner ordered (by alice)", result.Text)
	assert.Equal(t, map[string]string{
		"status_name": "open",
		"priority":    "2",
		"created_at":  "2025-01-01T00:00:00Z",
	}, result.Metadata)
}

func TestAdapter_FetchNoDescription(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tickets/8":
			_, _ = w.Write([]byte(`{"id":8,"title":"Empty"}`))
		case "/tickets/8/history":
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	})

	result, err := adapter.Fetch(context.Background(), "8")
	assert.NoError(t, err)
	assert.Equal(t, "No description available", result.Text)
	assert.Nil(t, result.Metadata)
}

func TestAdapter_FetchHistoryFailure(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tickets/T1":
			_, _ = w.Write([]byte(`{"id":"T1","title":"Printer down","description":"No toner"}`))
		case "/tickets/T1/history":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})

	result, err := adapter.Fetch(context.Background(), "T1")
	assert.NoError(t, err, "a failing history endpoint degrades to an empty history")
	assert.Equal(t, "T1", result.ID)
	assert.Equal(t, "Description: No toner", result.Text)
}

func TestAdapter_FetchFailure(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := adapter.Fetch(context.Background(), "99")
	assert.EqualError(t, err, "Failed to fetch ticket: 99")
}
