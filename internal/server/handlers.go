package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ticketmcp/ticketmcp/internal/jsonrpc"
)

// handleRoot describes the service and its endpoints.
func (s *Server) handleRoot(c echo.Context) error {
	base := s.baseURL(c.Request())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":             "MCP Ticket Server",
		"version":          "1.0.0",
		"protocol_version": jsonrpc.ProtocolVersion,
		"transport":        s.cfg.TransportType,
		"endpoints": map[string]string{
			"mcp":      base + "/mcp",
			"sse":      base + "/sse",
			"messages": base + "/messages",
			"health":   base + "/health",
		},
	})
}

// handleHealth reports liveness plus session and connection counts.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"transport":          s.cfg.TransportType,
		"active_sessions":    s.sessions.Count(),
		"legacy_sessions":    s.legacySessions.Count(),
		"active_connections": s.streams.ActiveCount(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

// baseURL reconstructs the externally visible URL, honoring the headers a
// terminating proxy sets. PublicURL, when configured, wins.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return trimSlash(s.cfg.PublicURL)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}
	return scheme + "://" + host
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
