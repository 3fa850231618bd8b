package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// The OAuth endpoints below are development shims for clients whose MCP
// integration insists on an OAuth handshake. Tokens issued here are the
// configured gateway API key; this is not a real authorization server.

// handleOAuthDiscovery serves RFC 8414 metadata pointing at the shims.
func (s *Server) handleOAuthDiscovery(c echo.Context) error {
	base := s.baseURL(c.Request())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"issuer":                                base,
		"authorization_endpoint":                base + "/oauth/authorize",
		"token_endpoint":                        base + "/oauth/token",
		"registration_endpoint":                 base + "/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none"},
	})
}

// handleProtectedResource serves RFC 9728 metadata for the MCP endpoint.
func (s *Server) handleProtectedResource(c echo.Context) error {
	base := s.baseURL(c.Request())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resource":                 base + "/mcp",
		"authorization_servers":    []string{base},
		"bearer_methods_supported": []string{"header"},
	})
}

// handleRegister accepts any dynamic client registration.
func (s *Server) handleRegister(c echo.Context) error {
	var body map[string]interface{}
	if err := c.Bind(&body); err != nil {
		body = map[string]interface{}{}
	}
	response := map[string]interface{}{
		"client_id":                  uuid.New().String(),
		"client_id_issued_at":        time.Now().Unix(),
		"token_endpoint_auth_method": "none",
	}
	if uris, ok := body["redirect_uris"]; ok {
		response["redirect_uris"] = uris
	}
	s.logger.Info("client registered", zap.Any("client_id", response["client_id"]))
	return c.JSON(http.StatusCreated, response)
}

// handleAuthorize redirects straight back with a generated code; there is no
// consent step.
func (s *Server) handleAuthorize(c echo.Context) error {
	redirect := c.QueryParam("redirect_uri")
	if redirect == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "redirect_uri is required"})
	}
	target, err := url.Parse(redirect)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid redirect_uri"})
	}
	query := target.Query()
	query.Set("code", uuid.New().String())
	if state := c.QueryParam("state"); state != "" {
		query.Set("state", state)
	}
	target.RawQuery = query.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

// handleToken exchanges any code for the configured gateway key.
func (s *Server) handleToken(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"access_token": s.cfg.MCPAPIKey,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}
