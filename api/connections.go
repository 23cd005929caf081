package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/auth"
	"github.com/PipeOpsHQ/rube/connections"
	"github.com/PipeOpsHQ/rube/platform"
)

func (s *Server) handleToolkits(w http.ResponseWriter, r *http.Request) {
	page, err := s.cfg.Toolkits.ListToolkits(r.Context())
	if err != nil {
		s.logger.Warn("toolkit listing failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to fetch toolkits")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type createAuthConfigRequest struct {
	ToolkitSlug  string `json:"toolkitSlug"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func (s *Server) handleCreateAuthConfig(w http.ResponseWriter, r *http.Request, _ auth.User) {
	var req createAuthConfigRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	id, err := s.cfg.AuthConfigs.Ensure(r.Context(), req.ToolkitSlug, nil)
	if err != nil {
		s.writeFailure(w, "Failed to create auth config", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authConfigId": id,
		"toolkit":      strings.TrimSpace(req.ToolkitSlug),
	})
}

func (s *Server) handleCreateAuthConfigWithCredentials(w http.ResponseWriter, r *http.Request, _ auth.User) {
	var req createAuthConfigRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.ToolkitSlug) == "" || strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.ClientSecret) == "" {
		writeMessage(w, http.StatusBadRequest, "toolkitSlug, clientId and clientSecret are required")
		return
	}
	id, err := s.cfg.AuthConfigs.Ensure(r.Context(), req.ToolkitSlug, &connections.Credentials{
		ClientID:     strings.TrimSpace(req.ClientID),
		ClientSecret: strings.TrimSpace(req.ClientSecret),
	})
	if err != nil {
		s.writeFailure(w, "Failed to create auth config", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"authConfigId": id,
		"toolkit":      strings.TrimSpace(req.ToolkitSlug),
		"message":      "OAuth credentials saved successfully",
	})
}

type ensureAuthConfigRequest struct {
	ApplicationSlug string                   `json:"applicationSlug"`
	Credentials     *connections.Credentials `json:"credentials,omitempty"`
}

func (s *Server) handleEnsureAuthConfig(w http.ResponseWriter, r *http.Request, _ auth.User) {
	var req ensureAuthConfigRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	creds := req.Credentials
	if creds != nil && strings.TrimSpace(creds.ClientID) == "" && strings.TrimSpace(creds.ClientSecret) == "" {
		creds = nil
	}
	id, err := s.cfg.AuthConfigs.Ensure(r.Context(), req.ApplicationSlug, creds)
	if err != nil {
		s.writeFailure(w, "Failed to get or create auth config", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authConfigId": id})
}

type initiateResponse struct {
	Success bool `json:"success"`
	connections.Initiation
}

// handleInitiateConnection connects the signed-in user, identified on the
// platform by email, to an app.
func (s *Server) handleInitiateConnection(w http.ResponseWriter, r *http.Request, user auth.User) {
	var req struct {
		AppSlug string `json:"appSlug"`
	}
	if err := decodeJSON(r, w, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	started, err := s.cfg.Controller.Initiate(r.Context(), req.AppSlug, user.Email)
	if err != nil {
		s.writeFailure(w, "Failed to initiate connection", err)
		return
	}
	writeJSON(w, http.StatusOK, initiateResponse{Success: true, Initiation: started})
}

type waitResponse struct {
	Success    bool                      `json:"success"`
	Status     platform.ConnectionStatus `json:"status"`
	Connection *connections.Account      `json:"connection,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Message    string                    `json:"message,omitempty"`
}

func (s *Server) handleWaitConnection(w http.ResponseWriter, r *http.Request, user auth.User) {
	var req struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := decodeJSON(r, w, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	res, err := s.cfg.Controller.WaitForActive(r.Context(), req.ConnectionID, connections.WaitOptions{Identity: user.Email})
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Debug("connection wait abandoned by client", zap.String("connectionId", req.ConnectionID))
			return
		}
		s.writeFailure(w, "Failed to wait for connection", err)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveConnectionWait(res.Status)
	}

	out := waitResponse{Status: res.Status}
	switch res.Status {
	case platform.StatusActive:
		out.Success = true
		out.Connection = &connections.Account{ID: req.ConnectionID, Status: res.Status}
		if res.Account != nil {
			out.Connection.ID = res.Account.ID
			out.Connection.AppName = res.Account.ToolkitSlug()
		}
	case connections.StatusTimeout:
		out.Error = "Connection did not become ACTIVE within timeout period"
		out.Message = "The connection may still complete. Please refresh to check the status."
	default:
		out.Error = "Connection failed or expired"
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request, user auth.User) {
	accounts, err := s.cfg.Registry.List(r.Context(), user.Email)
	if err != nil {
		s.writeFailure(w, "Failed to fetch connection status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectedAccounts": accounts})
}

func (s *Server) handleLinkConnection(w http.ResponseWriter, r *http.Request, user auth.User) {
	var req struct {
		AuthConfigID string `json:"authConfigId"`
		ToolkitSlug  string `json:"toolkitSlug"`
	}
	if err := decodeJSON(r, w, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	s.logger.Info("creating auth link", zap.String("toolkit", req.ToolkitSlug), zap.String("userId", user.ID))
	link, err := s.cfg.Controller.Link(r.Context(), user.Email, req.AuthConfigID, s.cfg.AppURL+"/apps")
	if err != nil {
		s.writeFailure(w, "Failed to create auth link", err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request, user auth.User) {
	var req struct {
		AccountID string `json:"accountId"`
	}
	if err := decodeJSON(r, w, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := s.cfg.Registry.Delete(r.Context(), user.Email, req.AccountID); err != nil {
		s.writeFailure(w, "Failed to disconnect account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
