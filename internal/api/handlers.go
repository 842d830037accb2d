package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/dispatch"
	"github.com/cubicler/cubicler/pkg/logging"
	"github.com/cubicler/cubicler/pkg/model"
)

// handleDispatch serves POST /dispatch and POST /dispatch/{agentId}.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req model.DispatchRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	agentID := chi.URLParam(r, "agentId")
	resp, err := s.dispatch.Dispatch(r.Context(), agentID, &req)
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, config.ErrUnknownAgent):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, config.ErrNoAgents):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("dispatch endpoint failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleAgents serves GET /agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.agents.AgentsConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "agents configuration unavailable")
		return
	}

	infos := make([]model.AgentInfo, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		infos = append(infos, model.AgentInfo{
			Identifier:  a.Identifier,
			Name:        a.Name,
			Description: a.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(infos),
		"agents": infos,
	})
}

type subsystemHealth struct {
	Status string `json:"status"`
	Total  int    `json:"total,omitempty"`
	Ready  int    `json:"ready,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleHealth serves GET /health: 200 when both configuration documents
// resolve, 503 otherwise. MCP readiness is informational; a broker with no
// handshaken backends can still dispatch.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	healthy := true

	agentsHealth := subsystemHealth{Status: "up"}
	if cfg, err := s.agents.AgentsConfig(ctx); err != nil {
		healthy = false
		agentsHealth = subsystemHealth{Status: "down", Error: err.Error()}
	} else {
		agentsHealth.Total = len(cfg.Agents)
	}

	providersHealth := subsystemHealth{Status: "up"}
	if metas, err := s.servers.Servers(ctx); err != nil {
		healthy = false
		providersHealth = subsystemHealth{Status: "down", Error: err.Error()}
	} else {
		providersHealth.Total = len(metas)
		if s.mcp != nil {
			providersHealth.Ready = s.mcp.ReadyCount()
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": model.Now(),
		"agents":    agentsHealth,
		"providers": providersHealth,
	})
}

// handleLogs serves GET /logs?n=100: recent in-memory log entries for quick
// diagnosis without shell access.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			n = parsed
		}
	}

	var entries []logging.BufferedEntry
	if s.logs != nil {
		entries = s.logs.GetRecent(n)
	}
	if entries == nil {
		entries = []logging.BufferedEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(entries),
		"entries": entries,
	})
}

// handleWebhook serves POST /webhook/{identifier}/{agentId}. The raw JSON
// payload becomes a single text message from the webhook's identity and is
// dispatched to the named agent.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	agentID := chi.URLParam(r, "agentId")

	hook, err := s.webhooks.WebhookByIdentifier(r.Context(), identifier)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown webhook")
		return
	}

	if len(hook.AllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if !slices.Contains(hook.AllowedOrigins, origin) {
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
	}
	if hook.SignatureHeader != "" {
		got := r.Header.Get(hook.SignatureHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(hook.Secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}
	if len(hook.AllowedAgents) > 0 && !slices.Contains(hook.AllowedAgents, agentID) {
		writeError(w, http.StatusForbidden, "agent not allowed for this webhook")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading payload: "+err.Error())
		return
	}
	if !json.Valid(raw) {
		writeError(w, http.StatusBadRequest, "payload is not valid JSON")
		return
	}

	req := &model.DispatchRequest{Messages: []model.Message{{
		Sender:    model.Sender{ID: hook.Identifier, Name: hook.Name},
		Timestamp: model.Now(),
		Type:      model.MessageTypeText,
		Content:   model.StringPtr(string(raw)),
	}}}

	resp, err := s.dispatch.Dispatch(r.Context(), agentID, req)
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
