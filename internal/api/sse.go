package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/model"
)

// handleAgentStream serves GET /sse/{agentId}: the long-lived channel an
// SSE-transport agent listens on. Dispatches arrive as agent_request events;
// the agent answers by POSTing to /sse/{agentId}/response.
func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	agentCfg, err := s.agents.AgentByIdentifier(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	if agentCfg.Transport != config.TransportSSE {
		writeError(w, http.StatusConflict, "agent is not configured for sse transport")
		return
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.RegisterAgentConnection(agentID, stream)
	defer s.hub.Disconnect(agentID)

	s.logger.Info("sse agent connected", "agent", agentID)
	s.keepaliveLoop(r, stream)
	s.logger.Info("sse agent disconnected", "agent", agentID)
}

// agentResponseBody is the POST /sse/{agentId}/response payload.
type agentResponseBody struct {
	RequestID string              `json:"requestId"`
	Response  model.AgentResponse `json:"response"`
}

// handleAgentResponse resolves a dispatch parked on the hub.
func (s *Server) handleAgentResponse(w http.ResponseWriter, r *http.Request) {
	var body agentResponseBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.RequestID == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	if err := s.hub.HandleAgentResponse(body.RequestID, &body.Response); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
