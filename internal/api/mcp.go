package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cubicler/cubicler/pkg/auth"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

const mcpClientIDHeader = "x-mcp-client-id"

// handleMcp serves POST /mcp. When the request carries an x-mcp-client-id
// header and that client holds an open SSE stream, the response is delivered
// on the stream as an mcp-response event and the POST is acknowledged with
// 202. Otherwise the response body is the JSON-RPC response.
func (s *Server) handleMcp(w http.ResponseWriter, r *http.Request) {
	var req jsonrpc.Request
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError, "malformed JSON-RPC request"))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}

	resp := s.tools.HandleRequest(r.Context(), &req)

	if clientID := r.Header.Get(mcpClientIDHeader); clientID != "" {
		s.mcpMu.Lock()
		stream := s.mcpStreams[clientID]
		s.mcpMu.Unlock()
		if stream != nil {
			data, _ := json.Marshal(resp)
			eventID := ""
			if req.ID != nil {
				eventID = jsonrpc.IDKey(req.ID)
			}
			if err := stream.Send(eventID, "mcp-response", data); err == nil {
				writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
				return
			}
			// Stream write failed; fall back to the POST response.
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMcpStream serves GET /mcp/sse?clientId=X[&token=Y]. The stream
// carries mcp-response events for POSTs tagged with the same client id.
// Auth uses the token query parameter because EventSource clients cannot
// set headers.
func (s *Server) handleMcpStream(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId query parameter is required")
		return
	}

	if s.verifier != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			writeError(w, http.StatusUnauthorized, auth.CodeMissingToken)
			return
		}
		if _, authErr := s.verifier.Verify(token); authErr != nil {
			writeError(w, http.StatusUnauthorized, authErr.Code)
			return
		}
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mcpMu.Lock()
	s.mcpStreams[clientID] = stream
	s.mcpMu.Unlock()
	defer func() {
		s.mcpMu.Lock()
		if s.mcpStreams[clientID] == stream {
			delete(s.mcpStreams, clientID)
		}
		s.mcpMu.Unlock()
	}()

	s.logger.Info("mcp sse client connected", "client", clientID)
	s.keepaliveLoop(r, stream)
	s.logger.Info("mcp sse client disconnected", "client", clientID)
}

// keepaliveLoop pings the stream until the client goes away.
func (s *Server) keepaliveLoop(r *http.Request, stream *sseStream) {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := stream.SendComment("keepalive"); err != nil {
				return
			}
		}
	}
}
