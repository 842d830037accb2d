// Package api is the HTTP surface of the broker: dispatch endpoints, the
// MCP endpoint (request/response and SSE client mode), agent SSE channels,
// webhook ingress, and health.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cubicler/cubicler/pkg/agent"
	"github.com/cubicler/cubicler/pkg/auth"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/dispatch"
	"github.com/cubicler/cubicler/pkg/logging"
	"github.com/cubicler/cubicler/pkg/provider"
)

// DefaultKeepalive is the comment-ping interval on SSE streams.
const DefaultKeepalive = 15 * time.Second

const maxBodyBytes = 4 << 20

// McpReadiness reports how many MCP backends completed their handshake.
type McpReadiness interface {
	ReadyCount() int
}

// Options configures the server.
type Options struct {
	Dispatch  *dispatch.Service
	Tools     *provider.Dispatcher
	Hub       *agent.Hub
	Agents    *config.AgentsRepository
	Servers   *provider.Repository
	Webhooks  *config.WebhooksRepository
	Mcp       McpReadiness
	Verifier  *auth.Verifier
	Keepalive time.Duration
	Logger    *slog.Logger
	Logs      *logging.LogBuffer
}

// Server holds the handler dependencies.
type Server struct {
	dispatch  *dispatch.Service
	tools     *provider.Dispatcher
	hub       *agent.Hub
	agents    *config.AgentsRepository
	servers   *provider.Repository
	webhooks  *config.WebhooksRepository
	mcp       McpReadiness
	verifier  *auth.Verifier
	keepalive time.Duration
	logger    *slog.Logger
	logs      *logging.LogBuffer

	mcpMu      sync.Mutex
	mcpStreams map[string]*sseStream
}

// NewServer creates the HTTP server surface.
func NewServer(opts Options) *Server {
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		dispatch:   opts.Dispatch,
		tools:      opts.Tools,
		hub:        opts.Hub,
		agents:     opts.Agents,
		servers:    opts.Servers,
		webhooks:   opts.Webhooks,
		mcp:        opts.Mcp,
		verifier:   opts.Verifier,
		keepalive:  opts.Keepalive,
		logger:     opts.Logger,
		logs:       opts.Logs,
		mcpStreams: make(map[string]*sseStream),
	}
}

// Handler builds the router. JWT auth covers every endpoint except /health,
// the MCP SSE stream (which authenticates via its token query parameter)
// and webhook ingress (which authenticates per webhook config).
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)
	r.Get("/mcp/sse", s.handleMcpStream)
	r.Post("/webhook/{identifier}/{agentId}", s.handleWebhook)

	r.Group(func(g chi.Router) {
		g.Use(func(next http.Handler) http.Handler {
			return auth.Middleware(s.verifier, next)
		})
		g.Post("/dispatch", s.handleDispatch)
		g.Post("/dispatch/{agentId}", s.handleDispatch)
		g.Post("/mcp", s.handleMcp)
		g.Get("/agents", s.handleAgents)
		g.Get("/logs", s.handleLogs)
		g.Get("/sse/{agentId}", s.handleAgentStream)
		g.Post("/sse/{agentId}/response", s.handleAgentResponse)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
