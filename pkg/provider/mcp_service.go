package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/model"
	"github.com/cubicler/cubicler/pkg/naming"
)

// McpService multiplexes the configured MCP backends behind one tool
// surface. It owns one transport per server for the process lifetime.
type McpService struct {
	repo   *Repository
	opts   TransportOptions
	logger *slog.Logger

	// newTransport is a seam for tests; defaults to NewTransport.
	newTransport func(config.McpServerConfig, TransportOptions) (Transport, error)

	requestID atomic.Int64

	mu         sync.Mutex
	transports map[string]Transport
	ready      map[string]bool
	// nameIndex maps snake function names back to the spelling the backend
	// declared, per server. Populated by tools/list.
	nameIndex map[string]map[string]string
}

// NewMcpService creates the service. Call Start to connect eagerly, or let
// tool calls connect lazily.
func NewMcpService(repo *Repository, opts TransportOptions) *McpService {
	opts.fill()
	return &McpService{
		repo:         repo,
		opts:         opts,
		logger:       opts.Logger,
		newTransport: NewTransport,
		transports:   make(map[string]Transport),
		ready:        make(map[string]bool),
		nameIndex:    make(map[string]map[string]string),
	}
}

// Start connects and handshakes every configured MCP server. A failing
// server is logged and skipped; it does not abort startup.
func (s *McpService) Start(ctx context.Context) error {
	servers, err := s.repo.Servers(ctx)
	if err != nil {
		return err
	}
	for _, meta := range servers {
		if meta.Kind != KindMCP {
			continue
		}
		if _, err := s.ensureReady(ctx, meta.Identifier); err != nil {
			s.logger.Warn("mcp server unavailable", "server", meta.Identifier, "error", err)
		}
	}
	return nil
}

// ReadyCount reports how many MCP transports completed the handshake.
func (s *McpService) ReadyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ok := range s.ready {
		if ok {
			n++
		}
	}
	return n
}

// ensureReady returns a handshaken transport for the server, creating and
// initializing one if needed.
func (s *McpService) ensureReady(ctx context.Context, identifier string) (Transport, error) {
	s.mu.Lock()
	tr, exists := s.transports[identifier]
	isReady := s.ready[identifier]
	s.mu.Unlock()

	if exists && isReady && tr.IsConnected() {
		return tr, nil
	}

	cfg, err := s.repo.McpConfig(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if !exists || !tr.IsConnected() {
		if exists {
			_ = tr.Close()
		}
		tr, err = s.newTransport(cfg, s.opts)
		if err != nil {
			return nil, err
		}
		if err := tr.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", identifier, err)
		}
		s.mu.Lock()
		s.transports[identifier] = tr
		s.ready[identifier] = false
		s.mu.Unlock()
	}

	if err := s.handshake(ctx, tr); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", identifier, err)
	}

	s.mu.Lock()
	s.ready[identifier] = true
	s.mu.Unlock()
	return tr, nil
}

// handshake sends the MCP initialize request.
func (s *McpService) handshake(ctx context.Context, tr Transport) error {
	req, err := jsonrpc.NewRequest(s.requestID.Add(1), "initialize", InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      ClientInfo{Name: "cubicler", Version: "1.0.0"},
		Capabilities:    Capabilities{Tools: &ToolsCapability{}},
	})
	if err != nil {
		return err
	}
	resp, err := tr.SendRequest(ctx, req)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// ListAllTools aggregates tools/list across every MCP server, prefixing tool
// names with the owning server's hash token. Per-server failures are logged
// and skipped.
func (s *McpService) ListAllTools(ctx context.Context) ([]model.ToolDefinition, error) {
	servers, err := s.repo.Servers(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]model.ToolDefinition, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, meta := range servers {
		if meta.Kind != KindMCP {
			continue
		}
		g.Go(func() error {
			tools, err := s.ServerTools(gctx, meta.Identifier)
			if err != nil {
				s.logger.Warn("skipping mcp server in tools/list", "server", meta.Identifier, "error", err)
				return nil
			}
			results[i] = tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.ToolDefinition
	for _, tools := range results {
		all = append(all, tools...)
	}
	return all, nil
}

// ServerTools lists one MCP server's tools in agent-visible form and
// refreshes the repository's tool count and the name index.
func (s *McpService) ServerTools(ctx context.Context, identifier string) ([]model.ToolDefinition, error) {
	meta, err := s.repo.ServerByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	tr, err := s.ensureReady(ctx, identifier)
	if err != nil {
		return nil, err
	}

	req, err := jsonrpc.NewRequest(s.requestID.Add(1), "tools/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := tr.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result ToolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling tools/list result: %w", err)
	}

	index := make(map[string]string, len(result.Tools))
	tools := make([]model.ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		snakeFn := naming.Snake(t.Name)
		index[snakeFn] = t.Name
		tools = append(tools, model.ToolDefinition{
			Name:        naming.ToolName(meta.Token, snakeFn),
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	s.mu.Lock()
	s.nameIndex[identifier] = index
	s.mu.Unlock()
	s.repo.UpdateToolCount(identifier, len(tools))

	return tools, nil
}

// CanHandle reports whether the tool name belongs to a configured MCP server.
func (s *McpService) CanHandle(name string) bool {
	parsed, err := naming.Parse(name)
	if err != nil || parsed.Kind != naming.KindExternal {
		return false
	}
	identifier, ok := s.repo.IdentifierForToken(parsed.Token)
	if !ok {
		return false
	}
	s.mu.Lock()
	_, known := s.transports[identifier]
	s.mu.Unlock()
	if known {
		return true
	}
	// Not yet connected; claim it if the repository says it is an MCP server.
	meta, err := s.repo.ServerByIdentifier(context.Background(), identifier)
	return err == nil && meta.Kind == KindMCP
}

// CallTool routes a tools/call to the owning server, translating the snake
// function name back to the backend's declared spelling.
func (s *McpService) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	parsed, err := naming.Parse(name)
	if err != nil {
		return nil, err
	}
	identifier, ok := s.repo.IdentifierForToken(parsed.Token)
	if !ok {
		return nil, fmt.Errorf("%w: no server for token %q", ErrUnknownServer, parsed.Token)
	}

	tr, err := s.ensureReady(ctx, identifier)
	if err != nil {
		return nil, err
	}

	original, err := s.originalName(ctx, identifier, parsed.Function)
	if err != nil {
		return nil, err
	}

	req, err := jsonrpc.NewRequest(s.requestID.Add(1), "tools/call", ToolCallParams{
		Name:      original,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	resp, err := tr.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// originalName resolves the backend's declared tool name for a snake
// function, fetching the server's tool list on a cache miss.
func (s *McpService) originalName(ctx context.Context, identifier, snakeFn string) (string, error) {
	s.mu.Lock()
	index := s.nameIndex[identifier]
	s.mu.Unlock()

	if original, ok := index[snakeFn]; ok {
		return original, nil
	}

	if _, err := s.ServerTools(ctx, identifier); err != nil {
		return "", err
	}

	s.mu.Lock()
	index = s.nameIndex[identifier]
	s.mu.Unlock()
	if original, ok := index[snakeFn]; ok {
		return original, nil
	}
	// Fall back to the snake form; some backends already use it.
	return snakeFn, nil
}

// Close releases every transport.
func (s *McpService) Close() {
	s.mu.Lock()
	transports := s.transports
	s.transports = make(map[string]Transport)
	s.ready = make(map[string]bool)
	s.mu.Unlock()

	for identifier, tr := range transports {
		if err := tr.Close(); err != nil {
			s.logger.Warn("closing mcp transport", "server", identifier, "error", err)
		}
	}
}
