package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/model"
	"github.com/cubicler/cubicler/pkg/naming"
)

// ErrUnknownServer is returned for lookups of unconfigured server identifiers.
var ErrUnknownServer = errors.New("unknown server")

// ServerKind distinguishes the two backend flavors.
type ServerKind string

const (
	KindMCP  ServerKind = "mcp"
	KindREST ServerKind = "rest"
)

// ServerMetadata is the derived, agent-facing description of one backend.
// Identifier is always the snake_case form; Token is the 6-character hash
// embedded in tool names.
type ServerMetadata struct {
	Identifier  string
	Name        string
	Description string
	Endpoint    string
	Token       string
	ToolsCount  int
	Kind        ServerKind
	Index       int
}

// Repository is the single source of truth for server metadata. It derives
// metadata from the providers config snapshot and regenerates it when the
// snapshot's digest changes; tool counts survive regeneration.
type Repository struct {
	providers *config.ProvidersRepository

	mu      sync.Mutex
	digest  string
	servers []ServerMetadata
	byIdent map[string]int
	byToken map[string]string
	mcpCfgs map[string]config.McpServerConfig
	restCfgs map[string]config.RestServerConfig
}

// NewRepository creates a repository over the providers config source.
func NewRepository(providers *config.ProvidersRepository) *Repository {
	return &Repository{
		providers: providers,
		byIdent:   make(map[string]int),
		byToken:   make(map[string]string),
		mcpCfgs:   make(map[string]config.McpServerConfig),
		restCfgs:  make(map[string]config.RestServerConfig),
	}
}

// refresh regenerates derived metadata when the config digest changed.
// Callers must not hold the lock.
func (r *Repository) refresh(ctx context.Context) error {
	cfg, err := r.providers.ProvidersConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading providers config: %w", err)
	}

	digest := config.Digest(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	if digest == r.digest {
		return nil
	}

	counts := make(map[string]int, len(r.servers))
	for _, s := range r.servers {
		counts[s.Identifier] = s.ToolsCount
	}

	servers := make([]ServerMetadata, 0, len(cfg.McpServers)+len(cfg.RestServers))
	byIdent := make(map[string]int)
	byToken := make(map[string]string)
	mcpCfgs := make(map[string]config.McpServerConfig, len(cfg.McpServers))
	restCfgs := make(map[string]config.RestServerConfig, len(cfg.RestServers))

	// MCP servers first, then REST, for stable indices.
	for _, s := range cfg.McpServers {
		ident := naming.Snake(s.Identifier)
		meta := ServerMetadata{
			Identifier:  ident,
			Name:        s.Name,
			Description: s.Description,
			Endpoint:    s.EndpointHint(),
			Token:       naming.ServerHash(s.Identifier, s.EndpointHint()),
			ToolsCount:  counts[ident],
			Kind:        KindMCP,
			Index:       len(servers),
		}
		byIdent[ident] = len(servers)
		byToken[meta.Token] = ident
		mcpCfgs[ident] = s
		servers = append(servers, meta)
	}
	for _, s := range cfg.RestServers {
		ident := naming.Snake(s.Identifier)
		meta := ServerMetadata{
			Identifier:  ident,
			Name:        s.Name,
			Description: s.Description,
			Endpoint:    s.URL,
			Token:       naming.ServerHash(s.Identifier, s.URL),
			ToolsCount:  counts[ident],
			Kind:        KindREST,
			Index:       len(servers),
		}
		byIdent[ident] = len(servers)
		byToken[meta.Token] = ident
		restCfgs[ident] = s
		servers = append(servers, meta)
	}

	r.digest = digest
	r.servers = servers
	r.byIdent = byIdent
	r.byToken = byToken
	r.mcpCfgs = mcpCfgs
	r.restCfgs = restCfgs
	return nil
}

// Servers returns all server metadata in stable order.
func (r *Repository) Servers(ctx context.Context) ([]ServerMetadata, error) {
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServerMetadata, len(r.servers))
	copy(out, r.servers)
	return out, nil
}

// ServerByIdentifier looks up one server by its snake_case identifier.
func (r *Repository) ServerByIdentifier(ctx context.Context, identifier string) (ServerMetadata, error) {
	if err := r.refresh(ctx); err != nil {
		return ServerMetadata{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byIdent[identifier]
	if !ok {
		return ServerMetadata{}, fmt.Errorf("%w: %q", ErrUnknownServer, identifier)
	}
	return r.servers[idx], nil
}

// IdentifierForToken resolves a 6-character hash token to its server
// identifier. Reads the last derived snapshot; it never blocks on a reload.
func (r *Repository) IdentifierForToken(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byToken[token]
	return ident, ok
}

// AvailableServers returns the agent-shaped server summaries.
func (r *Repository) AvailableServers(ctx context.Context) ([]model.ServerSummary, error) {
	servers, err := r.Servers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ServerSummary, len(servers))
	for i, s := range servers {
		out[i] = model.ServerSummary{
			Identifier:  s.Identifier,
			Name:        s.Name,
			Description: s.Description,
			ToolsCount:  s.ToolsCount,
		}
	}
	return out, nil
}

// UpdateToolCount records the tool count learned from a tools/list.
func (r *Repository) UpdateToolCount(identifier string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.byIdent[identifier]; ok {
		r.servers[idx].ToolsCount = count
	}
}

// McpConfig returns the raw config for an MCP server.
func (r *Repository) McpConfig(ctx context.Context, identifier string) (config.McpServerConfig, error) {
	if err := r.refresh(ctx); err != nil {
		return config.McpServerConfig{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.mcpCfgs[identifier]
	if !ok {
		return config.McpServerConfig{}, fmt.Errorf("%w: %q", ErrUnknownServer, identifier)
	}
	return cfg, nil
}

// RestConfig returns the raw config for a REST server.
func (r *Repository) RestConfig(ctx context.Context, identifier string) (config.RestServerConfig, error) {
	if err := r.refresh(ctx); err != nil {
		return config.RestServerConfig{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.restCfgs[identifier]
	if !ok {
		return config.RestServerConfig{}, fmt.Errorf("%w: %q", ErrUnknownServer, identifier)
	}
	return cfg, nil
}
