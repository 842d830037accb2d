package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cubicler/cubicler/pkg/model"
	"github.com/cubicler/cubicler/pkg/naming"
)

// SelfIdentifier is the reserved identifier under which the broker exposes
// its own tools.
const SelfIdentifier = "cubicler"

const (
	ToolAvailableServers = naming.InternalPrefix + "available_servers"
	ToolFetchServerTools = naming.InternalPrefix + "fetch_server_tools"
)

// ToolLister lists one server's tools in agent-visible form.
type ToolLister interface {
	ServerTools(ctx context.Context, identifier string) ([]model.ToolDefinition, error)
}

// InternalService implements the broker's own tools. Agents use them to
// discover servers lazily instead of receiving every tool up front.
type InternalService struct {
	repo *Repository
	mcp  ToolLister
	rest ToolLister
}

// NewInternalService creates the service over the shared server repository.
func NewInternalService(repo *Repository, mcp, rest ToolLister) *InternalService {
	return &InternalService{repo: repo, mcp: mcp, rest: rest}
}

// Tools returns the internal tool definitions.
func (s *InternalService) Tools() []model.ToolDefinition {
	return []model.ToolDefinition{
		{
			Name:        ToolAvailableServers,
			Description: "List the available servers and how many tools each provides.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        ToolFetchServerTools,
			Description: "Fetch the tool definitions provided by one server.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"serverIdentifier":{"type":"string","description":"Identifier of the server to inspect."}},` +
				`"required":["serverIdentifier"]}`),
		},
	}
}

// CanHandle reports whether the name is one of the broker's own tools.
func (s *InternalService) CanHandle(name string) bool {
	return name == ToolAvailableServers || name == ToolFetchServerTools
}

// CallTool executes an internal tool.
func (s *InternalService) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	switch name {
	case ToolAvailableServers:
		return s.availableServers(ctx)
	case ToolFetchServerTools:
		identifier, _ := args["serverIdentifier"].(string)
		if identifier == "" {
			return nil, fmt.Errorf("%w: serverIdentifier is required", ErrUnknownTool)
		}
		return s.fetchServerTools(ctx, identifier)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

func (s *InternalService) availableServers(ctx context.Context) (json.RawMessage, error) {
	servers, err := s.repo.AvailableServers(ctx)
	if err != nil {
		return nil, err
	}
	if servers == nil {
		servers = []model.ServerSummary{}
	}
	return json.Marshal(map[string]any{
		"total":   len(servers),
		"servers": servers,
	})
}

// fetchServerTools resolves the identifier to its owning service. The
// broker's own identifier returns the internal tools themselves.
func (s *InternalService) fetchServerTools(ctx context.Context, identifier string) (json.RawMessage, error) {
	ident := naming.Snake(identifier)

	if ident == SelfIdentifier {
		return json.Marshal(map[string]any{"tools": s.Tools()})
	}

	meta, err := s.repo.ServerByIdentifier(ctx, ident)
	if err != nil {
		return nil, err
	}

	var tools []model.ToolDefinition
	switch meta.Kind {
	case KindMCP:
		tools, err = s.mcp.ServerTools(ctx, ident)
	case KindREST:
		tools, err = s.rest.ServerTools(ctx, ident)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownServer, ident)
	}
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []model.ToolDefinition{}
	}
	return json.Marshal(map[string]any{"tools": tools})
}
