package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cubicler/cubicler/pkg/auth"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/model"
	"github.com/cubicler/cubicler/pkg/naming"
)

// ErrUpstream is returned when a REST backend answers outside 2xx.
var ErrUpstream = errors.New("upstream error")

var pathPlaceholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// RestService adapts configured REST endpoints into MCP-style tools.
type RestService struct {
	repo         *Repository
	client       *http.Client
	strictParams bool
	logger       *slog.Logger

	// importSpec loads endpoints from an OpenAPI document; seam for tests.
	importSpec func(ctx context.Context, source string) ([]config.RestEndpoint, error)

	mu        sync.Mutex
	specCache map[string][]config.RestEndpoint
}

// RestOptions tunes the REST adapter.
type RestOptions struct {
	RequestTimeout time.Duration
	StrictParams   bool
	Logger         *slog.Logger
}

// NewRestService creates the adapter.
func NewRestService(repo *Repository, opts RestOptions) *RestService {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &RestService{
		repo:         repo,
		client:       &http.Client{Timeout: opts.RequestTimeout},
		strictParams: opts.StrictParams,
		logger:       opts.Logger,
		specCache:    make(map[string][]config.RestEndpoint),
	}
	s.importSpec = s.loadOpenAPIEndpoints
	return s
}

// endpoints returns a server's endpoint list, merging any OpenAPI-imported
// endpoints behind the explicitly configured ones. Explicit endpoints win on
// name collisions.
func (s *RestService) endpoints(ctx context.Context, cfg config.RestServerConfig) ([]config.RestEndpoint, error) {
	if cfg.Spec == "" {
		return cfg.Endpoints, nil
	}

	s.mu.Lock()
	imported, cached := s.specCache[cfg.Spec]
	s.mu.Unlock()

	if !cached {
		var err error
		imported, err = s.importSpec(ctx, cfg.Spec)
		if err != nil {
			return nil, fmt.Errorf("importing spec %s: %w", cfg.Spec, err)
		}
		s.mu.Lock()
		s.specCache[cfg.Spec] = imported
		s.mu.Unlock()
	}

	seen := make(map[string]bool, len(cfg.Endpoints))
	merged := append([]config.RestEndpoint{}, cfg.Endpoints...)
	for _, ep := range cfg.Endpoints {
		seen[naming.Snake(ep.Name)] = true
	}
	for _, ep := range imported {
		if !seen[naming.Snake(ep.Name)] {
			merged = append(merged, ep)
		}
	}
	return merged, nil
}

// ListAllTools synthesizes tool definitions for every REST server.
func (s *RestService) ListAllTools(ctx context.Context) ([]model.ToolDefinition, error) {
	servers, err := s.repo.Servers(ctx)
	if err != nil {
		return nil, err
	}

	var all []model.ToolDefinition
	for _, meta := range servers {
		if meta.Kind != KindREST {
			continue
		}
		tools, err := s.ServerTools(ctx, meta.Identifier)
		if err != nil {
			s.logger.Warn("skipping rest server in tools/list", "server", meta.Identifier, "error", err)
			continue
		}
		all = append(all, tools...)
	}
	return all, nil
}

// ServerTools synthesizes tool definitions for one REST server and refreshes
// the repository's tool count.
func (s *RestService) ServerTools(ctx context.Context, identifier string) ([]model.ToolDefinition, error) {
	meta, err := s.repo.ServerByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	cfg, err := s.repo.RestConfig(ctx, identifier)
	if err != nil {
		return nil, err
	}
	endpoints, err := s.endpoints(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tools := make([]model.ToolDefinition, 0, len(endpoints))
	for _, ep := range endpoints {
		params, err := endpointParameters(ep)
		if err != nil {
			return nil, err
		}
		tools = append(tools, model.ToolDefinition{
			Name:        naming.ToolName(meta.Token, naming.Snake(ep.Name)),
			Description: ep.Description,
			Parameters:  params,
		})
	}

	s.repo.UpdateToolCount(identifier, len(tools))
	return tools, nil
}

// endpointParameters builds the JSON-Schema parameters object: one required
// string property per path placeholder (or its declared schema), plus nested
// query and payload subtrees.
func endpointParameters(ep config.RestEndpoint) (json.RawMessage, error) {
	props := make(map[string]any)
	var required []string

	for _, match := range pathPlaceholder.FindAllStringSubmatch(ep.Path, -1) {
		name := match[1]
		if schema, ok := ep.PathParams[name]; ok {
			props[name] = schema
		} else {
			props[name] = map[string]any{"type": "string"}
		}
		required = append(required, name)
	}
	if ep.Query != nil {
		props["query"] = ep.Query
	}
	if ep.Payload != nil {
		props["payload"] = ep.Payload
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return json.Marshal(schema)
}

// CanHandle reports whether the tool name belongs to a configured REST server.
func (s *RestService) CanHandle(name string) bool {
	parsed, err := naming.Parse(name)
	if err != nil || parsed.Kind != naming.KindExternal {
		return false
	}
	identifier, ok := s.repo.IdentifierForToken(parsed.Token)
	if !ok {
		return false
	}
	meta, err := s.repo.ServerByIdentifier(context.Background(), identifier)
	return err == nil && meta.Kind == KindREST
}

// CallTool executes one REST endpoint and returns an MCP tool result whose
// text content is the (transformed) response JSON.
func (s *RestService) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	parsed, err := naming.Parse(name)
	if err != nil {
		return nil, err
	}
	identifier, ok := s.repo.IdentifierForToken(parsed.Token)
	if !ok {
		return nil, fmt.Errorf("%w: no server for token %q", ErrUnknownServer, parsed.Token)
	}
	cfg, err := s.repo.RestConfig(ctx, identifier)
	if err != nil {
		return nil, err
	}
	endpoints, err := s.endpoints(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var endpoint *config.RestEndpoint
	for i := range endpoints {
		if naming.Snake(endpoints[i].Name) == parsed.Function {
			endpoint = &endpoints[i]
			break
		}
	}
	if endpoint == nil {
		return nil, fmt.Errorf("%w: %s has no endpoint %q", ErrUnknownTool, identifier, parsed.Function)
	}

	result, err := s.execute(ctx, cfg, *endpoint, args)
	if err != nil {
		return nil, err
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ToolCallResult{Content: []Content{NewTextContent(string(text))}})
}

// execute builds and sends the HTTP request for one endpoint call.
func (s *RestService) execute(ctx context.Context, cfg config.RestServerConfig, ep config.RestEndpoint, args map[string]any) (any, error) {
	placeholders := make(map[string]bool)
	for _, match := range pathPlaceholder.FindAllStringSubmatch(ep.Path, -1) {
		placeholders[match[1]] = true
	}

	path := ep.Path
	var query map[string]any
	var payload any

	for key, value := range args {
		switch {
		case placeholders[key]:
			path = strings.ReplaceAll(path, "{"+key+"}", url.PathEscape(stringify(value)))
		case key == "query":
			if m, ok := value.(map[string]any); ok {
				query = m
			}
		case key == "payload":
			payload = value
		default:
			if s.strictParams {
				return nil, fmt.Errorf("unexpected argument %q for endpoint %s", key, ep.Name)
			}
		}
	}
	if rest := pathPlaceholder.FindString(path); rest != "" {
		return nil, fmt.Errorf("missing path parameter %s for endpoint %s", rest, ep.Name)
	}

	fullURL := strings.TrimRight(cfg.URL, "/") + path
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			if arr, ok := v.([]any); ok {
				for _, item := range arr {
					values.Add(k, stringify(item))
				}
			} else {
				values.Set(k, stringify(v))
			}
		}
		fullURL += "?" + values.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(ep.Method), fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.Auth != nil {
		tokens, err := auth.SourceFromConfig(cfg.Auth)
		if err != nil {
			return nil, err
		}
		if tokens != nil {
			token, err := tokens.Token(ctx)
			if err != nil {
				return nil, fmt.Errorf("acquiring token: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d from %s: %s", ErrUpstream, resp.StatusCode, ep.Name, truncate(raw, 512))
	}

	var decoded any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			// Non-JSON responses pass through as a string.
			decoded = string(raw)
		}
	}

	if len(ep.Transforms) > 0 {
		decoded, err = ApplyTransforms(decoded, ep.Transforms)
		if err != nil {
			return nil, fmt.Errorf("applying transforms: %w", err)
		}
	}
	return decoded, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
