// Package config defines the broker's configuration documents (agents,
// providers, webhooks), loads them from files or URLs with environment
// substitution, and serves them through TTL-cached repositories.
package config

// TransportKind enumerates agent delivery mechanisms.
type TransportKind string

const (
	TransportHTTP   TransportKind = "http"
	TransportSSE    TransportKind = "sse"
	TransportStdio  TransportKind = "stdio"
	TransportDirect TransportKind = "direct"
)

// JWTAuth configures outbound Bearer tokens for a server or agent endpoint.
// When Token is set it is used verbatim; otherwise a token is signed from
// Secret with the optional issuer/audience/subject claims.
type JWTAuth struct {
	Token     string `json:"token,omitempty" yaml:"token,omitempty"`
	Secret    string `json:"secret,omitempty" yaml:"secret,omitempty"`
	Issuer    string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Audience  string `json:"audience,omitempty" yaml:"audience,omitempty"`
	Subject   string `json:"subject,omitempty" yaml:"subject,omitempty"`
	ExpiresIn string `json:"expiresIn,omitempty" yaml:"expiresIn,omitempty"` // Go duration, default 1h
}

// HTTPAgentTransport configures a request/response HTTP agent.
type HTTPAgentTransport struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Auth    *JWTAuth          `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// SSEAgentTransport configures an agent that connects to the broker over a
// long-lived SSE stream and posts responses back.
type SSEAgentTransport struct {
	// ResponseTimeout overrides the per-request wait (Go duration).
	ResponseTimeout string `json:"responseTimeout,omitempty" yaml:"responseTimeout,omitempty"`
}

// StdioAgentTransport configures a pooled subprocess agent.
type StdioAgentTransport struct {
	Command      string            `json:"command" yaml:"command"`
	Args         []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd          string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	MaxPoolSize  int               `json:"maxPoolSize,omitempty" yaml:"maxPoolSize,omitempty"`   // including primary, default 4
	MaxIdleMs    int               `json:"maxIdleMs,omitempty" yaml:"maxIdleMs,omitempty"`       // default 300000
	QueueTimeout int               `json:"queueTimeoutMs,omitempty" yaml:"queueTimeoutMs,omitempty"` // default 30000
	QueueMaxSize *int              `json:"queueMaxSize,omitempty" yaml:"queueMaxSize,omitempty"` // default 100
}

// DirectAgentTransport configures an in-process provider agent.
type DirectAgentTransport struct {
	Provider      string  `json:"provider" yaml:"provider"` // currently "openai"
	APIKey        string  `json:"apiKey" yaml:"apiKey"`
	Model         string  `json:"model" yaml:"model"`
	BaseURL       string  `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Temperature   float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"` // tool-call loop cap, default 10
}

// AgentConfig describes one configured agent.
type AgentConfig struct {
	Identifier   string `json:"identifier" yaml:"identifier"`
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description" yaml:"description"`
	Prompt       string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	PromptSource string `json:"promptSource,omitempty" yaml:"promptSource,omitempty"` // file path or URL

	Transport TransportKind         `json:"transport" yaml:"transport"`
	HTTP      *HTTPAgentTransport   `json:"http,omitempty" yaml:"http,omitempty"`
	SSE       *SSEAgentTransport    `json:"sse,omitempty" yaml:"sse,omitempty"`
	Stdio     *StdioAgentTransport  `json:"stdio,omitempty" yaml:"stdio,omitempty"`
	Direct    *DirectAgentTransport `json:"direct,omitempty" yaml:"direct,omitempty"`

	AllowedServers    []string `json:"allowedServers,omitempty" yaml:"allowedServers,omitempty"`
	AllowedTools      []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty"`
	RestrictedServers []string `json:"restrictedServers,omitempty" yaml:"restrictedServers,omitempty"`
	RestrictedTools   []string `json:"restrictedTools,omitempty" yaml:"restrictedTools,omitempty"`
}

// AgentsConfig is the agents document. The default agent is element 0.
type AgentsConfig struct {
	BasePrompt    string        `json:"basePrompt,omitempty" yaml:"basePrompt,omitempty"`
	DefaultPrompt string        `json:"defaultPrompt,omitempty" yaml:"defaultPrompt,omitempty"`
	Agents        []AgentConfig `json:"agents" yaml:"agents"`
}

// McpTransportKind enumerates MCP backend connection types.
type McpTransportKind string

const (
	McpTransportHTTP  McpTransportKind = "http"
	McpTransportSSE   McpTransportKind = "sse"
	McpTransportStdio McpTransportKind = "stdio"
)

// McpServerConfig describes one MCP backend server. The record is a tagged
// union by Transport: http/sse use URL+Headers+Auth, stdio uses
// Command/Args/Cwd/Env.
type McpServerConfig struct {
	Identifier  string           `json:"identifier" yaml:"identifier"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Transport   McpTransportKind `json:"transport" yaml:"transport"`

	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Auth    *JWTAuth          `json:"auth,omitempty" yaml:"auth,omitempty"`

	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// EndpointHint returns the URL or command string used for hash derivation.
func (c *McpServerConfig) EndpointHint() string {
	if c.Transport == McpTransportStdio {
		return c.Command
	}
	return c.URL
}

// SchemaObject is the JSON-Schema subset carried on REST endpoint
// descriptions: type, required, properties, items, plus passthrough keys.
type SchemaObject struct {
	Type       string                  `json:"type,omitempty" yaml:"type,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Properties map[string]SchemaObject `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *SchemaObject           `json:"items,omitempty" yaml:"items,omitempty"`
	Required   []string                `json:"required,omitempty" yaml:"required,omitempty"`
	Enum       []any                   `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// TransformSpec describes one response transform applied to a REST result.
type TransformSpec struct {
	Path      string            `json:"path" yaml:"path"`
	Transform string            `json:"transform" yaml:"transform"` // remove, map, date_format, template, regex_replace
	Map       map[string]any    `json:"map,omitempty" yaml:"map,omitempty"`
	Format    string            `json:"format,omitempty" yaml:"format,omitempty"`
	Template  string            `json:"template,omitempty" yaml:"template,omitempty"`
	Pattern   string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Replace   string            `json:"replacement,omitempty" yaml:"replacement,omitempty"`
}

// RestEndpoint describes one invocable REST operation.
type RestEndpoint struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Method      string            `json:"method" yaml:"method"` // GET, POST, PUT, DELETE, PATCH
	Path        string            `json:"path" yaml:"path"`     // template with {param} segments
	Query       *SchemaObject     `json:"query,omitempty" yaml:"query,omitempty"`
	Payload     *SchemaObject     `json:"payload,omitempty" yaml:"payload,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	PathParams  map[string]SchemaObject `json:"pathParams,omitempty" yaml:"pathParams,omitempty"`
	Transforms  []TransformSpec   `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}

// RestServerConfig describes one REST backend adapted into MCP-style tools.
// When Spec is set, endpoints are imported from the referenced OpenAPI
// document and merged with any explicitly listed endpoints.
type RestServerConfig struct {
	Identifier     string            `json:"identifier" yaml:"identifier"`
	Name           string            `json:"name" yaml:"name"`
	Description    string            `json:"description" yaml:"description"`
	URL            string            `json:"url" yaml:"url"`
	DefaultHeaders map[string]string `json:"defaultHeaders,omitempty" yaml:"defaultHeaders,omitempty"`
	Auth           *JWTAuth          `json:"auth,omitempty" yaml:"auth,omitempty"`
	Spec           string            `json:"spec,omitempty" yaml:"spec,omitempty"`
	Endpoints      []RestEndpoint    `json:"endpoints" yaml:"endpoints"`
}

// ProvidersConfig is the providers document.
type ProvidersConfig struct {
	McpServers  []McpServerConfig  `json:"mcpServers" yaml:"mcpServers"`
	RestServers []RestServerConfig `json:"restServers" yaml:"restServers"`
}

// WebhookConfig describes one webhook ingress endpoint.
type WebhookConfig struct {
	Identifier      string   `json:"identifier" yaml:"identifier"`
	Name            string   `json:"name" yaml:"name"`
	Description     string   `json:"description" yaml:"description"`
	AllowedOrigins  []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty"`
	SignatureHeader string   `json:"signatureHeader,omitempty" yaml:"signatureHeader,omitempty"`
	Secret          string   `json:"secret,omitempty" yaml:"secret,omitempty"`
	AllowedAgents   []string `json:"allowedAgents,omitempty" yaml:"allowedAgents,omitempty"`
}

// WebhooksConfig is the webhooks document.
type WebhooksConfig struct {
	Webhooks []WebhookConfig `json:"webhooks" yaml:"webhooks"`
}
