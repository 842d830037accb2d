// Package provider owns the backend side of the broker: server metadata,
// MCP transports, the REST-to-tool adapter, the internal tools, and the MCP
// dispatcher that routes agent tool calls to the right backend.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// ProtocolVersion is the MCP protocol version spoken on both sides.
const ProtocolVersion = "2024-11-05"

// Default timeouts for MCP transports.
const (
	// DefaultRequestTimeout bounds one JSON-RPC request to a backend.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultSSEOpenTimeout bounds opening the SSE response stream.
	DefaultSSEOpenTimeout = 2 * time.Second

	// DefaultKillGrace is how long a stdio backend gets between SIGTERM
	// and SIGKILL.
	DefaultKillGrace = 5 * time.Second
)

// Transport is one logical connection to one backend MCP server. Implementations
// are pure pipes: the MCP handshake itself is driven by the service layer.
type Transport interface {
	// Initialize establishes the underlying connection (open stream, spawn
	// process). Idempotent.
	Initialize(ctx context.Context) error
	// SendRequest performs one JSON-RPC exchange.
	SendRequest(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error)
	// Close releases the connection and rejects anything pending.
	Close() error
	// IsConnected reports whether the transport is usable.
	IsConnected() bool
	// ServerIdentifier returns the configured server identifier.
	ServerIdentifier() string
}

// MCP protocol types.

// ServerInfo identifies an MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo identifies an MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities describes what a server or client can do.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability indicates tools support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams contains parameters for the initialize request.
type InitializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ClientInfo      ClientInfo   `json:"clientInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// InitializeResult is the response to initialize.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// Tool is an MCP tool as a backend reports it.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolsListResult is the response to tools/list.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolCallParams contains parameters for tools/call.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResult is the response to tools/call.
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool response.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewTextContent creates a text content item.
func NewTextContent(text string) Content {
	return Content{Type: "text", Text: text}
}
