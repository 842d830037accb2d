// Package model defines the wire data model shared between the broker's
// HTTP surface, the dispatch pipeline, and the agent transports.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType enumerates the supported conversation message kinds.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeURL   MessageType = "url"
	MessageTypeNull  MessageType = "null"
)

// Sender identifies the originator of a message or response.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message is one entry of the conversation passed to an agent.
type Message struct {
	Sender    Sender         `json:"sender"`
	Timestamp string         `json:"timestamp,omitempty"`
	Type      MessageType    `json:"type"`
	Content   *string        `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	FileName  string         `json:"fileName,omitempty"`
}

// AgentInfo describes the agent handling a dispatch, including its composed
// prompt.
type AgentInfo struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt,omitempty"`
}

// ServerSummary is the agent-shaped view of an available backend server.
// Identifiers are always the snake_case form; agents never see hash tokens
// here.
type ServerSummary struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ToolsCount  int    `json:"toolsCount"`
}

// ToolDefinition is a tool as exposed to agents: an opaque name, a
// description, and a JSON-Schema parameters object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// AgentRequest is the payload delivered to an agent transport for one
// dispatch.
type AgentRequest struct {
	Agent    AgentInfo        `json:"agent"`
	Tools    []ToolDefinition `json:"tools"`
	Servers  []ServerSummary  `json:"servers"`
	Messages []Message        `json:"messages"`
}

// ResponseMetadata carries the usage counters an agent reports.
type ResponseMetadata struct {
	UsedToken int            `json:"usedToken"`
	UsedTools int            `json:"usedTools"`
	Extra     map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the counters.
func (m ResponseMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["usedToken"] = m.UsedToken
	out["usedTools"] = m.UsedTools
	return json.Marshal(out)
}

// UnmarshalJSON splits the counters out of the flat object.
func (m *ResponseMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["usedToken"].(float64); ok {
		m.UsedToken = int(v)
	}
	if v, ok := raw["usedTools"].(float64); ok {
		m.UsedTools = int(v)
	}
	delete(raw, "usedToken")
	delete(raw, "usedTools")
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// AgentResponse is what an agent returns for one dispatch. All four fields
// must be present; Content may be null only for type "null".
type AgentResponse struct {
	Timestamp string            `json:"timestamp"`
	Type      MessageType       `json:"type"`
	Content   *string           `json:"content"`
	Metadata  *ResponseMetadata `json:"metadata"`
}

// Validate checks AgentResponse completeness per the dispatch contract.
func (r *AgentResponse) Validate() error {
	if r == nil {
		return errors.New("agent response is nil")
	}
	if r.Timestamp == "" {
		return errors.New("agent response missing timestamp")
	}
	if r.Type == "" {
		return errors.New("agent response missing type")
	}
	if r.Content == nil && r.Type != MessageTypeNull {
		return fmt.Errorf("agent response content is null for type %q", r.Type)
	}
	if r.Metadata == nil {
		return errors.New("agent response missing metadata")
	}
	return nil
}

// DispatchRequest is the broker-boundary input: a conversation.
type DispatchRequest struct {
	Messages []Message `json:"messages"`
}

// DispatchResponse is the broker-boundary output, an AgentResponse stamped
// with the handling agent's identity.
type DispatchResponse struct {
	Sender    Sender           `json:"sender"`
	Timestamp string           `json:"timestamp"`
	Type      MessageType      `json:"type"`
	Content   *string          `json:"content"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// Now returns the current time in the ISO-8601 UTC form used on the wire.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// StringPtr is a convenience for building message and response content.
func StringPtr(s string) *string {
	return &s
}
