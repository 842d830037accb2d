// Package access evaluates per-agent server and tool restrictions. Agents
// may pin an allowlist, a denylist, or both; allowlists win when present.
package access

import (
	"strings"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/model"
	"github.com/cubicler/cubicler/pkg/naming"
)

// ServerResolver maps a 6-character tool name token back to the server
// identifier it was derived from.
type ServerResolver interface {
	IdentifierForToken(token string) (string, bool)
}

// Evaluator answers visibility questions for one agent. A nil agent allows
// everything.
type Evaluator struct {
	allowedServers    map[string]bool
	restrictedServers map[string]bool
	allowedTools      map[string]bool
	restrictedTools   map[string]bool
	resolver          ServerResolver
}

// NewEvaluator builds an evaluator from the agent's restriction lists.
// List entries are normalized to snake_case so config spellings like
// "weather-api.getCurrent" match derived tool names.
func NewEvaluator(agent *config.AgentConfig, resolver ServerResolver) *Evaluator {
	e := &Evaluator{resolver: resolver}
	if agent == nil {
		return e
	}
	e.allowedServers = normalizeSet(agent.AllowedServers)
	e.restrictedServers = normalizeSet(agent.RestrictedServers)
	e.allowedTools = normalizeSet(agent.AllowedTools)
	e.restrictedTools = normalizeSet(agent.RestrictedTools)
	return e
}

func normalizeSet(entries []string) map[string]bool {
	if len(entries) == 0 {
		return nil
	}
	set := make(map[string]bool, len(entries))
	for _, entry := range entries {
		set[normalizeKey(entry)] = true
	}
	return set
}

// normalizeKey snake-cases each dot-separated segment independently, so
// "weather-api.getCurrent" becomes "weather_api.get_current".
func normalizeKey(entry string) string {
	parts := strings.SplitN(entry, ".", 2)
	for i, p := range parts {
		parts[i] = naming.Snake(p)
	}
	return strings.Join(parts, ".")
}

// Unrestricted reports whether the agent carries no restriction lists at
// all, so every visibility question answers true.
func (e *Evaluator) Unrestricted() bool {
	return e.allowedServers == nil && e.restrictedServers == nil &&
		e.allowedTools == nil && e.restrictedTools == nil
}

// ServerAllowed reports whether the agent may see the given server.
func (e *Evaluator) ServerAllowed(identifier string) bool {
	key := naming.Snake(identifier)
	if e.allowedServers != nil && !e.allowedServers[key] {
		return false
	}
	return !e.restrictedServers[key]
}

// ToolAllowed reports whether the agent may call the given tool name.
// Internal tools bypass the allowlists but still honor restrictedTools.
// Tools on a hidden server are hidden regardless of the tool lists.
// Unresolvable tokens are denied.
func (e *Evaluator) ToolAllowed(toolName string) bool {
	parsed, err := naming.Parse(toolName)
	if err != nil {
		return false
	}
	if parsed.Kind == naming.KindInternal {
		return !e.restrictedTools[parsed.Name]
	}

	if e.resolver == nil {
		return false
	}
	identifier, ok := e.resolver.IdentifierForToken(parsed.Token)
	if !ok {
		return false
	}
	if !e.ServerAllowed(identifier) {
		return false
	}

	key := naming.Snake(identifier) + "." + parsed.Function
	if e.allowedTools != nil && !e.allowedTools[key] {
		return false
	}
	return !e.restrictedTools[key]
}

// FilterServers returns the subset of servers visible to the agent.
func (e *Evaluator) FilterServers(servers []model.ServerSummary) []model.ServerSummary {
	filtered := make([]model.ServerSummary, 0, len(servers))
	for _, s := range servers {
		if e.ServerAllowed(s.Identifier) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// FilterTools returns the subset of tools callable by the agent.
func (e *Evaluator) FilterTools(tools []model.ToolDefinition) []model.ToolDefinition {
	filtered := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		if e.ToolAllowed(t.Name) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
