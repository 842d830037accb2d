package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Identifier constraints shared by agents, servers, and webhooks.
const maxIdentifierLength = 32

var identifierPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors:\n  - " + strings.Join(msgs, "\n  - ")
}

func (e ValidationErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func validIdentifier(id string) bool {
	return id != "" && len(id) <= maxIdentifierLength && identifierPattern.MatchString(id)
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

// ValidateAgents checks the agents document.
func ValidateAgents(cfg *AgentsConfig) error {
	var errs ValidationErrors

	if len(cfg.Agents) == 0 {
		errs = append(errs, ValidationError{"agents", "at least one agent is required"})
	}

	seen := make(map[string]bool)
	for i, a := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if !validIdentifier(a.Identifier) {
			errs = append(errs, ValidationError{prefix + ".identifier", "must be lowercase [a-z0-9_-], at most 32 characters"})
		} else if seen[a.Identifier] {
			errs = append(errs, ValidationError{prefix + ".identifier", fmt.Sprintf("duplicate identifier %q", a.Identifier)})
		} else {
			seen[a.Identifier] = true
		}

		switch a.Transport {
		case TransportHTTP:
			if a.HTTP == nil || a.HTTP.URL == "" {
				errs = append(errs, ValidationError{prefix + ".http.url", "is required for http transport"})
			}
		case TransportSSE:
			// Connection is initiated by the agent; nothing required here.
		case TransportStdio:
			if a.Stdio == nil || a.Stdio.Command == "" {
				errs = append(errs, ValidationError{prefix + ".stdio.command", "is required for stdio transport"})
			}
		case TransportDirect:
			if a.Direct == nil || a.Direct.Provider == "" {
				errs = append(errs, ValidationError{prefix + ".direct.provider", "is required for direct transport"})
			}
		default:
			errs = append(errs, ValidationError{prefix + ".transport", "must be one of http, sse, stdio, direct"})
		}
	}

	return errs.orNil()
}

// ValidateProviders checks the providers document.
func ValidateProviders(cfg *ProvidersConfig) error {
	var errs ValidationErrors

	seen := make(map[string]bool)
	checkIdent := func(field, id string) {
		if !validIdentifier(id) {
			errs = append(errs, ValidationError{field, "must be lowercase [a-z0-9_-], at most 32 characters"})
		} else if seen[id] {
			errs = append(errs, ValidationError{field, fmt.Sprintf("duplicate identifier %q", id)})
		} else {
			seen[id] = true
		}
	}

	for i, s := range cfg.McpServers {
		prefix := fmt.Sprintf("mcpServers[%d]", i)
		checkIdent(prefix+".identifier", s.Identifier)

		switch s.Transport {
		case McpTransportHTTP, McpTransportSSE:
			if s.URL == "" {
				errs = append(errs, ValidationError{prefix + ".url", "is required for " + string(s.Transport) + " transport"})
			}
		case McpTransportStdio:
			if s.Command == "" {
				errs = append(errs, ValidationError{prefix + ".command", "is required for stdio transport"})
			}
		default:
			errs = append(errs, ValidationError{prefix + ".transport", "must be one of http, sse, stdio"})
		}
	}

	for i, s := range cfg.RestServers {
		prefix := fmt.Sprintf("restServers[%d]", i)
		checkIdent(prefix+".identifier", s.Identifier)
		if s.URL == "" {
			errs = append(errs, ValidationError{prefix + ".url", "is required"})
		}
		if len(s.Endpoints) == 0 && s.Spec == "" {
			errs = append(errs, ValidationError{prefix + ".endpoints", "at least one endpoint (or a spec) is required"})
		}

		names := make(map[string]bool)
		for j, ep := range s.Endpoints {
			epPrefix := fmt.Sprintf("%s.endpoints[%d]", prefix, j)
			if ep.Name == "" {
				errs = append(errs, ValidationError{epPrefix + ".name", "is required"})
			} else if names[ep.Name] {
				errs = append(errs, ValidationError{epPrefix + ".name", fmt.Sprintf("duplicate endpoint name %q", ep.Name)})
			} else {
				names[ep.Name] = true
			}
			if !validMethods[strings.ToUpper(ep.Method)] {
				errs = append(errs, ValidationError{epPrefix + ".method", "must be one of GET, POST, PUT, DELETE, PATCH"})
			}
			if !strings.HasPrefix(ep.Path, "/") {
				errs = append(errs, ValidationError{epPrefix + ".path", "must start with /"})
			}
		}
	}

	return errs.orNil()
}

// ValidateWebhooks checks the webhooks document.
func ValidateWebhooks(cfg *WebhooksConfig) error {
	var errs ValidationErrors

	seen := make(map[string]bool)
	for i, w := range cfg.Webhooks {
		prefix := fmt.Sprintf("webhooks[%d]", i)
		if !validIdentifier(w.Identifier) {
			errs = append(errs, ValidationError{prefix + ".identifier", "must be lowercase [a-z0-9_-], at most 32 characters"})
		} else if seen[w.Identifier] {
			errs = append(errs, ValidationError{prefix + ".identifier", fmt.Sprintf("duplicate identifier %q", w.Identifier)})
		} else {
			seen[w.Identifier] = true
		}
	}

	return errs.orNil()
}
