package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/model"
)

// Composer assembles the per-dispatch agent prompt: base prompt, then the
// agent's own prompt (inline, from its prompt source, or the shared
// default), then the generated available-servers section.
type Composer struct {
	loader *config.Loader
}

// NewComposer creates a composer using the loader for prompt sources.
func NewComposer(loader *config.Loader) *Composer {
	return &Composer{loader: loader}
}

// AgentPrompt resolves the agent-specific prompt fragment. Precedence:
// inline prompt, then promptSource, then the document's defaultPrompt.
func (c *Composer) AgentPrompt(ctx context.Context, cfg *config.AgentsConfig, agent *config.AgentConfig) (string, error) {
	if agent.Prompt != "" {
		return agent.Prompt, nil
	}
	if agent.PromptSource != "" {
		raw, err := c.loader.Fetch(ctx, agent.PromptSource)
		if err != nil {
			return "", fmt.Errorf("loading prompt source for %s: %w", agent.Identifier, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return cfg.DefaultPrompt, nil
}

// Compose joins the prompt fragments with the available-servers section.
// The servers listed are the agent's filtered view.
func Compose(basePrompt, agentPrompt string, servers []model.ServerSummary) string {
	var b strings.Builder

	for _, fragment := range []string{basePrompt, agentPrompt} {
		if fragment == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(fragment))
	}

	if len(servers) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("You have access to the following servers:\n")
		for _, s := range servers {
			fmt.Fprintf(&b, "- %s (%s): %s [%d tools]\n", s.Identifier, s.Name, s.Description, s.ToolsCount)
		}
		b.WriteString("Use cubicler_fetch_server_tools to discover a server's tools before calling them.")
	}

	return b.String()
}
