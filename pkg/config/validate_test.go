package config

import (
	"strings"
	"testing"
)

func TestValidateAgents(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AgentsConfig
		wantErr string
	}{
		{
			name:    "empty list",
			cfg:     AgentsConfig{},
			wantErr: "at least one agent",
		},
		{
			name: "valid sse agent",
			cfg: AgentsConfig{Agents: []AgentConfig{
				{Identifier: "my_agent", Transport: TransportSSE},
			}},
		},
		{
			name: "uppercase identifier rejected",
			cfg: AgentsConfig{Agents: []AgentConfig{
				{Identifier: "MyAgent", Transport: TransportSSE},
			}},
			wantErr: "identifier",
		},
		{
			name: "duplicate identifier",
			cfg: AgentsConfig{Agents: []AgentConfig{
				{Identifier: "dup", Transport: TransportSSE},
				{Identifier: "dup", Transport: TransportSSE},
			}},
			wantErr: "duplicate identifier",
		},
		{
			name: "http agent without url",
			cfg: AgentsConfig{Agents: []AgentConfig{
				{Identifier: "a", Transport: TransportHTTP},
			}},
			wantErr: "http.url",
		},
		{
			name: "stdio agent without command",
			cfg: AgentsConfig{Agents: []AgentConfig{
				{Identifier: "a", Transport: TransportStdio, Stdio: &StdioAgentTransport{}},
			}},
			wantErr: "stdio.command",
		},
		{
			name: "unknown transport",
			cfg: AgentsConfig{Agents: []AgentConfig{
				{Identifier: "a", Transport: "grpc"},
			}},
			wantErr: "must be one of http, sse, stdio, direct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAgents(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateProviders(t *testing.T) {
	valid := ProvidersConfig{
		McpServers: []McpServerConfig{
			{Identifier: "weather", Transport: McpTransportHTTP, URL: "http://localhost:4000/mcp"},
		},
		RestServers: []RestServerConfig{
			{
				Identifier: "crm",
				URL:        "http://localhost:5000",
				Endpoints: []RestEndpoint{
					{Name: "listUsers", Method: "GET", Path: "/users"},
				},
			},
		},
	}
	if err := ValidateProviders(&valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("identifier collision across kinds", func(t *testing.T) {
		cfg := valid
		cfg.RestServers = append([]RestServerConfig{}, valid.RestServers...)
		cfg.RestServers[0].Identifier = "weather"
		err := ValidateProviders(&cfg)
		if err == nil || !strings.Contains(err.Error(), "duplicate identifier") {
			t.Fatalf("expected duplicate identifier error, got %v", err)
		}
	})

	t.Run("sse server requires url", func(t *testing.T) {
		cfg := ProvidersConfig{McpServers: []McpServerConfig{
			{Identifier: "s", Transport: McpTransportSSE},
		}}
		err := ValidateProviders(&cfg)
		if err == nil || !strings.Contains(err.Error(), "url") {
			t.Fatalf("expected url error, got %v", err)
		}
	})

	t.Run("rest endpoint bad method", func(t *testing.T) {
		cfg := ProvidersConfig{RestServers: []RestServerConfig{{
			Identifier: "crm",
			URL:        "http://localhost:5000",
			Endpoints:  []RestEndpoint{{Name: "x", Method: "FETCH", Path: "/x"}},
		}}}
		err := ValidateProviders(&cfg)
		if err == nil || !strings.Contains(err.Error(), "method") {
			t.Fatalf("expected method error, got %v", err)
		}
	})

	t.Run("rest endpoint path must start with slash", func(t *testing.T) {
		cfg := ProvidersConfig{RestServers: []RestServerConfig{{
			Identifier: "crm",
			URL:        "http://localhost:5000",
			Endpoints:  []RestEndpoint{{Name: "x", Method: "GET", Path: "users"}},
		}}}
		err := ValidateProviders(&cfg)
		if err == nil || !strings.Contains(err.Error(), "must start with /") {
			t.Fatalf("expected path error, got %v", err)
		}
	})

	t.Run("rest server with spec and no endpoints is valid", func(t *testing.T) {
		cfg := ProvidersConfig{RestServers: []RestServerConfig{{
			Identifier: "crm",
			URL:        "http://localhost:5000",
			Spec:       "./openapi.json",
		}}}
		if err := ValidateProviders(&cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("duplicate endpoint names", func(t *testing.T) {
		cfg := ProvidersConfig{RestServers: []RestServerConfig{{
			Identifier: "crm",
			URL:        "http://localhost:5000",
			Endpoints: []RestEndpoint{
				{Name: "x", Method: "GET", Path: "/a"},
				{Name: "x", Method: "GET", Path: "/b"},
			},
		}}}
		err := ValidateProviders(&cfg)
		if err == nil || !strings.Contains(err.Error(), "duplicate endpoint name") {
			t.Fatalf("expected duplicate endpoint error, got %v", err)
		}
	})
}

func TestValidateWebhooks(t *testing.T) {
	cfg := WebhooksConfig{Webhooks: []WebhookConfig{
		{Identifier: "alerts"},
		{Identifier: "alerts"},
	}}
	err := ValidateWebhooks(&cfg)
	if err == nil || !strings.Contains(err.Error(), "duplicate identifier") {
		t.Fatalf("expected duplicate identifier error, got %v", err)
	}

	ok := WebhooksConfig{Webhooks: []WebhookConfig{{Identifier: "alerts"}}}
	if err := ValidateWebhooks(&ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
