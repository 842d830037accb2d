// Package integration exercises the fully wired broker: configuration
// repositories, provider services, dispatch pipeline and HTTP surface
// assembled exactly as `cubicler start` does, with real HTTP backends.
package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cubicler/cubicler/internal/broker"
	"github.com/cubicler/cubicler/pkg/logging"
	"github.com/cubicler/cubicler/pkg/model"
)

// newBroker wires a broker against an echo agent and one REST provider,
// both served by httptest.
func newBroker(t *testing.T) (brokerURL string) {
	t.Helper()

	agentBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.AgentRequest
		json.NewDecoder(r.Body).Decode(&req)
		content := fmt.Sprintf("agent %s saw %d tools", req.Agent.Identifier, len(req.Tools))
		json.NewEncoder(w).Encode(model.AgentResponse{
			Timestamp: "2024-01-01T00:00:00Z",
			Type:      model.MessageTypeText,
			Content:   model.StringPtr(content),
			Metadata:  &model.ResponseMetadata{UsedToken: 1},
		})
	}))
	t.Cleanup(agentBackend.Close)

	userBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/users/") {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":   strings.TrimPrefix(r.URL.Path, "/users/"),
			"name": "Ada",
		})
	}))
	t.Cleanup(userBackend.Close)

	dir := t.TempDir()
	agentsPath := filepath.Join(dir, "agents.json")
	agentsDoc := fmt.Sprintf(`{
	  "basePrompt": "You are part of Cubicler.",
	  "agents": [
	    {"identifier": "echo", "name": "Echo", "description": "test agent",
	     "transport": "http", "http": {"url": %q}}
	  ]
	}`, agentBackend.URL)
	if err := os.WriteFile(agentsPath, []byte(agentsDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	providersPath := filepath.Join(dir, "providers.json")
	providersDoc := fmt.Sprintf(`{
	  "mcpServers": [],
	  "restServers": [
	    {"identifier": "user_service", "name": "Users", "description": "user lookups",
	     "url": %q,
	     "endpoints": [
	       {"name": "getUser", "description": "Fetch one user",
	        "method": "GET", "path": "/users/{id}"}
	     ]}
	  ]
	}`, userBackend.URL)
	if err := os.WriteFile(providersPath, []byte(providersDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	settings := broker.DefaultSettings()
	settings.AgentsSource = agentsPath
	settings.ProvidersSource = providersPath

	b := broker.New(settings, logging.NewDiscardLogger())
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestBroker_DispatchEndToEnd(t *testing.T) {
	url := newBroker(t)

	body := `{"messages": [{"sender": {"id": "u"}, "type": "text", "content": "hi"}]}`
	resp, err := http.Post(url+"/dispatch", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out model.DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Sender.ID != "echo" {
		t.Errorf("sender = %+v", out.Sender)
	}
	// The agent's tool list holds the two internal tools plus getUser.
	if !strings.Contains(*out.Content, "saw 3 tools") {
		t.Errorf("content = %q", *out.Content)
	}
}

func TestBroker_McpToolRoundTrip(t *testing.T) {
	url := newBroker(t)

	// Discover the hashed tool name via tools/list.
	resp, err := http.Post(url+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		t.Fatal(err)
	}
	var listOut struct {
		Result struct {
			Tools []model.ToolDefinition `json:"tools"`
		} `json:"result"`
	}
	json.NewDecoder(resp.Body).Decode(&listOut)
	resp.Body.Close()

	var toolName string
	for _, tool := range listOut.Result.Tools {
		if strings.HasSuffix(tool.Name, "_get_user") {
			toolName = tool.Name
		}
	}
	if toolName == "" {
		t.Fatalf("get_user tool not listed: %+v", listOut.Result.Tools)
	}

	call := fmt.Sprintf(`{"jsonrpc":"2.0","id":2,"method":"tools/call",
	  "params":{"name":%q,"arguments":{"id":"42"}}}`, toolName)
	resp, err = http.Post(url+"/mcp", "application/json", strings.NewReader(call))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var callOut struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&callOut)
	if callOut.Error != nil {
		t.Fatalf("tools/call error: %s", callOut.Error.Message)
	}
	if !strings.Contains(string(callOut.Result), `"Ada"`) {
		t.Errorf("result = %s", callOut.Result)
	}
}

func TestBroker_HealthAndAgents(t *testing.T) {
	url := newBroker(t)

	resp, err := http.Get(url + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(url + "/agents")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Total int `json:"total"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Total != 1 {
		t.Errorf("total = %d", out.Total)
	}
}
