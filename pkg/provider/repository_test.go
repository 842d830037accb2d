package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/naming"
)

// testEnv is the fixture most provider tests share: a providers document on
// disk behind its repositories.
type testEnv struct {
	repo      *Repository
	providers *config.ProvidersRepository
	path      string
}

// newTestRepository writes a providers document to a temp file and returns
// repositories over it.
func newTestRepository(t *testing.T, doc string) testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing providers doc: %v", err)
	}
	providers := config.NewProvidersRepository(config.NewLoader(0), path, time.Minute)
	return testEnv{repo: NewRepository(providers), providers: providers, path: path}
}

const testProvidersDoc = `{
  "mcpServers": [
    {
      "identifier": "weather-api",
      "name": "Weather API",
      "description": "Forecasts",
      "transport": "http",
      "url": "https://weather.example.com/mcp"
    }
  ],
  "restServers": [
    {
      "identifier": "user_service",
      "name": "User Service",
      "description": "Accounts",
      "url": "https://users.example.com",
      "endpoints": [
        {
          "name": "getUser",
          "description": "Fetch one user",
          "method": "GET",
          "path": "/users/{id}"
        }
      ]
    }
  ]
}`

func TestRepository_Servers(t *testing.T) {
	repo := newTestRepository(t, testProvidersDoc).repo

	servers, err := repo.Servers(context.Background())
	if err != nil {
		t.Fatalf("Servers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}

	// MCP servers come first, identifiers are snake_case.
	if servers[0].Identifier != "weather_api" || servers[0].Kind != KindMCP {
		t.Errorf("unexpected first server: %+v", servers[0])
	}
	if servers[1].Identifier != "user_service" || servers[1].Kind != KindREST {
		t.Errorf("unexpected second server: %+v", servers[1])
	}

	// Tokens hash the raw identifier and endpoint hint.
	want := naming.ServerHash("weather-api", "https://weather.example.com/mcp")
	if servers[0].Token != want {
		t.Errorf("token = %q, want %q", servers[0].Token, want)
	}
}

func TestRepository_IdentifierForToken(t *testing.T) {
	repo := newTestRepository(t, testProvidersDoc).repo

	// Token lookup reads the derived snapshot; populate it first.
	if _, err := repo.Servers(context.Background()); err != nil {
		t.Fatalf("Servers: %v", err)
	}

	token := naming.ServerHash("user_service", "https://users.example.com")
	ident, ok := repo.IdentifierForToken(token)
	if !ok || ident != "user_service" {
		t.Fatalf("IdentifierForToken(%q) = %q, %v", token, ident, ok)
	}
	if _, ok := repo.IdentifierForToken("ffffff"); ok {
		t.Error("expected unknown token to miss")
	}
}

func TestRepository_UnknownServer(t *testing.T) {
	repo := newTestRepository(t, testProvidersDoc).repo

	_, err := repo.ServerByIdentifier(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer, got %v", err)
	}
	_, err = repo.McpConfig(context.Background(), "user_service")
	if !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer for rest server via McpConfig, got %v", err)
	}
}

func TestRepository_ToolCountsSurviveRefresh(t *testing.T) {
	env := newTestRepository(t, testProvidersDoc)
	ctx := context.Background()

	if _, err := env.repo.Servers(ctx); err != nil {
		t.Fatalf("Servers: %v", err)
	}
	env.repo.UpdateToolCount("weather_api", 7)

	// Change the document so the digest moves, then drop the config cache.
	updated := strings.Replace(testProvidersDoc, "Forecasts", "Forecasts v2", 1)
	if err := os.WriteFile(env.path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewriting doc: %v", err)
	}
	env.providers.Invalidate()

	servers, err := env.repo.Servers(ctx)
	if err != nil {
		t.Fatalf("Servers after rewrite: %v", err)
	}
	for _, s := range servers {
		if s.Identifier == "weather_api" && s.ToolsCount != 7 {
			t.Errorf("tool count lost across refresh: %d", s.ToolsCount)
		}
	}
}

func TestRepository_AvailableServers(t *testing.T) {
	repo := newTestRepository(t, testProvidersDoc).repo

	summaries, err := repo.AvailableServers(context.Background())
	if err != nil {
		t.Fatalf("AvailableServers: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Identifier != "weather_api" || summaries[0].Name != "Weather API" {
		t.Errorf("unexpected summary: %+v", summaries[0])
	}
}
