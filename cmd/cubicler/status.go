package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cubicler/cubicler/pkg/output"
	"github.com/cubicler/cubicler/pkg/provider"
)

var (
	statusURL   string
	statusToken string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show broker health, agents, and provider servers",
	Long: `Queries a running broker's /health, /agents, and /mcp endpoints and
renders the result. Use --url for a non-local broker and --token when the
broker enforces JWT auth.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:1503", "Broker base URL")
	statusCmd.Flags().StringVar(&statusToken, "token", "", "Bearer token for authenticated brokers")
}

type healthReply struct {
	Status string `json:"status"`
	Agents struct {
		Status string `json:"status"`
		Total  int    `json:"total"`
		Error  string `json:"error"`
	} `json:"agents"`
	Providers struct {
		Status string `json:"status"`
		Total  int    `json:"total"`
		Ready  int    `json:"ready"`
		Error  string `json:"error"`
	} `json:"providers"`
}

type agentsReply struct {
	Total  int `json:"total"`
	Agents []struct {
		Identifier  string `json:"identifier"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"agents"`
}

func runStatus() error {
	printer := output.New()
	client := &http.Client{Timeout: 10 * time.Second}

	var health healthReply
	if err := getJSON(client, statusURL+"/health", &health); err != nil {
		return fmt.Errorf("querying broker health: %w", err)
	}

	firstError := health.Agents.Error
	if firstError == "" {
		firstError = health.Providers.Error
	}
	printer.Health(output.HealthSummary{
		Status:    health.Status,
		Agents:    health.Agents.Total,
		Providers: health.Providers.Total,
		McpReady:  health.Providers.Ready,
		Error:     firstError,
	})

	var agents agentsReply
	if err := getJSON(client, statusURL+"/agents", &agents); err != nil {
		printer.Warn("could not list agents", "error", err)
		return nil
	}

	summaries := make([]output.AgentSummary, 0, len(agents.Agents))
	for _, a := range agents.Agents {
		summaries = append(summaries, output.AgentSummary{
			Identifier:  a.Identifier,
			Name:        a.Name,
			Description: a.Description,
		})
	}
	printer.Agents(summaries)

	servers, err := listServers(client)
	if err != nil {
		printer.Warn("could not list servers", "error", err)
		return nil
	}
	printer.Servers(servers)

	return nil
}

// listServers asks the broker's MCP endpoint for the server inventory, the
// same view agents get from the built-in discovery tool.
func listServers(client *http.Client) ([]output.ServerSummary, error) {
	call := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": provider.ToolAvailableServers},
	}
	body, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, statusURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if statusToken != "" {
		req.Header.Set("Authorization", "Bearer "+statusToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s/mcp", resp.StatusCode, statusURL)
	}

	var reply struct {
		Result struct {
			Servers []struct {
				Identifier  string `json:"identifier"`
				Name        string `json:"name"`
				Description string `json:"description"`
				ToolsCount  int    `json:"toolsCount"`
			} `json:"servers"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("broker error: %s", reply.Error.Message)
	}

	summaries := make([]output.ServerSummary, 0, len(reply.Result.Servers))
	for _, s := range reply.Result.Servers {
		summaries = append(summaries, output.ServerSummary{
			Identifier:  s.Identifier,
			Name:        s.Name,
			Tools:       s.ToolsCount,
			Description: s.Description,
		})
	}
	return summaries, nil
}

func getJSON(client *http.Client, url string, v any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if statusToken != "" {
		req.Header.Set("Authorization", "Bearer "+statusToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// /health answers 503 with a body when degraded; still decode it.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
