package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/model"
)

// DefaultMaxIterations caps the direct transport's tool-call loop.
const DefaultMaxIterations = 10

// ChatClient captures the subset of the go-openai client the direct
// transport uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// DirectTransport runs the agent in process against an OpenAI-compatible
// provider. It drives the chat completion tool loop itself, servicing tool
// calls through the MCP dispatcher with the request's filtered tool set as
// the allow list.
type DirectTransport struct {
	cfg    config.DirectAgentTransport
	tools  ToolDispatcher
	logger *slog.Logger

	// newClient is a seam for tests; defaults to a real go-openai client.
	newClient func(cfg config.DirectAgentTransport) ChatClient

	requestID atomic.Int64
}

// NewDirectTransport creates the transport. Only the "openai" provider is
// supported.
func NewDirectTransport(cfg config.DirectAgentTransport, tools ToolDispatcher, logger *slog.Logger) (*DirectTransport, error) {
	if cfg.Provider != "openai" {
		return nil, fmt.Errorf("unsupported direct provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("direct transport requires an API key")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("direct transport requires a model")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectTransport{
		cfg:       cfg,
		tools:     tools,
		logger:    logger,
		newClient: newOpenAIClient,
	}, nil
}

func newOpenAIClient(cfg config.DirectAgentTransport) ChatClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

func (t *DirectTransport) Dispatch(ctx context.Context, req *model.AgentRequest) (*model.AgentResponse, error) {
	client := t.newClient(t.cfg)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.Agent.Prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Agent.Prompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m, req.Agent.Identifier))
	}

	tools := make([]openai.Tool, 0, len(req.Tools))
	allowed := make(map[string]bool, len(req.Tools))
	for _, def := range req.Tools {
		allowed[def.Name] = true
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	maxIterations := t.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	usedToken := 0
	usedTools := 0

	for i := 0; i < maxIterations; i++ {
		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       t.cfg.Model,
			Messages:    messages,
			Temperature: t.cfg.Temperature,
			Tools:       tools,
		})
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		usedToken += resp.Usage.TotalTokens
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chat completion returned no choices")
		}

		choice := resp.Choices[0].Message
		if len(choice.ToolCalls) == 0 {
			return &model.AgentResponse{
				Timestamp: model.Now(),
				Type:      model.MessageTypeText,
				Content:   model.StringPtr(choice.Content),
				Metadata:  &model.ResponseMetadata{UsedToken: usedToken, UsedTools: usedTools},
			}, nil
		}

		messages = append(messages, choice)
		for _, call := range choice.ToolCalls {
			usedTools++
			result := t.callTool(ctx, call, allowed)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}

	return nil, fmt.Errorf("agent exceeded %d tool iterations", maxIterations)
}

// callTool services one provider tool call through the MCP dispatcher.
// Failures come back as text so the model can react instead of the dispatch
// aborting.
func (t *DirectTransport) callTool(ctx context.Context, call openai.ToolCall, allowed map[string]bool) string {
	name := call.Function.Name
	if !allowed[name] {
		return fmt.Sprintf(`{"error":"tool %q is not available"}`, name)
	}

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf(`{"error":"malformed tool arguments: %v"}`, err)
		}
	}

	req, err := jsonrpc.NewRequest(t.requestID.Add(1), "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	resp := t.tools.HandleRequest(ctx, &req)
	if resp.Error != nil {
		t.logger.Warn("direct tool call failed", "tool", name, "error", resp.Error)
		data, _ := json.Marshal(map[string]any{"error": resp.Error.Message})
		return string(data)
	}
	return string(resp.Result)
}

// convertMessage maps one conversation message to a chat message. Image and
// URL messages become text descriptions; the provider never sees raw binary.
func convertMessage(m model.Message, agentID string) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if m.Sender.ID == agentID {
		role = openai.ChatMessageRoleAssistant
	}

	content := ""
	if m.Content != nil {
		content = *m.Content
	}

	switch m.Type {
	case model.MessageTypeImage:
		if m.FileName != "" {
			content = fmt.Sprintf("[Image content]: %s (%s)", content, m.FileName)
		} else {
			content = "[Image content]: " + content
		}
	case model.MessageTypeURL:
		content = "[URL reference]: " + content
	}

	return openai.ChatCompletionMessage{Role: role, Content: content}
}
