// Package dispatch implements the broker's top-level pipeline: validate the
// request, resolve the agent, assemble its context in parallel, deliver over
// the agent's transport, and normalize the response.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cubicler/cubicler/pkg/access"
	"github.com/cubicler/cubicler/pkg/agent"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/logging"
	"github.com/cubicler/cubicler/pkg/model"
	"github.com/cubicler/cubicler/pkg/provider"
)

// ErrInvalidRequest is returned for dispatches with no messages.
var ErrInvalidRequest = fmt.Errorf("dispatch request has no messages")

// ToolSurface is the dispatch pipeline's view of the MCP dispatcher.
type ToolSurface interface {
	AllTools(ctx context.Context) ([]model.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Service orchestrates one dispatch end to end.
type Service struct {
	agents   *config.AgentsRepository
	servers  *provider.Repository
	tools    ToolSurface
	factory  *agent.Factory
	composer *Composer
	logger   *slog.Logger
}

// NewService wires the pipeline.
func NewService(agents *config.AgentsRepository, servers *provider.Repository, tools ToolSurface, factory *agent.Factory, composer *Composer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		agents:   agents,
		servers:  servers,
		tools:    tools,
		factory:  factory,
		composer: composer,
		logger:   logger,
	}
}

// Dispatch runs the pipeline. agentID may be empty for the default agent.
// Validation and agent-resolution failures return an error; any failure
// after the agent is resolved is shaped into a text DispatchResponse so the
// client always learns which agent failed.
func (s *Service) Dispatch(ctx context.Context, agentID string, req *model.DispatchRequest) (*model.DispatchResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, ErrInvalidRequest
	}

	agentCfg, err := s.resolveAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	log := logging.WithRequestID(s.logger, uuid.NewString())
	log.Debug("dispatching", "agent", agentCfg.Identifier, "messages", len(req.Messages))

	resp, err := s.run(ctx, agentCfg, req)
	if err != nil {
		log.Error("dispatch failed", "agent", agentCfg.Identifier, "error", err)
		return errorResponse(agentCfg, err), nil
	}
	return resp, nil
}

func (s *Service) resolveAgent(ctx context.Context, agentID string) (*config.AgentConfig, error) {
	if agentID != "" {
		return s.agents.AgentByIdentifier(ctx, agentID)
	}
	return s.agents.DefaultAgent(ctx)
}

// run assembles the agent's context and performs the transport call.
func (s *Service) run(ctx context.Context, agentCfg *config.AgentConfig, req *model.DispatchRequest) (*model.DispatchResponse, error) {
	var (
		agentsDoc   *config.AgentsConfig
		agentPrompt string
		servers     []model.ServerSummary
		tools       []model.ToolDefinition
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agentsDoc, err = s.agents.AgentsConfig(gctx)
		if err != nil {
			return err
		}
		agentPrompt, err = s.composer.AgentPrompt(gctx, agentsDoc, agentCfg)
		return err
	})
	g.Go(func() error {
		var err error
		servers, err = s.availableServers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		tools, err = s.tools.AllTools(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	evaluator := access.NewEvaluator(agentCfg, s.servers)
	servers = evaluator.FilterServers(servers)
	tools = evaluator.FilterTools(tools)

	agentReq := &model.AgentRequest{
		Agent: model.AgentInfo{
			Identifier:  agentCfg.Identifier,
			Name:        agentCfg.Name,
			Description: agentCfg.Description,
			Prompt:      Compose(agentsDoc.BasePrompt, agentPrompt, servers),
		},
		Tools:    tools,
		Servers:  servers,
		Messages: req.Messages,
	}

	transport, err := s.factory.TransportFor(agentCfg)
	if err != nil {
		return nil, err
	}

	agentResp, err := transport.Dispatch(ctx, agentReq)
	if err != nil {
		return nil, err
	}
	if err := agentResp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent response: %w", err)
	}

	return &model.DispatchResponse{
		Sender:    model.Sender{ID: agentCfg.Identifier, Name: agentCfg.Name},
		Timestamp: agentResp.Timestamp,
		Type:      agentResp.Type,
		Content:   agentResp.Content,
		Metadata:  *agentResp.Metadata,
	}, nil
}

// availableServers reads the server summaries through the internal tool so
// the dispatch pipeline sees exactly what agents would see.
func (s *Service) availableServers(ctx context.Context) ([]model.ServerSummary, error) {
	raw, err := s.tools.CallTool(ctx, provider.ToolAvailableServers, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Servers []model.ServerSummary `json:"servers"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling available servers: %w", err)
	}
	return result.Servers, nil
}

// errorResponse shapes a post-resolution failure into the error-shaped
// DispatchResponse contract: text type, zeroed usage counters, resolved
// sender.
func errorResponse(agentCfg *config.AgentConfig, err error) *model.DispatchResponse {
	return &model.DispatchResponse{
		Sender:    model.Sender{ID: agentCfg.Identifier, Name: agentCfg.Name},
		Timestamp: model.Now(),
		Type:      model.MessageTypeText,
		Content:   model.StringPtr(fmt.Sprintf("Dispatch failed: %v", err)),
		Metadata:  model.ResponseMetadata{UsedToken: 0, UsedTools: 0},
	}
}
