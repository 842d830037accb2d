package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/model"
	"github.com/cubicler/cubicler/pkg/naming"
)

// ErrUnknownTool is returned when no service owns the requested tool name.
var ErrUnknownTool = errors.New("unknown tool")

// ToolService is one source of callable tools. Routing asks each service in
// turn whether it owns a name.
type ToolService interface {
	CanHandle(name string) bool
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Dispatcher is the broker's MCP server face. It answers initialize,
// tools/list and tools/call over every configured backend plus the internal
// tools.
type Dispatcher struct {
	internal *InternalService
	mcp      *McpService
	rest     *RestService
	logger   *slog.Logger
}

// NewDispatcher wires the three tool sources together.
func NewDispatcher(internal *InternalService, mcp *McpService, rest *RestService, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{internal: internal, mcp: mcp, rest: rest, logger: logger}
}

// AllTools aggregates the internal tools with every backend's tools.
func (d *Dispatcher) AllTools(ctx context.Context) ([]model.ToolDefinition, error) {
	tools := d.internal.Tools()

	mcpTools, err := d.mcp.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}
	tools = append(tools, mcpTools...)

	restTools, err := d.rest.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}
	return append(tools, restTools...), nil
}

// CallTool routes one tool call to the owning service. Internal tools are
// checked first so backends can never shadow them.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	for _, svc := range []ToolService{d.internal, d.mcp, d.rest} {
		if svc.CanHandle(name) {
			return svc.CallTool(ctx, name, args)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

// HandleRequest serves one JSON-RPC request on the broker's MCP surface.
// It always returns a response; protocol failures are mapped to JSON-RPC
// error codes rather than transport errors.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *jsonrpc.Request) jsonrpc.Response {
	switch req.Method {
	case "initialize":
		return jsonrpc.NewSuccessResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "cubicler", Version: "1.0.0"},
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
		})

	case "tools/list":
		tools, err := d.AllTools(ctx)
		if err != nil {
			d.logger.Error("tools/list failed", "error", err)
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InternalError, err.Error())
		}
		return jsonrpc.NewSuccessResponse(req.ID, map[string]any{"tools": tools})

	case "tools/call":
		var params ToolCallParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams, "malformed tools/call params")
			}
		}
		if params.Name == "" {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams, "tool name is required")
		}

		result, err := d.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return d.callError(req.ID, params.Name, err)
		}
		resp := jsonrpc.Response{JSONRPC: "2.0", ID: req.ID, Result: result}
		return resp

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// callError shapes a tool call failure. Backend JSON-RPC errors pass through
// unchanged; unroutable names are method-not-found; everything else is an
// internal error.
func (d *Dispatcher) callError(id *json.RawMessage, name string, err error) jsonrpc.Response {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return jsonrpc.Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	}
	if errors.Is(err, ErrUnknownTool) || errors.Is(err, ErrUnknownServer) || errors.Is(err, naming.ErrMalformedToolName) {
		return jsonrpc.NewErrorResponse(id, jsonrpc.MethodNotFound, err.Error())
	}
	d.logger.Error("tool call failed", "tool", name, "error", err)
	return jsonrpc.NewErrorResponse(id, jsonrpc.InternalError, err.Error())
}
