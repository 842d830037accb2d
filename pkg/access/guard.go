package access

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/model"
)

// RequestHandler mirrors the MCP dispatcher's entrypoint so the guard can
// wrap it without depending on the provider package.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *jsonrpc.Request) jsonrpc.Response
}

// Guard enforces an evaluator on an agent's tool callback channel. A
// disallowed tools/call answers MethodNotFound without reaching the backend,
// and tools/list results are filtered to the agent's view, so a restricted
// tool is invisible and uncallable even when the agent names it directly.
type Guard struct {
	eval  *Evaluator
	inner RequestHandler
}

// Guard wraps inner with this evaluator's checks.
func (e *Evaluator) Guard(inner RequestHandler) *Guard {
	return &Guard{eval: e, inner: inner}
}

// HandleRequest applies the restriction checks, then delegates.
func (g *Guard) HandleRequest(ctx context.Context, req *jsonrpc.Request) jsonrpc.Response {
	switch req.Method {
	case "tools/call":
		var params struct {
			Name string `json:"name"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams, "malformed tools/call params")
			}
		}
		if params.Name != "" && !g.eval.ToolAllowed(params.Name) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound,
				fmt.Sprintf("unknown tool %q", params.Name))
		}
		return g.inner.HandleRequest(ctx, req)

	case "tools/list":
		resp := g.inner.HandleRequest(ctx, req)
		if resp.Error != nil || len(resp.Result) == 0 {
			return resp
		}
		var result struct {
			Tools []model.ToolDefinition `json:"tools"`
		}
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return resp
		}
		return jsonrpc.NewSuccessResponse(req.ID, map[string]any{"tools": g.eval.FilterTools(result.Tools)})

	default:
		return g.inner.HandleRequest(ctx, req)
	}
}
