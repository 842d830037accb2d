// Package agent implements the four agent delivery transports behind one
// interface: request/response HTTP, SSE push over a broker-held stream, a
// pooled stdio subprocess runner, and the in-process direct provider.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/model"
)

// Defaults for agent transports.
const (
	// DefaultDispatchTimeout bounds one agent call end to end.
	DefaultDispatchTimeout = 90 * time.Second

	// DefaultSSEResponseTimeout is how long an SSE dispatch waits for the
	// agent to post its response back.
	DefaultSSEResponseTimeout = 300 * time.Second

	// DefaultKillGrace is how long a stdio agent worker gets between SIGTERM
	// and SIGKILL.
	DefaultKillGrace = 2 * time.Second

	// Stdio pool defaults; maxPoolSize includes the primary worker.
	DefaultMaxPoolSize  = 4
	DefaultMaxIdle      = 300 * time.Second
	DefaultQueueTimeout = 30 * time.Second
	DefaultQueueMaxSize = 100
)

// ErrNotConnected is returned by the SSE transport when the agent has no
// established stream.
var ErrNotConnected = errors.New("agent not connected")

// ErrPoolSaturated is returned when the stdio pool is at capacity and the
// waiter queue is full or the wait timed out.
var ErrPoolSaturated = errors.New("agent pool saturated")

// Transport delivers one dispatch to an agent and returns its response.
// Implementations service the agent's tool callbacks while the dispatch is
// outstanding where the transport owns that channel (stdio, direct).
type Transport interface {
	Dispatch(ctx context.Context, req *model.AgentRequest) (*model.AgentResponse, error)
}

// ToolDispatcher services agent-initiated MCP requests during a dispatch.
// The provider dispatcher implements it.
type ToolDispatcher interface {
	HandleRequest(ctx context.Context, req *jsonrpc.Request) jsonrpc.Response
}
