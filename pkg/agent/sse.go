package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cubicler/cubicler/pkg/model"
)

// StreamWriter is one established agent SSE connection. The HTTP layer
// implements it over the response writer.
type StreamWriter interface {
	// Send emits one SSE frame: id, event name, JSON data.
	Send(id, event string, data []byte) error
}

// pendingDispatch is one parked SSE dispatch awaiting the agent's post-back.
type pendingDispatch struct {
	agentID string
	ch      chan *model.AgentResponse
}

// Hub tracks agent SSE connections and the dispatches parked on them. One
// connection per agent identifier; a reconnect replaces the old stream and
// rejects everything parked on it.
type Hub struct {
	mu      sync.Mutex
	conns   map[string]StreamWriter
	pending map[string]pendingDispatch
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:   make(map[string]StreamWriter),
		pending: make(map[string]pendingDispatch),
	}
}

// RegisterAgentConnection installs the agent's stream, replacing any
// previous one.
func (h *Hub) RegisterAgentConnection(agentID string, w StreamWriter) {
	h.mu.Lock()
	_, had := h.conns[agentID]
	h.conns[agentID] = w
	h.mu.Unlock()
	if had {
		h.rejectPending(agentID)
	}
}

// Disconnect removes the agent's stream and rejects every dispatch parked
// on it.
func (h *Hub) Disconnect(agentID string) {
	h.mu.Lock()
	delete(h.conns, agentID)
	h.mu.Unlock()
	h.rejectPending(agentID)
}

// IsConnected reports whether the agent has an established stream.
func (h *Hub) IsConnected(agentID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[agentID]
	return ok
}

// HandleAgentResponse resolves the parked dispatch for a request id. Unknown
// ids are reported so the HTTP layer can answer 404.
func (h *Hub) HandleAgentResponse(requestID string, resp *model.AgentResponse) error {
	h.mu.Lock()
	p, ok := h.pending[requestID]
	if ok {
		delete(h.pending, requestID)
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending dispatch for request %q", requestID)
	}
	p.ch <- resp
	return nil
}

func (h *Hub) rejectPending(agentID string) {
	h.mu.Lock()
	for rid, p := range h.pending {
		if p.agentID == agentID {
			close(p.ch)
			delete(h.pending, rid)
		}
	}
	h.mu.Unlock()
}

// SSETransport dispatches by pushing an agent_request frame down the agent's
// stream and parking until the agent posts the response back.
type SSETransport struct {
	hub     *Hub
	agentID string
	timeout time.Duration
}

// NewSSETransport creates a transport bound to one agent's stream.
func NewSSETransport(hub *Hub, agentID string, responseTimeout time.Duration) *SSETransport {
	if responseTimeout <= 0 {
		responseTimeout = DefaultSSEResponseTimeout
	}
	return &SSETransport{hub: hub, agentID: agentID, timeout: responseTimeout}
}

func (t *SSETransport) Dispatch(ctx context.Context, req *model.AgentRequest) (*model.AgentResponse, error) {
	t.hub.mu.Lock()
	w, connected := t.hub.conns[t.agentID]
	if !connected {
		t.hub.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, t.agentID)
	}
	rid := uuid.NewString()
	ch := make(chan *model.AgentResponse, 1)
	t.hub.pending[rid] = pendingDispatch{agentID: t.agentID, ch: ch}
	t.hub.mu.Unlock()

	abandon := func() {
		t.hub.mu.Lock()
		delete(t.hub.pending, rid)
		t.hub.mu.Unlock()
	}

	data, err := json.Marshal(req)
	if err != nil {
		abandon()
		return nil, fmt.Errorf("marshaling agent request: %w", err)
	}
	if err := w.Send(rid, "agent_request", data); err != nil {
		abandon()
		return nil, fmt.Errorf("pushing agent request: %w", err)
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: stream closed while waiting", ErrNotConnected)
		}
		if err := resp.Validate(); err != nil {
			return nil, fmt.Errorf("invalid agent response: %w", err)
		}
		return resp, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("timeout waiting for agent %s response", t.agentID)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}
