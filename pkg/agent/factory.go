package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cubicler/cubicler/pkg/access"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/model"
)

// FactoryOptions carries the shared dependencies agent transports need.
type FactoryOptions struct {
	DispatchTimeout time.Duration
	KillGrace       time.Duration
	Hub             *Hub
	Tools           ToolDispatcher
	// Resolver maps tool-name tokens to server identifiers for the
	// restriction guard on agent tool callbacks.
	Resolver access.ServerResolver
	Logger   *slog.Logger

	// SSEResponseTimeout applies when the agent config does not override it.
	SSEResponseTimeout time.Duration
	// StdioDefaults fill zero-valued pool fields in agent stdio configs.
	StdioDefaults StdioDefaults
}

// StdioDefaults are process-wide fallbacks for stdio pool tuning.
type StdioDefaults struct {
	MaxPoolSize    int
	MaxIdleMs      int
	QueueTimeoutMs int
	QueueMaxSize   *int
}

// Factory builds the right transport for an agent's config. Stdio pools are
// cached per agent identifier so workers survive across dispatches; the
// other transports are cheap to construct.
type Factory struct {
	opts FactoryOptions

	mu    sync.Mutex
	pools map[string]*StdioPool
}

// NewFactory creates a factory.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	return &Factory{opts: opts, pools: make(map[string]*StdioPool)}
}

// Hub exposes the SSE hub for the HTTP layer.
func (f *Factory) Hub() *Hub {
	return f.opts.Hub
}

// guardedTools wraps the shared tool dispatcher with the agent's
// restriction checks, so callbacks a transport services in-process cannot
// reach tools the dispatch filtered out. Unrestricted agents use the shared
// dispatcher directly.
func (f *Factory) guardedTools(agent *config.AgentConfig) ToolDispatcher {
	if f.opts.Tools == nil {
		return nil
	}
	eval := access.NewEvaluator(agent, f.opts.Resolver)
	if eval.Unrestricted() {
		return f.opts.Tools
	}
	return eval.Guard(f.opts.Tools)
}

// TransportFor returns the transport for one agent.
func (f *Factory) TransportFor(agent *config.AgentConfig) (Transport, error) {
	switch agent.Transport {
	case config.TransportHTTP:
		if agent.HTTP == nil {
			return nil, fmt.Errorf("agent %s: missing http config", agent.Identifier)
		}
		return NewHTTPTransport(*agent.HTTP, f.opts.DispatchTimeout)

	case config.TransportSSE:
		timeout := f.opts.SSEResponseTimeout
		if agent.SSE != nil && agent.SSE.ResponseTimeout != "" {
			d, err := time.ParseDuration(agent.SSE.ResponseTimeout)
			if err != nil {
				return nil, fmt.Errorf("agent %s: invalid responseTimeout: %w", agent.Identifier, err)
			}
			timeout = d
		}
		return NewSSETransport(f.opts.Hub, agent.Identifier, timeout), nil

	case config.TransportStdio:
		if agent.Stdio == nil {
			return nil, fmt.Errorf("agent %s: missing stdio config", agent.Identifier)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if pool, ok := f.pools[agent.Identifier]; ok {
			return &stdioDispatch{pool: pool, tools: f.guardedTools(agent)}, nil
		}
		cfg := *agent.Stdio
		d := f.opts.StdioDefaults
		if cfg.MaxPoolSize == 0 {
			cfg.MaxPoolSize = d.MaxPoolSize
		}
		if cfg.MaxIdleMs == 0 {
			cfg.MaxIdleMs = d.MaxIdleMs
		}
		if cfg.QueueTimeout == 0 {
			cfg.QueueTimeout = d.QueueTimeoutMs
		}
		if cfg.QueueMaxSize == nil {
			cfg.QueueMaxSize = d.QueueMaxSize
		}
		pool := NewStdioPool(cfg, StdioPoolOptions{
			DispatchTimeout: f.opts.DispatchTimeout,
			KillGrace:       f.opts.KillGrace,
			Logger:          f.opts.Logger,
			Tools:           f.opts.Tools,
		})
		f.pools[agent.Identifier] = pool
		return &stdioDispatch{pool: pool, tools: f.guardedTools(agent)}, nil

	case config.TransportDirect:
		if agent.Direct == nil {
			return nil, fmt.Errorf("agent %s: missing direct config", agent.Identifier)
		}
		return NewDirectTransport(*agent.Direct, f.guardedTools(agent), f.opts.Logger)

	default:
		return nil, fmt.Errorf("agent %s: unknown transport %q", agent.Identifier, agent.Transport)
	}
}

// stdioDispatch binds a cached stdio pool to one agent's guarded tool
// dispatcher for the duration of each dispatch. Pools are shared per agent
// identifier; the guard reflects whatever restriction lists the current
// config carries.
type stdioDispatch struct {
	pool  *StdioPool
	tools ToolDispatcher
}

func (d *stdioDispatch) Dispatch(ctx context.Context, req *model.AgentRequest) (*model.AgentResponse, error) {
	return d.pool.DispatchWith(ctx, req, d.tools)
}

// Close shuts down every cached stdio pool.
func (f *Factory) Close() {
	f.mu.Lock()
	pools := f.pools
	f.pools = make(map[string]*StdioPool)
	f.mu.Unlock()

	for _, pool := range pools {
		pool.Close()
	}
}
