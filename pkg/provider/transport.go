package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cubicler/cubicler/pkg/auth"
	"github.com/cubicler/cubicler/pkg/config"
)

// ErrTransportClosed is returned for requests on a closed transport, and is
// the rejection delivered to callers left pending when a connection drops.
var ErrTransportClosed = errors.New("transport closed")

// TransportOptions tunes transport construction.
type TransportOptions struct {
	RequestTimeout time.Duration
	SSEOpenTimeout time.Duration
	KillGrace      time.Duration
	Logger         *slog.Logger
}

func (o *TransportOptions) fill() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.SSEOpenTimeout <= 0 {
		o.SSEOpenTimeout = DefaultSSEOpenTimeout
	}
	if o.KillGrace <= 0 {
		o.KillGrace = DefaultKillGrace
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// NewTransport builds a transport for one configured MCP server.
func NewTransport(cfg config.McpServerConfig, opts TransportOptions) (Transport, error) {
	opts.fill()

	tokens, err := auth.SourceFromConfig(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("server %s auth: %w", cfg.Identifier, err)
	}

	switch cfg.Transport {
	case config.McpTransportHTTP:
		return newHTTPTransport(cfg, tokens, opts), nil
	case config.McpTransportSSE:
		return newSSETransport(cfg, tokens, opts), nil
	case config.McpTransportStdio:
		return newStdioTransport(cfg, opts), nil
	default:
		return nil, fmt.Errorf("server %s: unsupported transport %q", cfg.Identifier, cfg.Transport)
	}
}
