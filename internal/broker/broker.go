// Package broker is the composition root: it wires configuration
// repositories, provider services, agent transports, the dispatch pipeline
// and the HTTP surface into one runnable process.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cubicler/cubicler/internal/api"
	"github.com/cubicler/cubicler/pkg/agent"
	"github.com/cubicler/cubicler/pkg/auth"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/dispatch"
	"github.com/cubicler/cubicler/pkg/logging"
	"github.com/cubicler/cubicler/pkg/provider"
)

const (
	agentKillGrace    = 2 * time.Second
	mcpKillGrace      = 5 * time.Second
	shutdownGrace     = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Broker holds the wired subsystems.
type Broker struct {
	settings Settings
	logger   *slog.Logger

	agents    *config.AgentsRepository
	providers *config.ProvidersRepository
	webhooks  *config.WebhooksRepository

	repo    *provider.Repository
	mcp     *provider.McpService
	factory *agent.Factory
	server  *api.Server
}

// New wires a broker from settings. Nothing is started yet.
func New(settings Settings, logger *slog.Logger) *Broker {
	logBuffer := logging.NewLogBuffer(500)
	if logger == nil {
		logger = logging.NewStructuredLogger(logging.Config{
			Level:  settings.LogLevel,
			Format: settings.LogFormat,
			File:   settings.LogFile,
			Buffer: logBuffer,
		})
	}

	loader := config.NewLoader(settings.ConfigTimeout)
	agents := config.NewAgentsRepository(loader, settings.AgentsSource, settings.ConfigTTL)
	providers := config.NewProvidersRepository(loader, settings.ProvidersSource, settings.ConfigTTL)
	webhooks := config.NewWebhooksRepository(loader, settings.WebhooksSource, settings.ConfigTTL)

	repo := provider.NewRepository(providers)
	mcpSvc := provider.NewMcpService(repo, provider.TransportOptions{
		RequestTimeout: settings.McpTimeout,
		SSEOpenTimeout: settings.SSEOpenTimeout,
		KillGrace:      mcpKillGrace,
		Logger:         logging.WithComponent(logger, "mcp"),
	})
	restSvc := provider.NewRestService(repo, provider.RestOptions{
		StrictParams: settings.StrictParams,
		Logger:       logging.WithComponent(logger, "rest"),
	})
	internalSvc := provider.NewInternalService(repo, mcpSvc, restSvc)
	dispatcher := provider.NewDispatcher(internalSvc, mcpSvc, restSvc,
		logging.WithComponent(logger, "dispatcher"))

	hub := agent.NewHub()
	queueSize := settings.StdioQueueSize
	factory := agent.NewFactory(agent.FactoryOptions{
		DispatchTimeout:    settings.AgentTimeout,
		KillGrace:          agentKillGrace,
		Hub:                hub,
		Tools:              dispatcher,
		Resolver:           repo,
		Logger:             logging.WithComponent(logger, "agent"),
		SSEResponseTimeout: settings.SSEResponseTimeout,
		StdioDefaults: agent.StdioDefaults{
			MaxPoolSize:    settings.StdioMaxPool,
			MaxIdleMs:      int(settings.StdioMaxIdle / time.Millisecond),
			QueueTimeoutMs: int(settings.StdioQueueTimeout / time.Millisecond),
			QueueMaxSize:   &queueSize,
		},
	})

	dispatchSvc := dispatch.NewService(agents, repo, dispatcher, factory,
		dispatch.NewComposer(loader), logging.WithComponent(logger, "dispatch"))

	var verifier *auth.Verifier
	if settings.JWTSecret != "" {
		verifier = auth.NewVerifier(settings.JWTSecret, settings.JWTIssuer, settings.JWTAudience)
	}

	server := api.NewServer(api.Options{
		Dispatch: dispatchSvc,
		Tools:    dispatcher,
		Hub:      hub,
		Agents:   agents,
		Servers:  repo,
		Webhooks: webhooks,
		Mcp:      mcpSvc,
		Verifier: verifier,
		Logger:   logging.WithComponent(logger, "api"),
		Logs:     logBuffer,
	})

	return &Broker{
		settings:  settings,
		logger:    logger,
		agents:    agents,
		providers: providers,
		webhooks:  webhooks,
		repo:      repo,
		mcp:       mcpSvc,
		factory:   factory,
		server:    server,
	}
}

// Handler exposes the HTTP surface, mainly for tests.
func (b *Broker) Handler() http.Handler {
	return b.server.Handler()
}

// Run starts the broker and blocks until ctx is cancelled. MCP handshakes
// run up front; a backend that fails to initialize is logged and skipped,
// it does not abort startup.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.mcp.Start(ctx); err != nil {
		b.logger.Warn("mcp startup incomplete", "error", err)
	}
	b.logger.Info("mcp backends ready", "count", b.mcp.ReadyCount())

	b.startWatchers(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", b.settings.Port),
		Handler:           b.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("broker listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		b.shutdown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	b.shutdown()
	return err
}

func (b *Broker) shutdown() {
	b.factory.Close()
	b.mcp.Close()
	b.logger.Info("broker stopped")
}

// startWatchers invalidates config caches when local source files change.
// Remote sources only refresh via TTL.
func (b *Broker) startWatchers(ctx context.Context) {
	watchers := []*config.Watcher{
		config.NewWatcher(b.settings.AgentsSource, b.agents),
		config.NewWatcher(b.settings.ProvidersSource, b.providers),
	}
	if b.settings.WebhooksSource != "" {
		watchers = append(watchers, config.NewWatcher(b.settings.WebhooksSource, b.webhooks))
	}
	for _, w := range watchers {
		if w == nil {
			continue
		}
		w.SetLogger(logging.WithComponent(b.logger, "watch"))
		go func(w *config.Watcher) {
			if err := w.Watch(ctx); err != nil {
				b.logger.Error("config watcher stopped", "error", err)
			}
		}(w)
	}
}
