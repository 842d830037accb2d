package config

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a loaded document is served before the source
// is consulted again.
const DefaultCacheTTL = 60 * time.Second

// cached holds one TTL-cached configuration snapshot. Readers see either the
// previous snapshot or the new one, never a partial document.
type cached[T any] struct {
	load func(ctx context.Context) (*T, error)
	ttl  time.Duration

	mu        sync.Mutex
	value     *T
	fetchedAt time.Time
}

func newCached[T any](ttl time.Duration, load func(ctx context.Context) (*T, error)) *cached[T] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &cached[T]{load: load, ttl: ttl}
}

// get returns the cached snapshot, reloading when the TTL has elapsed. A
// failed reload falls back to the previous snapshot if one exists.
func (c *cached[T]) get(ctx context.Context) (*T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.value, nil
	}

	fresh, err := c.load(ctx)
	if err != nil {
		if c.value != nil {
			return c.value, nil
		}
		return nil, err
	}

	c.value = fresh
	c.fetchedAt = time.Now()
	return c.value, nil
}

// invalidate drops the cached snapshot so the next read reloads.
func (c *cached[T]) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

// AgentsRepository serves the agents document with typed lookups.
type AgentsRepository struct {
	source string
	cache  *cached[AgentsConfig]
}

// NewAgentsRepository creates a repository reading from the given source.
func NewAgentsRepository(loader *Loader, source string, ttl time.Duration) *AgentsRepository {
	return &AgentsRepository{
		source: source,
		cache: newCached(ttl, func(ctx context.Context) (*AgentsConfig, error) {
			var cfg AgentsConfig
			if err := loader.Load(ctx, source, &cfg); err != nil {
				return nil, err
			}
			if err := ValidateAgents(&cfg); err != nil {
				return nil, err
			}
			return &cfg, nil
		}),
	}
}

// AgentsConfig returns the current snapshot.
func (r *AgentsRepository) AgentsConfig(ctx context.Context) (*AgentsConfig, error) {
	return r.cache.get(ctx)
}

// AgentByIdentifier resolves one agent. ErrUnknownAgent when the id is not
// configured.
func (r *AgentsRepository) AgentByIdentifier(ctx context.Context, id string) (*AgentConfig, error) {
	cfg, err := r.AgentsConfig(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].Identifier == id {
			return &cfg.Agents[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
}

// DefaultAgent returns the first configured agent. ErrNoAgents when the list
// is empty.
func (r *AgentsRepository) DefaultAgent(ctx context.Context) (*AgentConfig, error) {
	cfg, err := r.AgentsConfig(ctx)
	if err != nil {
		return nil, err
	}
	if len(cfg.Agents) == 0 {
		return nil, ErrNoAgents
	}
	return &cfg.Agents[0], nil
}

// Invalidate drops the cached snapshot.
func (r *AgentsRepository) Invalidate() {
	r.cache.invalidate()
}

// Source returns the configured source for watching.
func (r *AgentsRepository) Source() string {
	return r.source
}

// ProvidersRepository serves the providers document. Derived server metadata
// lives in the provider package; this repository only owns the snapshot.
type ProvidersRepository struct {
	source string
	cache  *cached[ProvidersConfig]
}

// NewProvidersRepository creates a repository reading from the given source.
func NewProvidersRepository(loader *Loader, source string, ttl time.Duration) *ProvidersRepository {
	return &ProvidersRepository{
		source: source,
		cache: newCached(ttl, func(ctx context.Context) (*ProvidersConfig, error) {
			var cfg ProvidersConfig
			if err := loader.Load(ctx, source, &cfg); err != nil {
				return nil, err
			}
			if err := ValidateProviders(&cfg); err != nil {
				return nil, err
			}
			return &cfg, nil
		}),
	}
}

// ProvidersConfig returns the current snapshot.
func (r *ProvidersRepository) ProvidersConfig(ctx context.Context) (*ProvidersConfig, error) {
	return r.cache.get(ctx)
}

// Invalidate drops the cached snapshot.
func (r *ProvidersRepository) Invalidate() {
	r.cache.invalidate()
}

// Source returns the configured source for watching.
func (r *ProvidersRepository) Source() string {
	return r.source
}

// WebhooksRepository serves the webhooks document.
type WebhooksRepository struct {
	source string
	cache  *cached[WebhooksConfig]
}

// NewWebhooksRepository creates a repository reading from the given source.
// An empty source yields an empty document.
func NewWebhooksRepository(loader *Loader, source string, ttl time.Duration) *WebhooksRepository {
	return &WebhooksRepository{
		source: source,
		cache: newCached(ttl, func(ctx context.Context) (*WebhooksConfig, error) {
			if source == "" {
				return &WebhooksConfig{}, nil
			}
			var cfg WebhooksConfig
			if err := loader.Load(ctx, source, &cfg); err != nil {
				return nil, err
			}
			if err := ValidateWebhooks(&cfg); err != nil {
				return nil, err
			}
			return &cfg, nil
		}),
	}
}

// WebhookByIdentifier resolves one webhook.
func (r *WebhooksRepository) WebhookByIdentifier(ctx context.Context, id string) (*WebhookConfig, error) {
	cfg, err := r.cache.get(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Webhooks {
		if cfg.Webhooks[i].Identifier == id {
			return &cfg.Webhooks[i], nil
		}
	}
	return nil, fmt.Errorf("unknown webhook: %q", id)
}

// Invalidate drops the cached snapshot.
func (r *WebhooksRepository) Invalidate() {
	r.cache.invalidate()
}
