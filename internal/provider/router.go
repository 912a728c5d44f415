package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RoleConfig names the config-level routing table: agent role -> provider
// name, plus the full set of named providers available to route to.
type RoleConfig struct {
	Default  string
	Routing  map[string]string
	Available map[string]*Config
}

// Router routes an agent role (director, writer, checker, editor,
// committer) to a cached Provider instance, mirroring
// original_source/src/pal/router.py's ProviderRouter. Instances are
// constructed lazily on first use and cached for the life of the Router.
type Router struct {
	mu        sync.Mutex
	registry  *Registry
	cfg       RoleConfig
	instances map[string]Provider // keyed by provider name, not role
	limiters  map[string]*rate.Limiter
	rps       float64
	burst     int
}

// NewRouter constructs a Router over registry using cfg's routing table.
// rps/burst set the per-backend token-bucket throttle (spec §5 concurrency
// model); pass rps<=0 to disable throttling.
func NewRouter(registry *Registry, cfg RoleConfig, rps float64, burst int) *Router {
	return &Router{
		registry:  registry,
		cfg:       cfg,
		instances: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
		rps:       rps,
		burst:     burst,
	}
}

// providerNameForRole resolves which configured provider name a role should
// use, falling back to the router's default.
func (r *Router) providerNameForRole(role string) string {
	if name, ok := r.cfg.Routing[role]; ok && name != "" {
		return name
	}
	return r.cfg.Default
}

// getOrBuild returns the cached Provider for providerName, constructing and
// caching it on first access.
func (r *Router) getOrBuild(ctx context.Context, providerName string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[providerName]; ok {
		return p, nil
	}

	cfg, ok := r.cfg.Available[providerName]
	if !ok {
		return nil, &ConfigError{Provider: providerName, Err: fmt.Errorf("provider %q not configured", providerName)}
	}
	p, err := r.registry.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.instances[providerName] = p
	return p, nil
}

// GetProvider returns the Provider assigned to agentRole (director, writer,
// checker, editor, committer), per the config's provider.routing table.
func (r *Router) GetProvider(ctx context.Context, agentRole string) (Provider, error) {
	return r.getOrBuild(ctx, r.providerNameForRole(agentRole))
}

// RouteByCapability returns the first configured provider whose
// Capabilities.Satisfies(required) is true, falling back to the default
// provider when none match.
func (r *Router) RouteByCapability(ctx context.Context, required []string) (Provider, error) {
	for name := range r.cfg.Available {
		p, err := r.getOrBuild(ctx, name)
		if err != nil {
			continue
		}
		if p.Capabilities().Satisfies(required) {
			return p, nil
		}
	}
	return r.getOrBuild(ctx, r.cfg.Default)
}

// ProviderStatus summarizes one configured provider for diagnostics.
type ProviderStatus struct {
	Name         string
	Backend      Backend
	Model        string
	Capabilities Capabilities
	Healthy      bool
	Error        string
}

// GetAllProviders builds and healthchecks every configured provider,
// mirroring ProviderRouter.get_all_providers. Construction or healthcheck
// failures are reported per-provider rather than aborting the whole call.
func (r *Router) GetAllProviders(ctx context.Context) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(r.cfg.Available))
	for name, cfg := range r.cfg.Available {
		p, err := r.getOrBuild(ctx, name)
		if err != nil {
			out = append(out, ProviderStatus{Name: name, Backend: cfg.Backend, Error: err.Error()})
			continue
		}
		status := ProviderStatus{Name: name, Backend: cfg.Backend, Model: p.Model(), Capabilities: p.Capabilities()}
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status.Healthy = p.Healthcheck(hctx) == nil
		cancel()
		out = append(out, status)
	}
	return out
}

// HealthcheckAll reports health by provider name only, mirroring
// ProviderRouter.healthcheck_all.
func (r *Router) HealthcheckAll(ctx context.Context) map[string]bool {
	result := make(map[string]bool, len(r.cfg.Available))
	for name := range r.cfg.Available {
		p, err := r.getOrBuild(ctx, name)
		if err != nil {
			result[name] = false
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		result[name] = p.Healthcheck(hctx) == nil
		cancel()
	}
	return result
}

// limiterFor returns the per-backend token bucket for providerName,
// creating one on first use. Repurposed from the teacher's per-IP
// rate-limit middleware: here the bucket key is the provider name instead
// of a client address, throttling our own outbound calls to each backend.
func (r *Router) limiterFor(providerName string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[providerName]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.limiters[providerName] = l
	}
	return l
}

// Wait blocks until providerName's outbound rate limit admits another
// request, or ctx is cancelled. A non-positive rps disables throttling.
func (r *Router) Wait(ctx context.Context, providerName string) error {
	if r.rps <= 0 {
		return nil
	}
	return r.limiterFor(providerName).Wait(ctx)
}
