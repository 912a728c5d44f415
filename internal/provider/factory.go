package provider

import (
	"context"
	"fmt"
)

// ConstructorFunc builds a Provider from a validated Config.
type ConstructorFunc func(ctx context.Context, cfg *Config) (Provider, error)

// Registry maps a Backend tag to the constructor that builds it. Unlike the
// teacher's package-level backend switch, registration is explicit rather
// than an init()-time side effect, so callers assemble exactly the backends
// they intend to exercise (spec §9 Design Notes).
type Registry struct {
	constructors map[Backend]ConstructorFunc
}

// NewRegistry returns an empty Registry. Use RegisterBuiltins to populate it
// with the four backends this PAL ships, or Register to add custom ones.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[Backend]ConstructorFunc)}
}

// Register adds or replaces the constructor for backend.
func (r *Registry) Register(backend Backend, fn ConstructorFunc) {
	r.constructors[backend] = fn
}

// RegisterBuiltins registers the four shipped backends: ollama, openai,
// anthropic, gemini. Call this once at startup (cmd/loom's root command)
// rather than relying on package init().
func (r *Registry) RegisterBuiltins() {
	r.Register(BackendOllama, func(_ context.Context, cfg *Config) (Provider, error) {
		return NewOllamaProvider(cfg), nil
	})
	r.Register(BackendOpenAI, func(_ context.Context, cfg *Config) (Provider, error) {
		return NewOpenAIProvider(cfg), nil
	})
	r.Register(BackendAnthropic, func(_ context.Context, cfg *Config) (Provider, error) {
		return NewAnthropicProvider(cfg), nil
	})
	r.Register(BackendGemini, func(ctx context.Context, cfg *Config) (Provider, error) {
		return NewGeminiProvider(ctx, cfg)
	})
}

// New validates cfg and constructs the Provider registered for cfg.Backend,
// failing fast with a ConfigError naming the missing field or unknown
// backend rather than deferring the failure to the first request.
func (r *Registry) New(ctx context.Context, cfg *Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Provider: cfg.Name, Err: err}
	}
	ctor, ok := r.constructors[cfg.Backend]
	if !ok {
		return nil, &ConfigError{Provider: cfg.Name, Err: fmt.Errorf("no constructor registered for backend %q", cfg.Backend)}
	}
	return ctor(ctx, cfg)
}
