package provider

import (
	"context"
	"fmt"
)

// Config holds one named provider's resolved configuration. Secrets are
// populated only from environment variables by internal/config — never
// from YAML (spec §4.1 "Authentication").
type Config struct {
	// Name is the config key this provider was declared under
	// (provider.available.<name> in config.yaml).
	Name string
	// Backend selects which wire protocol to speak.
	Backend Backend
	// Model is the backend-specific model identifier.
	Model string
	// BaseURL overrides the backend's default endpoint (required for Ollama).
	BaseURL string
	// APIKeyEnv names the environment variable the API key was read from,
	// kept only for diagnostics/audit — never the key value itself.
	APIKeyEnv string
	// APIKey is the resolved secret. Never logged; never serialized to YAML.
	APIKey string
	// Timeout overrides httpClientTimeout for this provider, in seconds.
	Timeout int
	Tuning  SharedTuning
}

// SharedTuning holds generation parameters shared across backends absent a
// per-call override.
type SharedTuning struct {
	MaxTokens   int
	Temperature float32
}

// Validate checks that all fields required for cfg.Backend are populated,
// returning a ConfigError-shaped message naming the missing field so
// misconfiguration fails fast at provider construction (spec §7).
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Model == "" {
			return fmt.Errorf("provider %q: ollama requires a model name", c.Name)
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider %q: ollama requires base_url", c.Name)
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider %q: openai requires %s to be set", c.Name, envOrDefault(c.APIKeyEnv, "OPENAI_API_KEY"))
		}
		if c.Model == "" {
			return fmt.Errorf("provider %q: openai requires a model name", c.Name)
		}
	case BackendAnthropic:
		if c.APIKey == "" {
			return fmt.Errorf("provider %q: anthropic requires %s to be set", c.Name, envOrDefault(c.APIKeyEnv, "ANTHROPIC_API_KEY"))
		}
		if c.Model == "" {
			return fmt.Errorf("provider %q: anthropic requires a model name", c.Name)
		}
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider %q: gemini requires %s to be set", c.Name, envOrDefault(c.APIKeyEnv, "GOOGLE_API_KEY"))
		}
		if c.Model == "" {
			return fmt.Errorf("provider %q: gemini requires a model name", c.Name)
		}
	default:
		return fmt.Errorf("provider %q: unknown backend %q — valid values: ollama, openai, anthropic, gemini", c.Name, c.Backend)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// NewHealthCheckConfig constructs a healthcheck probe for the given backend,
// encapsulating the metadata endpoint, credentials, and HTTP check function.
func NewHealthCheckConfig(cfg *Config) HealthCheckConfig {
	switch cfg.Backend {
	case BackendOllama:
		return &healthCheckCfg{
			url:          cfg.BaseURL + "/api/tags",
			providerType: cfg.Backend,
			check:        httpGetCheck,
		}
	case BackendOpenAI:
		url := cfg.BaseURL
		if url == "" {
			url = "https://api.openai.com/v1"
		}
		return &healthCheckCfg{
			url:          url + "/models",
			providerType: cfg.Backend,
			apiKey:       cfg.APIKey,
			check:        bearerAuthCheck,
		}
	case BackendAnthropic:
		url := cfg.BaseURL
		if url == "" {
			url = "https://api.anthropic.com/v1"
		}
		return &healthCheckCfg{
			url:          url + "/models",
			providerType: cfg.Backend,
			apiKey:       cfg.APIKey,
			check:        func(ctx context.Context, u, k string) error { return apiKeyHeaderCheck(ctx, u, "x-api-key", k) },
		}
	case BackendGemini:
		return &healthCheckCfg{
			url:          "https://generativelanguage.googleapis.com/v1beta/models?key=" + cfg.APIKey,
			providerType: cfg.Backend,
			check:        httpGetCheck,
		}
	default:
		return nil
	}
}

// httpGetCheck performs an unauthenticated health GET.
func httpGetCheck(ctx context.Context, url, _ string) error {
	return doHealthGet(ctx, url, nil)
}

// HealthCheckConfig is satisfied by a concrete, backend-specific probe.
type HealthCheckConfig interface {
	GetURL() string
	GetProviderType() Backend
	HealthCheck(ctx context.Context) error
}

type healthCheckCfg struct {
	url          string
	providerType Backend
	apiKey       string
	check        func(ctx context.Context, url, apiKey string) error
}

func (h *healthCheckCfg) GetURL() string                   { return h.url }
func (h *healthCheckCfg) GetProviderType() Backend         { return h.providerType }
func (h *healthCheckCfg) HealthCheck(ctx context.Context) error { return h.check(ctx, h.url, h.apiKey) }
