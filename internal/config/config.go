// Package config provides YAML-based configuration for loom projects.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. LOOM_CONFIG environment variable
//  3. ~/.loom/config.yaml
//  4. ./config.yaml
//
// If no file is found the system falls back to the built-in defaults below
// (a single local Ollama provider routed to every agent role).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loomforge/loom/internal/provider"
)

// Config is the top-level YAML configuration structure, matching
// config.yaml's recognized options (spec §6).
type Config struct {
	ProjectName string          `yaml:"project_name"`
	Provider    ProviderConfig  `yaml:"provider"`
	Context     ContextConfig   `yaml:"context"`
	Swarm       SwarmConfig     `yaml:"swarm"`
	Generation  GenConfig       `yaml:"generation"`
	Quality     QualityConfig   `yaml:"quality"`
	Retriever   RetrieverConfig `yaml:"retriever"`
	Logging     LoggingConfig   `yaml:"logging"`
	Tracing     TracingConfig   `yaml:"tracing"`
}

// ProviderConfig declares the available named providers, which one is the
// default, and the per-agent-role routing overrides.
type ProviderConfig struct {
	Default   string                  `yaml:"default"`
	Available map[string]ProviderSpec `yaml:"available"`
	Routing   map[string]string       `yaml:"routing"`
}

// ProviderSpec is one entry under provider.available.<name>.
type ProviderSpec struct {
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Timeout   int    `yaml:"timeout"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// ContextConfig holds the Context Assembler's per-section byte budgets.
type ContextConfig struct {
	Budgets BudgetsConfig `yaml:"budgets"`
}

// BudgetsConfig is the byte budget for each context section. Zero values
// are filled in from DefaultBudgets by applyDefaults.
type BudgetsConfig struct {
	Bible      int `yaml:"bible"`
	Characters int `yaml:"characters"`
	Facts      int `yaml:"facts"`
	Recap      int `yaml:"recap"`
	Retrieved  int `yaml:"retrieved"`
}

// DefaultBudgets are the spec-mandated defaults: {1500,1200,600,400,600}.
var DefaultBudgets = BudgetsConfig{
	Bible:      1500,
	Characters: 1200,
	Facts:      600,
	Recap:      400,
	Retrieved:  600,
}

// SwarmConfig controls the Scene Pipeline's revision loop.
type SwarmConfig struct {
	MaxRevision         int    `yaml:"max_revision"`
	OnPersistentFailure string `yaml:"on_persistent_failure"`
}

// GenConfig holds default LLM generation parameters.
type GenConfig struct {
	Default GenParams `yaml:"default"`
}

// GenParams are the tunable generation parameters applied absent a
// per-call override.
type GenParams struct {
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float32 `yaml:"top_p"`
}

// QualityConfig holds advisory thresholds the Checker agent evaluates
// scene drafts against.
type QualityConfig struct {
	MetaSpeechRateMax      float64 `yaml:"meta_speech_rate_max"`
	RepetitionRateMax      float64 `yaml:"repetition_rate_max"`
	FactContradictionsMax  int     `yaml:"fact_contradictions_max"`
	CharacterDeviationsMax int     `yaml:"character_deviations_max"`
}

// RetrieverConfig configures the TF-IDF retriever and its optional dense
// mirror.
type RetrieverConfig struct {
	VocabSize   int               `yaml:"vocab_size"`
	DenseMirror DenseMirrorConfig `yaml:"dense_mirror"`
}

// DenseMirrorConfig optionally mirrors retrieval writes into a Qdrant
// collection for dense-vector search alongside the in-memory TF-IDF index.
type DenseMirrorConfig struct {
	Enabled           bool   `yaml:"enabled"`
	QdrantURL         string `yaml:"qdrant_url"`
	Collection        string `yaml:"collection"`
	EmbeddingProvider string `yaml:"embedding_provider"`
}

// LoggingConfig mirrors the teacher's LOG_LEVEL/LOG_FORMAT env-overridable pair.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds optional Langfuse execution trace export settings.
type TracingConfig struct {
	Langfuse LangfuseConfig `yaml:"langfuse"`
}

// LangfuseConfig is env-gated by LANGFUSE_PUBLIC_KEY/LANGFUSE_SECRET_KEY —
// Enabled only takes effect once both are present.
type LangfuseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
}

// Default returns the built-in configuration: a single local Ollama
// provider routed to every agent role, matching
// ConfigManager.create_default's defaults.
func Default() Config {
	return Config{
		ProjectName: "My Novel",
		Provider: ProviderConfig{
			Default: "local_ollama",
			Available: map[string]ProviderSpec{
				"local_ollama": {
					Type:    "ollama",
					Model:   "qwen3:1.7b",
					BaseURL: "http://localhost:11434",
					Timeout: 120,
				},
			},
			Routing: map[string]string{
				"director":  "local_ollama",
				"writer":    "local_ollama",
				"checker":   "local_ollama",
				"editor":    "local_ollama",
				"committer": "local_ollama",
			},
		},
		Context: ContextConfig{Budgets: DefaultBudgets},
		Swarm: SwarmConfig{
			MaxRevision:         1,
			OnPersistentFailure: "ask_user",
		},
		Generation: GenConfig{
			Default: GenParams{Temperature: 0.7, MaxTokens: 2000, TopP: 0.9},
		},
		Quality: QualityConfig{
			MetaSpeechRateMax:      0.01,
			RepetitionRateMax:      0.05,
			FactContradictionsMax:  0,
			CharacterDeviationsMax: 0,
		},
		Retriever: RetrieverConfig{VocabSize: 5000},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file (if present) and layers it over Default(),
// then layers env vars over the result (env always wins). Returns the
// resolved Config and the path that was loaded (empty if none found).
func Load(explicitPath string, log *slog.Logger) (Config, string, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using built-in defaults")
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		applyDefaults(&cfg)
		log.Info("config: loaded YAML config", slog.String("path", path))
	}

	applyEnvOverrides(&cfg)
	return cfg, path, nil
}

// applyDefaults fills in zero-valued fields left unset by a partial YAML
// file, so a config.yaml that only overrides e.g. provider.default still
// gets sane budgets and generation defaults.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Context.Budgets == (BudgetsConfig{}) {
		cfg.Context.Budgets = d.Context.Budgets
	}
	if cfg.Swarm.MaxRevision == 0 {
		cfg.Swarm.MaxRevision = d.Swarm.MaxRevision
	}
	if cfg.Swarm.OnPersistentFailure == "" {
		cfg.Swarm.OnPersistentFailure = d.Swarm.OnPersistentFailure
	}
	if cfg.Generation.Default == (GenParams{}) {
		cfg.Generation.Default = d.Generation.Default
	}
	if cfg.Retriever.VocabSize == 0 {
		cfg.Retriever.VocabSize = d.Retriever.VocabSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
}

// envOverrides mirrors the teacher's envMapping precedence rule: each entry
// is an env var applied over whatever YAML/defaults already resolved.
var envOverrides = []struct {
	envKey string
	apply  func(*Config, string)
}{
	{"LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"LOG_FORMAT", func(c *Config, v string) { c.Logging.Format = v }},
	{"OLLAMA_HOST", func(c *Config, v string) { setProviderField(c, "ollama", func(p *ProviderSpec) { p.BaseURL = v }) }},
	{"OLLAMA_MODEL", func(c *Config, v string) { setProviderField(c, "ollama", func(p *ProviderSpec) { p.Model = v }) }},
	{"OPENAI_MODEL", func(c *Config, v string) { setProviderField(c, "openai", func(p *ProviderSpec) { p.Model = v }) }},
	{"ANTHROPIC_MODEL", func(c *Config, v string) { setProviderField(c, "anthropic", func(p *ProviderSpec) { p.Model = v }) }},
	{"GEMINI_MODEL", func(c *Config, v string) { setProviderField(c, "gemini", func(p *ProviderSpec) { p.Model = v }) }},
}

// setProviderField applies fn to every available provider of the given
// backend type — env overrides apply to all configured instances of that
// backend, since config.yaml may declare several (e.g. "local_ollama" and
// "local_ollama_fast").
func setProviderField(c *Config, backendType string, fn func(*ProviderSpec)) {
	for name, spec := range c.Provider.Available {
		if spec.Type != backendType {
			continue
		}
		fn(&spec)
		c.Provider.Available[name] = spec
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.envKey); v != "" {
			o.apply(cfg, v)
		}
	}
	if os.Getenv("LANGFUSE_PUBLIC_KEY") != "" && os.Getenv("LANGFUSE_SECRET_KEY") != "" {
		cfg.Tracing.Langfuse.Enabled = true
	}
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("LOOM_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".loom", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	return ""
}

// apiKeyEnvDefault names the conventional env var for a backend type when
// a provider entry doesn't set api_key_env explicitly.
func apiKeyEnvDefault(backendType string) string {
	switch backendType {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}

// BuildRoleConfig translates the YAML provider section into the
// internal/provider.RoleConfig the Router consumes: every available
// provider is resolved to a provider.Config (with its secret read from the
// environment — never from YAML), and the routing table is carried through
// unchanged.
func BuildRoleConfig(pc ProviderConfig) (provider.RoleConfig, error) {
	rc := provider.RoleConfig{
		Default:   pc.Default,
		Routing:   pc.Routing,
		Available: make(map[string]*provider.Config, len(pc.Available)),
	}

	for name, spec := range pc.Available {
		backend := provider.Backend(spec.Type)
		apiKeyEnv := spec.APIKeyEnv
		if apiKeyEnv == "" {
			apiKeyEnv = apiKeyEnvDefault(spec.Type)
		}

		pcfg := &provider.Config{
			Name:      name,
			Backend:   backend,
			Model:     spec.Model,
			BaseURL:   spec.BaseURL,
			APIKeyEnv: apiKeyEnv,
			Timeout:   spec.Timeout,
		}
		if apiKeyEnv != "" {
			pcfg.APIKey = os.Getenv(apiKeyEnv)
		}
		rc.Available[name] = pcfg
	}

	if rc.Default == "" {
		return rc, fmt.Errorf("config: provider.default is required")
	}
	if _, ok := rc.Available[rc.Default]; !ok {
		return rc, fmt.Errorf("config: provider.default %q has no matching provider.available entry", rc.Default)
	}
	return rc, nil
}
