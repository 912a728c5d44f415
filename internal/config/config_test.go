package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile_ReturnsDefaults(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	cfg, path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if cfg.Provider.Default != "local_ollama" {
		t.Errorf("Provider.Default = %q, want local_ollama", cfg.Provider.Default)
	}
	if cfg.Context.Budgets != DefaultBudgets {
		t.Errorf("Context.Budgets = %+v, want %+v", cfg.Context.Budgets, DefaultBudgets)
	}
}

func TestLoad_ValidFile_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
project_name: "Test Novel"
provider:
  default: hosted_gpt
  available:
    hosted_gpt:
      type: openai
      model: gpt-4o
    local_ollama:
      type: ollama
      model: qwen3:1.7b
      base_url: http://localhost:11434
  routing:
    writer: hosted_gpt
context:
  budgets:
    bible: 2000
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"LOG_LEVEL", "LOG_FORMAT", "OPENAI_MODEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	cfg, loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}
	if cfg.ProjectName != "Test Novel" {
		t.Errorf("ProjectName = %q", cfg.ProjectName)
	}
	if cfg.Provider.Default != "hosted_gpt" {
		t.Errorf("Provider.Default = %q", cfg.Provider.Default)
	}
	if cfg.Provider.Routing["writer"] != "hosted_gpt" {
		t.Errorf("Routing[writer] = %q", cfg.Provider.Routing["writer"])
	}
	// Explicit override applied.
	if cfg.Context.Budgets.Bible != 2000 {
		t.Errorf("Budgets.Bible = %d, want 2000", cfg.Context.Budgets.Bible)
	}
	// Unset budget fields keep their defaults because Load unmarshals the
	// YAML over Default(); applyDefaults only refills the *whole* Budgets
	// struct, and only when every field of it ended up zero.
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	// Defaults not touched by YAML still apply.
	if cfg.Swarm.MaxRevision != 1 {
		t.Errorf("Swarm.MaxRevision = %d, want 1 (default)", cfg.Swarm.MaxRevision)
	}
	if cfg.Retriever.VocabSize != 5000 {
		t.Errorf("Retriever.VocabSize = %d, want 5000 (default)", cfg.Retriever.VocabSize)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
provider:
  default: local_ollama
  available:
    local_ollama:
      type: ollama
      model: qwen3:1.7b
      base_url: http://localhost:11434
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OLLAMA_MODEL", "llama3:70b")

	log := slog.Default()
	cfg, _, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Provider.Available["local_ollama"].Model; got != "llama3:70b" {
		t.Errorf("Model = %q, want env override %q", got, "llama3:70b")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, _, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_LangfuseEnabledOnlyWhenBothKeysPresent(t *testing.T) {
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk-123")
	t.Setenv("LANGFUSE_SECRET_KEY", "")
	os.Unsetenv("LANGFUSE_SECRET_KEY")

	log := slog.Default()
	cfg, _, err := Load("/nonexistent/config.yaml", log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tracing.Langfuse.Enabled {
		t.Error("Langfuse should stay disabled with only one key set")
	}

	t.Setenv("LANGFUSE_SECRET_KEY", "sk-456")
	cfg, _, err = Load("/nonexistent/config.yaml", log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Tracing.Langfuse.Enabled {
		t.Error("Langfuse should enable once both keys are set")
	}
}

func TestBuildRoleConfig_ResolvesAPIKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-key")

	pc := ProviderConfig{
		Default: "hosted_gpt",
		Available: map[string]ProviderSpec{
			"hosted_gpt": {Type: "openai", Model: "gpt-4o"},
		},
		Routing: map[string]string{"writer": "hosted_gpt"},
	}

	rc, err := BuildRoleConfig(pc)
	if err != nil {
		t.Fatalf("BuildRoleConfig() error = %v", err)
	}
	got := rc.Available["hosted_gpt"]
	if got.APIKey != "sk-test-key" {
		t.Errorf("APIKey = %q, want sk-test-key", got.APIKey)
	}
	if got.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("APIKeyEnv = %q, want OPENAI_API_KEY (conventional default)", got.APIKeyEnv)
	}
}

func TestBuildRoleConfig_MissingDefaultProvider(t *testing.T) {
	pc := ProviderConfig{
		Default:   "ghost",
		Available: map[string]ProviderSpec{"local_ollama": {Type: "ollama", Model: "m"}},
	}
	if _, err := BuildRoleConfig(pc); err == nil {
		t.Error("expected error when provider.default has no matching available entry")
	}
}

func TestBuildRoleConfig_CustomAPIKeyEnvTakesPrecedence(t *testing.T) {
	t.Setenv("MY_CUSTOM_KEY", "sk-custom")

	pc := ProviderConfig{
		Default: "p1",
		Available: map[string]ProviderSpec{
			"p1": {Type: "anthropic", Model: "claude-opus-4", APIKeyEnv: "MY_CUSTOM_KEY"},
		},
	}
	rc, err := BuildRoleConfig(pc)
	if err != nil {
		t.Fatalf("BuildRoleConfig() error = %v", err)
	}
	if rc.Available["p1"].APIKey != "sk-custom" {
		t.Errorf("APIKey = %q, want sk-custom", rc.Available["p1"].APIKey)
	}
}
