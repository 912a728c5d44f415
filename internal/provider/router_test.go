package provider

import (
	"context"
	"testing"
)

func testRegistry() *Registry {
	r := NewRegistry()
	r.RegisterBuiltins()
	return r
}

func testRoleConfig() RoleConfig {
	return RoleConfig{
		Default: "local",
		Routing: map[string]string{
			"writer": "hosted",
		},
		Available: map[string]*Config{
			"local":  {Name: "local", Backend: BackendOllama, BaseURL: "http://localhost:11434", Model: "llama3"},
			"hosted": {Name: "hosted", Backend: BackendOpenAI, APIKey: "sk-test", Model: "gpt-4o"},
		},
	}
}

func TestRouter_GetProvider_UsesRoutingTable(t *testing.T) {
	t.Parallel()
	r := NewRouter(testRegistry(), testRoleConfig(), 0, 0)

	p, err := r.GetProvider(context.Background(), "writer")
	if err != nil {
		t.Fatalf("GetProvider(writer) error = %v", err)
	}
	if p.Name() != "hosted" {
		t.Errorf("GetProvider(writer).Name() = %q, want %q", p.Name(), "hosted")
	}
}

func TestRouter_GetProvider_FallsBackToDefault(t *testing.T) {
	t.Parallel()
	r := NewRouter(testRegistry(), testRoleConfig(), 0, 0)

	p, err := r.GetProvider(context.Background(), "director")
	if err != nil {
		t.Fatalf("GetProvider(director) error = %v", err)
	}
	if p.Name() != "local" {
		t.Errorf("GetProvider(director).Name() = %q, want %q", p.Name(), "local")
	}
}

func TestRouter_GetProvider_CachesInstance(t *testing.T) {
	t.Parallel()
	r := NewRouter(testRegistry(), testRoleConfig(), 0, 0)

	p1, _ := r.GetProvider(context.Background(), "director")
	p2, _ := r.GetProvider(context.Background(), "checker")
	if p1 != p2 {
		t.Errorf("expected director and checker (both routed to default) to share one cached instance")
	}
}

func TestRouter_GetProvider_UnknownProviderName(t *testing.T) {
	t.Parallel()
	cfg := testRoleConfig()
	cfg.Routing["ghost"] = "does-not-exist"
	r := NewRouter(testRegistry(), cfg, 0, 0)

	_, err := r.GetProvider(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for unconfigured provider name")
	}
}

func TestRouter_RouteByCapability_PrefersCapableProvider(t *testing.T) {
	t.Parallel()
	r := NewRouter(testRegistry(), testRoleConfig(), 0, 0)

	p, err := r.RouteByCapability(context.Background(), []string{"json_mode"})
	if err != nil {
		t.Fatalf("RouteByCapability error = %v", err)
	}
	if !p.Capabilities().SupportsJSONMode {
		t.Errorf("RouteByCapability([json_mode]) returned provider without json mode support: %s", p.Name())
	}
}

func TestRouter_GetAllProviders_ReportsEveryConfigured(t *testing.T) {
	t.Parallel()
	r := NewRouter(testRegistry(), testRoleConfig(), 0, 0)

	statuses := r.GetAllProviders(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("GetAllProviders() returned %d entries, want 2", len(statuses))
	}
}

func TestRouter_Wait_DisabledWhenRPSNonPositive(t *testing.T) {
	t.Parallel()
	r := NewRouter(testRegistry(), testRoleConfig(), 0, 0)
	if err := r.Wait(context.Background(), "local"); err != nil {
		t.Errorf("Wait() with rps<=0 should never block or error, got %v", err)
	}
}
