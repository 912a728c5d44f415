// Package provider implements the Provider Abstraction Layer (PAL): a
// single generate/stream/capabilities/healthcheck/price contract over
// several LLM backends with materially different wire protocols — a local
// Ollama-style inference server, OpenAI-style hosted chat completions,
// Anthropic-style hosted messages, and Google Gemini.
//
// Secrets are read only from named environment variables, never from
// config files, and are never logged (see internal/audit).
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/loomforge/loom/internal/model"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI-compatible hosted chat API.
	BackendOpenAI Backend = "openai"
	// BackendAnthropic selects the Anthropic-compatible hosted messages API.
	BackendAnthropic Backend = "anthropic"
	// BackendGemini selects Google Gemini via the genai SDK.
	BackendGemini Backend = "gemini"
)

// Capabilities describes what a configured Provider instance can do,
// queried once at construction time and cached for the life of the
// instance (spec §4.1).
type Capabilities struct {
	CtxLen                int
	SupportsTools         bool
	SupportsJSONMode      bool
	SupportsThinkingMode  bool
	SupportsStreaming     bool
}

// Satisfies reports whether these capabilities satisfy every entry in
// required, used by Router.RouteByCapability.
func (c Capabilities) Satisfies(required []string) bool {
	for _, r := range required {
		switch r {
		case "tools":
			if !c.SupportsTools {
				return false
			}
		case "json_mode":
			if !c.SupportsJSONMode {
				return false
			}
		case "thinking":
			if !c.SupportsThinkingMode {
				return false
			}
		case "streaming":
			if !c.SupportsStreaming {
				return false
			}
		}
	}
	return true
}

// Params carries per-call generation parameters. Not every backend honors
// every field — JSONMode and Thinking are ignored by backends that do not
// support them.
type Params struct {
	Temperature     float32
	MaxTokens       int
	TopP            float32
	JSONMode        bool
	Thinking        bool
	ThinkingBudget  int
}

// PriceEstimate is the monetary cost estimate for a call, or Unpriced=true
// when the backend has no pricing table (local models).
type PriceEstimate struct {
	USD      float64
	Unpriced bool
}

// StreamChunk is one fragment of a streaming generation. Err is set on the
// terminal chunk only if the stream ended abnormally; a clean end-of-stream
// carries Done=true and Err=nil.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Provider is the PAL's backend-agnostic contract. Implementations must be
// safe for concurrent use; GenerateStream's returned channel is not
// restartable and must be drained or abandoned by cancelling ctx.
type Provider interface {
	// Name identifies this provider instance (the config key it was built
	// from), used for routing, cost tracking, and diagnostics.
	Name() string
	// Model returns the configured model identifier.
	Model() string
	// Generate performs a single synchronous completion.
	Generate(ctx context.Context, messages []*schema.Message, params Params) (model.GenerationResult, error)
	// GenerateStream performs a streaming completion, returning a channel
	// of fragments terminated by a Done chunk or an error chunk.
	GenerateStream(ctx context.Context, messages []*schema.Message, params Params) (<-chan StreamChunk, error)
	// Capabilities returns this provider's static capability set.
	Capabilities() Capabilities
	// Healthcheck reports reachability within a short timeout. It never
	// returns a panic-worthy error — callers get a plain error value.
	Healthcheck(ctx context.Context) error
	// PriceEstimate returns a cost estimate for the given token counts.
	PriceEstimate(inTokens, outTokens int) PriceEstimate
}

// httpClientTimeout bounds every Provider HTTP call (spec §5 default).
const httpClientTimeout = 120 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// doHealthGet sends a GET request and returns nil on 2xx, error otherwise.
func doHealthGet(ctx context.Context, url string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check: HTTP %d", resp.StatusCode)
	}
	return nil
}

// bearerAuthCheck performs a health GET with a bearer Authorization header.
func bearerAuthCheck(ctx context.Context, url, apiKey string) error {
	return doHealthGet(ctx, url, map[string]string{"Authorization": "Bearer " + apiKey})
}

// apiKeyHeaderCheck performs a health GET with a named API-key header,
// used by Anthropic's x-api-key convention.
func apiKeyHeaderCheck(ctx context.Context, url, header, apiKey string) error {
	return doHealthGet(ctx, url, map[string]string{header: apiKey})
}
