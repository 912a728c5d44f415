package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/loomforge/loom/internal/model"
)

// OpenAIProvider speaks the OpenAI-style hosted chat completions protocol:
// bearer auth, a flat message list (system included as a normal message),
// and "data: ..." SSE framing terminated by a literal "[DONE]" sentinel.
type OpenAIProvider struct {
	cfg    *Config
	client *http.Client
}

// NewOpenAIProvider constructs a Provider for an OpenAI-compatible hosted
// API. cfg.APIKey and cfg.Model must be set.
func NewOpenAIProvider(cfg *Config) *OpenAIProvider {
	timeout := httpClientTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &OpenAIProvider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *OpenAIProvider) Name() string  { return p.cfg.Name }
func (p *OpenAIProvider) Model() string { return p.cfg.Model }

func (p *OpenAIProvider) baseURL() string {
	if p.cfg.BaseURL != "" {
		return p.cfg.BaseURL
	}
	return "https://api.openai.com/v1"
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func toOpenAIMessages(messages []*schema.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (p *OpenAIProvider) buildRequest(messages []*schema.Message, params Params, stream bool) openAIChatRequest {
	req := openAIChatRequest{
		Model:       p.cfg.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stream:      stream,
	}
	if params.JSONMode {
		req.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}
	return req
}

func (p *OpenAIProvider) classifyError(status int, msg string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Provider: p.cfg.Name, Err: fmt.Errorf("%s", msg)}
	case http.StatusTooManyRequests:
		return &RateLimitError{Provider: p.cfg.Name, Err: fmt.Errorf("%s", msg)}
	default:
		return &TransportError{Provider: p.cfg.Name, Err: fmt.Errorf("HTTP %d: %s", status, msg)}
	}
}

// Generate performs a single synchronous completion against
// /chat/completions.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []*schema.Message, params Params) (model.GenerationResult, error) {
	start := time.Now()
	body, err := json.Marshal(p.buildRequest(messages, params, false))
	if err != nil {
		return model.GenerationResult{}, fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return model.GenerationResult{}, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return model.GenerationResult{}, &TransportError{Provider: p.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.GenerationResult{}, &ProtocolError{Provider: p.cfg.Name, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "unknown error"
		if out.Error != nil {
			msg = out.Error.Message
		}
		return model.GenerationResult{}, p.classifyError(resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return model.GenerationResult{}, &ProtocolError{Provider: p.cfg.Name, Err: fmt.Errorf("no choices returned")}
	}

	return model.GenerationResult{
		Text:             out.Choices[0].Message.Content,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		Model:            p.cfg.Model,
		Provider:         p.cfg.Name,
		DurationMS:       time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream performs a streaming completion, decoding "data: ..." SSE
// frames until the literal "[DONE]" sentinel is observed.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, messages []*schema.Message, params Params) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, params, true))
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: p.cfg.Name, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, p.classifyError(resp.StatusCode, "stream request failed")
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				select {
				case out <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
			var chunk openAIChatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			select {
			case out <- StreamChunk{Content: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Capabilities returns OpenAI's static capability set.
func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{
		CtxLen:               128000,
		SupportsTools:        true,
		SupportsJSONMode:     true,
		SupportsThinkingMode: false,
		SupportsStreaming:    true,
	}
}

// Healthcheck lists models with bearer auth.
func (p *OpenAIProvider) Healthcheck(ctx context.Context) error {
	return bearerAuthCheck(ctx, p.baseURL()+"/models", p.cfg.APIKey)
}

// openAIPricing maps model-family prefixes to USD-per-million-token rates
// {input, output}.
var openAIPricing = map[string][2]float64{
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4o":      {2.50, 10.00},
	"gpt-4.1":     {2.00, 8.00},
	"o1":          {15.00, 60.00},
}

// PriceEstimate looks up the pricing table by exact model id first, falling
// back to the longest matching model-family prefix. Every prefix is tried and
// the longest match is kept, so a more specific family (e.g. "gpt-4o-mini")
// always wins over a shorter one it happens to also match (e.g. "gpt-4o")
// regardless of map iteration order.
func (p *OpenAIProvider) PriceEstimate(inTokens, outTokens int) PriceEstimate {
	if rates, ok := openAIPricing[p.cfg.Model]; ok {
		usd := float64(inTokens)/1_000_000*rates[0] + float64(outTokens)/1_000_000*rates[1]
		return PriceEstimate{USD: usd}
	}

	bestPrefix := ""
	var bestRates [2]float64
	for prefix, rates := range openAIPricing {
		if strings.HasPrefix(p.cfg.Model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestRates = rates
		}
	}
	if bestPrefix == "" {
		return PriceEstimate{Unpriced: true}
	}
	usd := float64(inTokens)/1_000_000*bestRates[0] + float64(outTokens)/1_000_000*bestRates[1]
	return PriceEstimate{USD: usd}
}
