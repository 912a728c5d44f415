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

// AnthropicProvider speaks the Anthropic-style hosted messages protocol:
// the system message is a top-level field rather than part of the message
// list, an explicit "thinking" block with a token budget may be requested,
// and streaming uses named SSE event types where only content_block_delta
// events of type text_delta carry prose.
type AnthropicProvider struct {
	cfg    *Config
	client *http.Client
}

// NewAnthropicProvider constructs a Provider for an Anthropic-compatible
// hosted API. cfg.APIKey and cfg.Model must be set.
func NewAnthropicProvider(cfg *Config) *AnthropicProvider {
	timeout := httpClientTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &AnthropicProvider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *AnthropicProvider) Name() string  { return p.cfg.Name }
func (p *AnthropicProvider) Model() string { return p.cfg.Model }

func (p *AnthropicProvider) baseURL() string {
	if p.cfg.BaseURL != "" {
		return p.cfg.BaseURL
	}
	return "https://api.anthropic.com/v1"
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Temperature float32          `json:"temperature,omitempty"`
	TopP      float32            `json:"top_p,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// anthropicSSEEvent is the shape of one named SSE event's JSON payload.
// Only content_block_delta events of delta.type=="text_delta" carry prose.
type anthropicSSEEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) buildRequest(messages []*schema.Message, params Params, stream bool) anthropicRequest {
	system, rest := splitSystemGeneric(messages)
	req := anthropicRequest{
		Model:       p.cfg.Model,
		System:      system,
		Messages:    rest,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stream:      stream,
	}
	if params.Thinking {
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: params.ThinkingBudget}
	}
	return req
}

func splitSystemGeneric(messages []*schema.Message) (string, []anthropicMessage) {
	var system string
	rest := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == schema.System && system == "" {
			system = m.Content
			continue
		}
		rest = append(rest, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	return system, rest
}

func (p *AnthropicProvider) classifyError(status int, msg string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Provider: p.cfg.Name, Err: fmt.Errorf("%s", msg)}
	case http.StatusTooManyRequests:
		return &RateLimitError{Provider: p.cfg.Name, Err: fmt.Errorf("%s", msg)}
	default:
		return &TransportError{Provider: p.cfg.Name, Err: fmt.Errorf("HTTP %d: %s", status, msg)}
	}
}

func (p *AnthropicProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

// Generate performs a single synchronous completion against /messages.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []*schema.Message, params Params) (model.GenerationResult, error) {
	start := time.Now()
	body, err := json.Marshal(p.buildRequest(messages, params, false))
	if err != nil {
		return model.GenerationResult{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	req, err := p.newRequest(ctx, body)
	if err != nil {
		return model.GenerationResult{}, fmt.Errorf("anthropic: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return model.GenerationResult{}, &TransportError{Provider: p.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	var out anthropicResponse
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

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return model.GenerationResult{
		Text:             text.String(),
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
		Model:            p.cfg.Model,
		Provider:         p.cfg.Name,
		DurationMS:       time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream performs a streaming completion, decoding named SSE events
// and emitting only content_block_delta/text_delta prose fragments.
func (p *AnthropicProvider) GenerateStream(ctx context.Context, messages []*schema.Message, params Params) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, params, true))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	req, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
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
		var eventType string
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if payload == "" {
					continue
				}
				var evt anthropicSSEEvent
				if err := json.Unmarshal([]byte(payload), &evt); err != nil {
					continue
				}
				switch eventType {
				case "content_block_delta":
					if evt.Delta.Type == "text_delta" {
						select {
						case out <- StreamChunk{Content: evt.Delta.Text}:
						case <-ctx.Done():
							return
						}
					}
				case "message_stop":
					select {
					case out <- StreamChunk{Done: true}:
					case <-ctx.Done():
					}
					return
				}
			}
		}
	}()
	return out, nil
}

// Capabilities returns Anthropic's static capability set.
func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{
		CtxLen:               200000,
		SupportsTools:        true,
		SupportsJSONMode:     false,
		SupportsThinkingMode: true,
		SupportsStreaming:    true,
	}
}

// Healthcheck lists models with the x-api-key header.
func (p *AnthropicProvider) Healthcheck(ctx context.Context) error {
	return apiKeyHeaderCheck(ctx, p.baseURL()+"/models", "x-api-key", p.cfg.APIKey)
}

// anthropicPricing maps the exact model id to USD-per-million-token rates
// {input, output}, per spec's "pricing table keyed by exact model id".
var anthropicPricing = map[string][2]float64{
	"claude-opus-4":   {15.00, 75.00},
	"claude-sonnet-4": {3.00, 15.00},
	"claude-haiku-4":  {0.80, 4.00},
}

// PriceEstimate looks up the pricing table by exact model id.
func (p *AnthropicProvider) PriceEstimate(inTokens, outTokens int) PriceEstimate {
	if rates, ok := anthropicPricing[p.cfg.Model]; ok {
		usd := float64(inTokens)/1_000_000*rates[0] + float64(outTokens)/1_000_000*rates[1]
		return PriceEstimate{USD: usd}
	}
	return PriceEstimate{Unpriced: true}
}
