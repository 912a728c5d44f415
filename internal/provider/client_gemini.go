package provider

import (
	"context"
	"fmt"
	"io"
	"time"

	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/loomforge/loom/internal/budget"
	"github.com/loomforge/loom/internal/model"
)

// GeminiProvider speaks Google Gemini via the genai SDK and the eino-ext
// gemini chat-model component, rather than a hand-rolled HTTP client — unlike
// the other three backends, Gemini is not one of the spec's named wire
// contracts, so we keep the teacher's eino-ext wiring for it intact instead
// of reimplementing its request/response shapes from scratch.
type GeminiProvider struct {
	cfg   *Config
	model einomodel.ToolCallingChatModel
}

// NewGeminiProvider constructs a Provider backed by Gemini (AI Studio).
// cfg.APIKey and cfg.Model must be set.
func NewGeminiProvider(ctx context.Context, cfg *Config) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ConfigError{Provider: cfg.Name, Err: fmt.Errorf("gemini client: %w", err)}
	}
	chatModel, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, &ConfigError{Provider: cfg.Name, Err: fmt.Errorf("gemini chat model: %w", err)}
	}
	return &GeminiProvider{cfg: cfg, model: chatModel}, nil
}

func (p *GeminiProvider) Name() string  { return p.cfg.Name }
func (p *GeminiProvider) Model() string { return p.cfg.Model }

func toEinoOptions(params Params) []einomodel.Option {
	opts := []einomodel.Option{}
	if params.Temperature > 0 {
		t := params.Temperature
		opts = append(opts, einomodel.WithTemperature(t))
	}
	if params.MaxTokens > 0 {
		mt := params.MaxTokens
		opts = append(opts, einomodel.WithMaxTokens(mt))
	}
	if params.TopP > 0 {
		tp := params.TopP
		opts = append(opts, einomodel.WithTopP(tp))
	}
	return opts
}

// Generate performs a single synchronous completion via eino's BaseChatModel
// contract. Token usage is approximated via internal/budget when Gemini does
// not report exact counts on the returned message.
func (p *GeminiProvider) Generate(ctx context.Context, messages []*schema.Message, params Params) (model.GenerationResult, error) {
	start := time.Now()
	msg, err := p.model.Generate(ctx, messages, toEinoOptions(params)...)
	if err != nil {
		return model.GenerationResult{}, &TransportError{Provider: p.cfg.Name, Err: err}
	}
	result := model.GenerationResult{
		Text:       msg.Content,
		Model:      p.cfg.Model,
		Provider:   p.cfg.Name,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		result.PromptTokens = msg.ResponseMeta.Usage.PromptTokens
		result.CompletionTokens = msg.ResponseMeta.Usage.CompletionTokens
	} else {
		result.PromptTokens = budget.EstimateMessages(messages)
		result.CompletionTokens = budget.Estimate(msg.Content)
	}
	return result, nil
}

// GenerateStream drains eino's schema.StreamReader into our StreamChunk
// channel, translating io.EOF into a clean Done chunk.
func (p *GeminiProvider) GenerateStream(ctx context.Context, messages []*schema.Message, params Params) (<-chan StreamChunk, error) {
	reader, err := p.model.Stream(ctx, messages, toEinoOptions(params)...)
	if err != nil {
		return nil, &TransportError{Provider: p.cfg.Name, Err: err}
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer reader.Close()
		for {
			chunk, err := reader.Recv()
			if err == io.EOF {
				select {
				case out <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				select {
				case out <- StreamChunk{Done: true, Err: &ProtocolError{Provider: p.cfg.Name, Err: err}}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- StreamChunk{Content: chunk.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Capabilities returns Gemini's static capability set.
func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{
		CtxLen:               1000000,
		SupportsTools:        true,
		SupportsJSONMode:     true,
		SupportsThinkingMode: false,
		SupportsStreaming:    true,
	}
}

// Healthcheck issues a minimal single-message generation to confirm the
// model and credentials resolve; the genai SDK exposes no lighter probe.
func (p *GeminiProvider) Healthcheck(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.model.Generate(hctx, []*schema.Message{
		{Role: schema.User, Content: "ping"},
	})
	if err != nil {
		return fmt.Errorf("gemini healthcheck: %w", err)
	}
	return nil
}

// geminiPricing maps model-family prefixes to USD-per-million-token rates
// {input, output}.
var geminiPricing = map[string][2]float64{
	"gemini-1.5-pro":   {1.25, 5.00},
	"gemini-1.5-flash": {0.075, 0.30},
	"gemini-2.0-flash": {0.10, 0.40},
}

// PriceEstimate looks up the pricing table by exact model id first, falling
// back to the longest matching model-family prefix so a more specific family
// (e.g. "gemini-1.5-flash") always wins over a shorter one it happens to
// also match, regardless of map iteration order.
func (p *GeminiProvider) PriceEstimate(inTokens, outTokens int) PriceEstimate {
	if rates, ok := geminiPricing[p.cfg.Model]; ok {
		usd := float64(inTokens)/1_000_000*rates[0] + float64(outTokens)/1_000_000*rates[1]
		return PriceEstimate{USD: usd}
	}

	bestPrefix := ""
	var bestRates [2]float64
	for prefix, rates := range geminiPricing {
		if len(p.cfg.Model) >= len(prefix) && p.cfg.Model[:len(prefix)] == prefix && len(prefix) > len(bestPrefix) {
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
