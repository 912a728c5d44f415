package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/loomforge/loom/internal/model"
)

// OllamaProvider speaks the local Ollama chat wire protocol: the leading
// system message is sent as the first entry of the chat message list (the
// request has no top-level system field), and streaming responses are newline-delimited JSON chunks each carrying an
// incremental content delta and a terminal "done" flag.
type OllamaProvider struct {
	cfg    *Config
	client *http.Client
}

// NewOllamaProvider constructs a Provider for a locally running Ollama
// instance. cfg.BaseURL and cfg.Model must be set.
func NewOllamaProvider(cfg *Config) *OllamaProvider {
	timeout := httpClientTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &OllamaProvider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *OllamaProvider) Name() string  { return p.cfg.Name }
func (p *OllamaProvider) Model() string { return p.cfg.Model }

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// splitSystem pulls out the leading system message (if any) and returns the
// remaining conversation; buildRequest puts it back at the front of the list.
func splitSystem(messages []*schema.Message) (string, []ollamaChatMessage) {
	var system string
	rest := make([]ollamaChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == schema.System && system == "" {
			system = m.Content
			continue
		}
		rest = append(rest, ollamaChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return system, rest
}

func (p *OllamaProvider) buildRequest(messages []*schema.Message, params Params, stream bool) ollamaChatRequest {
	system, rest := splitSystem(messages)
	if system != "" {
		rest = append([]ollamaChatMessage{{Role: "system", Content: system}}, rest...)
	}
	return ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: rest,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			NumPredict:  params.MaxTokens,
		},
	}
}

// Generate performs a single synchronous completion against /api/chat.
func (p *OllamaProvider) Generate(ctx context.Context, messages []*schema.Message, params Params) (model.GenerationResult, error) {
	start := time.Now()
	body, err := json.Marshal(p.buildRequest(messages, params, false))
	if err != nil {
		return model.GenerationResult{}, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return model.GenerationResult{}, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return model.GenerationResult{}, &TransportError{Provider: p.cfg.Name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.GenerationResult{}, &TransportError{Provider: p.cfg.Name, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.GenerationResult{}, &ProtocolError{Provider: p.cfg.Name, Err: err}
	}

	return model.GenerationResult{
		Text:             out.Message.Content,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		Model:            p.cfg.Model,
		Provider:         p.cfg.Name,
		DurationMS:       time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream performs a streaming completion, decoding newline-delimited
// JSON chunks until Done is observed.
func (p *OllamaProvider) GenerateStream(ctx context.Context, messages []*schema.Message, params Params) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, params, true))
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: p.cfg.Name, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &TransportError{Provider: p.cfg.Name, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
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
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				// Malformed frame — skip and continue (spec §7 ProtocolError policy).
				continue
			}
			select {
			case out <- StreamChunk{Content: chunk.Message.Content, Done: chunk.Done}:
			case <-ctx.Done():
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- StreamChunk{Done: true, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Capabilities returns Ollama's static capability set. Local models are
// assumed not to support a dedicated JSON mode or thinking blocks.
func (p *OllamaProvider) Capabilities() Capabilities {
	return Capabilities{
		CtxLen:               8192,
		SupportsTools:        false,
		SupportsJSONMode:     false,
		SupportsThinkingMode: false,
		SupportsStreaming:    true,
	}
}

// Healthcheck queries /api/tags and succeeds iff the configured model
// appears as a prefix match among the listed models.
func (p *OllamaProvider) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ollama healthcheck: HTTP %d", resp.StatusCode)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("ollama healthcheck: decode: %w", err)
	}
	for _, m := range tags.Models {
		if len(m.Name) >= len(p.cfg.Model) && m.Name[:len(p.cfg.Model)] == p.cfg.Model {
			return nil
		}
	}
	return fmt.Errorf("ollama healthcheck: model %q not found among installed models", p.cfg.Model)
}

// PriceEstimate reports local models as unpriced.
func (p *OllamaProvider) PriceEstimate(inTokens, outTokens int) PriceEstimate {
	return PriceEstimate{Unpriced: true}
}
