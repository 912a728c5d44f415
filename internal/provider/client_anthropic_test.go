package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestAnthropicProvider_Generate_SystemIsTopLevelField(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key header = %q, want sk-ant-test", got)
		}
		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.System != "be terse" {
			t.Errorf("System = %q, want %q", req.System, "be terse")
		}
		for _, m := range req.Messages {
			if m.Role == "system" {
				t.Errorf("system message must not appear in the messages list, got %+v", m)
			}
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"hi there"}],"usage":{"input_tokens":12,"output_tokens":4}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(&Config{Name: "claude", Backend: BackendAnthropic, BaseURL: srv.URL, APIKey: "sk-ant-test", Model: "claude-sonnet-4"})
	result, err := p.Generate(context.Background(), []*schema.Message{
		{Role: schema.System, Content: "be terse"},
		{Role: schema.User, Content: "hi"},
	}, Params{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "hi there" {
		t.Errorf("Text = %q, want %q", result.Text, "hi there")
	}
	if result.PromptTokens != 12 || result.CompletionTokens != 4 {
		t.Errorf("token counts = %d/%d, want 12/4", result.PromptTokens, result.CompletionTokens)
	}
}

func TestAnthropicProvider_Generate_ThinkingBlockIncludedWhenRequested(t *testing.T) {
	t.Parallel()
	var gotThinking *anthropicThinking
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotThinking = req.Thinking
		w.Write([]byte(`{"content":[],"usage":{}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(&Config{Name: "claude", Backend: BackendAnthropic, BaseURL: srv.URL, APIKey: "k", Model: "claude-sonnet-4"})
	_, _ = p.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, Params{Thinking: true, ThinkingBudget: 2048})
	if gotThinking == nil {
		t.Fatal("expected a thinking block when Params.Thinking is true")
	}
	if gotThinking.BudgetTokens != 2048 {
		t.Errorf("BudgetTokens = %d, want 2048", gotThinking.BudgetTokens)
	}
}

func TestAnthropicProvider_Generate_ClassifiesAuthError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "forbidden"}})
	}))
	defer srv.Close()

	p := NewAnthropicProvider(&Config{Name: "claude", Backend: BackendAnthropic, BaseURL: srv.URL, APIKey: "k", Model: "claude-sonnet-4"})
	_, err := p.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, Params{})
	if _, ok := err.(*AuthError); !ok {
		t.Errorf("expected *AuthError, got %T: %v", err, err)
	}
}

func TestAnthropicProvider_GenerateStream_OnlyTextDeltaContributesProse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events := []string{
			"event: content_block_start\ndata: {\"type\":\"content_block_start\"}\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n",
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":2}}\n",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n",
		}
		for _, e := range events {
			w.Write([]byte(e))
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider(&Config{Name: "claude", Backend: BackendAnthropic, BaseURL: srv.URL, APIKey: "k", Model: "claude-sonnet-4"})
	ch, err := p.GenerateStream(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, Params{})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	var text string
	var sawDone bool
	for chunk := range ch {
		text += chunk.Content
		if chunk.Done {
			sawDone = true
		}
	}
	if text != "Hello" {
		t.Errorf("streamed text = %q, want %q (non-text_delta events must be ignored)", text, "Hello")
	}
	if !sawDone {
		t.Error("expected a terminal Done chunk on message_stop")
	}
}

func TestAnthropicProvider_PriceEstimate_ExactModelID(t *testing.T) {
	t.Parallel()
	p := NewAnthropicProvider(&Config{Name: "claude", Backend: BackendAnthropic, APIKey: "k", Model: "claude-opus-4"})
	pe := p.PriceEstimate(1_000_000, 1_000_000)
	if pe.Unpriced {
		t.Fatal("expected a priced estimate for claude-opus-4")
	}
	if pe.USD != 15.00+75.00 {
		t.Errorf("USD = %v, want %v", pe.USD, 15.00+75.00)
	}
}

func TestAnthropicProvider_PriceEstimate_UnknownModel(t *testing.T) {
	t.Parallel()
	p := NewAnthropicProvider(&Config{Name: "claude", Backend: BackendAnthropic, APIKey: "k", Model: "claude-mystery"})
	if pe := p.PriceEstimate(100, 100); !pe.Unpriced {
		t.Error("expected Unpriced for an unrecognized exact model id")
	}
}
