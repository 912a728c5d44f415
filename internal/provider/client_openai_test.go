package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestOpenAIProvider_Generate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization header = %q, want bearer token", got)
		}
		var req openAIChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Messages[0].Role != "system" {
			t.Errorf("expected system message kept in flat list, got role %q", req.Messages[0].Role)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}],"usage":{"prompt_tokens":20,"completion_tokens":8}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&Config{Name: "hosted", Backend: BackendOpenAI, BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o"})
	result, err := p.Generate(context.Background(), []*schema.Message{
		{Role: schema.System, Content: "sys"},
		{Role: schema.User, Content: "hi"},
	}, Params{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "hi there" {
		t.Errorf("Text = %q, want %q", result.Text, "hi there")
	}
}

func TestOpenAIProvider_Generate_JSONModeSetsResponseFormat(t *testing.T) {
	t.Parallel()
	var gotFormat *openAIResponseFormat
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotFormat = req.ResponseFormat
		_ = json.NewEncoder(w).Encode(openAIChatResponse{})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&Config{Name: "hosted", Backend: BackendOpenAI, BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o"})
	_, _ = p.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, Params{JSONMode: true})
	if gotFormat == nil || gotFormat.Type != "json_object" {
		t.Errorf("ResponseFormat = %+v, want {Type: json_object}", gotFormat)
	}
}

func TestOpenAIProvider_Generate_ClassifiesAuthError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "bad key"}})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&Config{Name: "hosted", Backend: BackendOpenAI, BaseURL: srv.URL, APIKey: "bad", Model: "gpt-4o"})
	_, err := p.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, Params{})
	if _, ok := err.(*AuthError); !ok {
		t.Errorf("expected *AuthError, got %T: %v", err, err)
	}
}

func TestOpenAIProvider_Generate_ClassifiesRateLimitError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "slow down"}})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&Config{Name: "hosted", Backend: BackendOpenAI, BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o"})
	_, err := p.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, Params{})
	if _, ok := err.(*RateLimitError); !ok {
		t.Errorf("expected *RateLimitError, got %T: %v", err, err)
	}
}

func TestOpenAIProvider_GenerateStream_StopsOnDoneSentinel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		frames := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		}
		for _, f := range frames {
			w.Write([]byte(f + "\n"))
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&Config{Name: "hosted", Backend: BackendOpenAI, BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o"})
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
		t.Errorf("streamed text = %q, want %q", text, "Hello")
	}
	if !sawDone {
		t.Error("expected a terminal Done chunk on [DONE] sentinel")
	}
}

func TestOpenAIProvider_PriceEstimate_PrefixMatch(t *testing.T) {
	t.Parallel()
	p := NewOpenAIProvider(&Config{Name: "hosted", Backend: BackendOpenAI, APIKey: "k", Model: "gpt-4o-mini-2024-07-18"})
	pe := p.PriceEstimate(1_000_000, 1_000_000)
	if pe.Unpriced {
		t.Fatal("expected a priced estimate for a known gpt-4o-mini variant")
	}
	if pe.USD <= 0 {
		t.Errorf("USD = %v, want > 0", pe.USD)
	}
}

func TestOpenAIProvider_PriceEstimate_UnknownModel(t *testing.T) {
	t.Parallel()
	p := NewOpenAIProvider(&Config{Name: "hosted", Backend: BackendOpenAI, APIKey: "k", Model: "totally-unknown-model"})
	if pe := p.PriceEstimate(100, 100); !pe.Unpriced {
		t.Error("expected Unpriced for an unrecognized model")
	}
}

func TestOpenAIProvider_Healthcheck(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&Config{Name: "hosted", Backend: BackendOpenAI, BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o"})
	if err := p.Healthcheck(context.Background()); err != nil {
		t.Errorf("Healthcheck() error = %v", err)
	}
}
