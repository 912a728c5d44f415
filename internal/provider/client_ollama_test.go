package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestOllamaProvider_Generate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("expected system message first, got role %q", req.Messages[0].Role)
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message:         struct{ Content string `json:"content"` }{Content: "hello"},
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(&Config{Name: "local", Backend: BackendOllama, BaseURL: srv.URL, Model: "llama3"})
	result, err := p.Generate(context.Background(), []*schema.Message{
		{Role: schema.System, Content: "be terse"},
		{Role: schema.User, Content: "hi"},
	}, Params{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "hello" {
		t.Errorf("Text = %q, want %q", result.Text, "hello")
	}
	if result.PromptTokens != 10 || result.CompletionTokens != 5 {
		t.Errorf("token counts = %d/%d, want 10/5", result.PromptTokens, result.CompletionTokens)
	}
}

func TestOllamaProvider_Generate_NonOKStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllamaProvider(&Config{Name: "local", Backend: BackendOllama, BaseURL: srv.URL, Model: "llama3"})
	_, err := p.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, Params{})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
	var te *TransportError
	if !asTransportError(err, &te) {
		t.Errorf("expected *TransportError, got %T: %v", err, err)
	}
}

func asTransportError(err error, target **TransportError) bool {
	te, ok := err.(*TransportError)
	if ok {
		*target = te
	}
	return ok
}

func TestOllamaProvider_Healthcheck(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "llama3:latest"}},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(&Config{Name: "local", Backend: BackendOllama, BaseURL: srv.URL, Model: "llama3"})
	if err := p.Healthcheck(context.Background()); err != nil {
		t.Errorf("Healthcheck() error = %v, want nil (prefix match on llama3)", err)
	}
}

func TestOllamaProvider_Healthcheck_ModelNotInstalled(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "mistral:latest"}},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(&Config{Name: "local", Backend: BackendOllama, BaseURL: srv.URL, Model: "llama3"})
	if err := p.Healthcheck(context.Background()); err == nil {
		t.Error("Healthcheck() expected error when model is not among installed models")
	}
}

func TestOllamaProvider_GenerateStream(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []ollamaChatResponse{
			{Message: struct{ Content string `json:"content"` }{Content: "Hel"}},
			{Message: struct{ Content string `json:"content"` }{Content: "lo"}},
			{Done: true},
		}
		for _, l := range lines {
			b, _ := json.Marshal(l)
			w.Write(append(b, '\n'))
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(&Config{Name: "local", Backend: BackendOllama, BaseURL: srv.URL, Model: "llama3"})
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
		t.Error("expected a terminal Done chunk")
	}
}

func TestOllamaProvider_PriceEstimate_AlwaysUnpriced(t *testing.T) {
	t.Parallel()
	p := NewOllamaProvider(&Config{Name: "local", Backend: BackendOllama, BaseURL: "http://x", Model: "llama3"})
	pe := p.PriceEstimate(1000, 1000)
	if !pe.Unpriced {
		t.Error("PriceEstimate() for ollama should always be Unpriced")
	}
}
