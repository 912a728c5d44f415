package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomforge/loom/internal/config"
	"github.com/loomforge/loom/internal/provider"
	"github.com/loomforge/loom/internal/session"
)

const sceneSpecJSON = `{
  "scene": {"id": "ch1-s1", "chapter": 1, "sequence_in_chapter": 1, "title": "Arrival"},
  "narrative": {"objective": "introduce Kira", "summary": "Kira arrives", "key_events": ["gate opens"], "revelations": [], "hooks": []},
  "constraints": {"pov_character": "kira", "location": "gate", "mood": "tense", "characters_present": ["kira"]},
  "continuity": {"facts_to_reinforce": [], "foreshadowing_to_resolve": [], "foreshadowing_to_plant": []},
  "style": {"pacing": "normal", "dialogue_ratio": "medium"}
}`

// scriptedServer replies with the next entry in replies on each request,
// repeating the last entry once exhausted — lets one fake provider stand in
// for every role's Generate call a scene makes (Director, Writer, and the
// optional Checker/Editor calls; the Committer makes none).
func scriptedServer(t *testing.T, replies []string) (*httptest.Server, func()) {
	t.Helper()
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := replies[i]
		if i < len(replies)-1 {
			i++
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": content},
			"done":    true,
		})
	}))
	return srv, srv.Close
}

func setupProject(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "bible.md"), []byte("## Style Bible\n視点: third person\n\n## World Bible\n概要: a foggy city\n"), 0o644); err != nil {
		t.Fatalf("write bible.md: %v", err)
	}
}

func newTestPipeline(t *testing.T, replies []string) (*Pipeline, *session.Session, string) {
	t.Helper()
	dir := t.TempDir()
	setupProject(t, dir)

	srv, closeFn := scriptedServer(t, replies)
	t.Cleanup(closeFn)

	reg := provider.NewRegistry()
	reg.RegisterBuiltins()
	cfg := provider.RoleConfig{
		Default: "local",
		Available: map[string]*provider.Config{
			"local": {Name: "local", Backend: provider.BackendOllama, BaseURL: srv.URL, Model: "llama3"},
		},
	}
	router := provider.NewRouter(reg, cfg, 0, 0)

	sess, err := session.New(dir, 200)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	p, err := New(dir, router, sess, provider.NewCostTracker(nil), config.DefaultBudgets)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p, sess, dir
}

func TestPipeline_GenerateScene_HappyPathPersistsChapterAndAdvancesScene(t *testing.T) {
	p, sess, dir := newTestPipeline(t, []string{
		"```json\n" + sceneSpecJSON + "\n```",
		"霧の中、キラは門の前に立っていた。",
	})

	startScene := sess.Context.CurrentScene
	trace, err := p.GenerateScene(context.Background(), Request{UserIntention: "Kira arrives at the gate", Chapter: 1, Scene: 1})
	if err != nil {
		t.Fatalf("GenerateScene: %v", err)
	}
	if trace.FinalText == "" {
		t.Fatalf("expected non-empty final text")
	}
	if len(trace.Stages) != 2 {
		t.Fatalf("expected director+writer stage traces, got %+v", trace.Stages)
	}

	data, err := os.ReadFile(filepath.Join(dir, "chapters", "chapter_001.md"))
	if err != nil {
		t.Fatalf("read chapter file: %v", err)
	}
	if string(data) != trace.FinalText {
		t.Errorf("chapter file content mismatch: got %q want %q", string(data), trace.FinalText)
	}

	if sess.Context.CurrentScene != startScene+1 {
		t.Errorf("expected scene counter to advance, got %d", sess.Context.CurrentScene)
	}
}

func TestPipeline_GenerateScene_OverwritesPriorChapterContent(t *testing.T) {
	p, _, dir := newTestPipeline(t, []string{
		"```json\n" + sceneSpecJSON + "\n```",
		"最初のシーン。",
	})

	chapterPath := filepath.Join(dir, "chapters", "chapter_001.md")
	if err := os.MkdirAll(filepath.Dir(chapterPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(chapterPath, []byte("stale content from a previous run"), 0o644); err != nil {
		t.Fatalf("seed stale chapter: %v", err)
	}

	if _, err := p.GenerateScene(context.Background(), Request{UserIntention: "Kira arrives", Chapter: 1, Scene: 1}); err != nil {
		t.Fatalf("GenerateScene: %v", err)
	}

	data, err := os.ReadFile(chapterPath)
	if err != nil {
		t.Fatalf("read chapter file: %v", err)
	}
	if string(data) == "stale content from a previous run" {
		t.Fatalf("expected chapter file to be overwritten, got stale content")
	}
}

func TestPipeline_GenerateScene_DirectorDegradesGracefullyIntoWriterPrompt(t *testing.T) {
	p, _, _ := newTestPipeline(t, []string{
		"I'm unable to produce structured JSON for this scene.",
		"とにかく書いてみた。",
	})

	trace, err := p.GenerateScene(context.Background(), Request{UserIntention: "Kira arrives", Chapter: 3, Scene: 2})
	if err != nil {
		t.Fatalf("GenerateScene should tolerate a degraded SceneSpec: %v", err)
	}
	if trace.FinalText == "" {
		t.Fatalf("expected writer stage to still produce text from a degraded scene spec")
	}
}
