package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/loomforge/loom/internal/model"
)

func TestWriter_Generate_StripsFencedBlockAndMetaPrefix(t *testing.T) {
	router, closeFn := testRouter(t, "writer", "```\n本文：霧の中、少女が歩いていた。\n```")
	defer closeFn()

	w := &Writer{Router: router}
	result, err := w.Generate(context.Background(), WriteRequest{
		SceneDescription: "Kira walks through fog",
		Bible:            model.Bible{},
		Characters:       map[string]model.CharacterCard{},
		WordCount:        500,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(result.Text, "```") {
		t.Errorf("expected fenced block stripped, got %q", result.Text)
	}
	if strings.HasPrefix(result.Text, "本文：") {
		t.Errorf("expected meta-prefix stripped, got %q", result.Text)
	}
}

func TestWriter_Generate_DefaultsWordCountAndTemperature(t *testing.T) {
	router, closeFn := testRouter(t, "writer", "霧の中、少女が歩いていた。")
	defer closeFn()

	w := &Writer{Router: router}
	result, err := w.Generate(context.Background(), WriteRequest{SceneDescription: "Kira walks"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Text == "" {
		t.Fatalf("expected non-empty generated text")
	}
}

func TestCleanWriterOutput_StripsKnownMetaPrefixes(t *testing.T) {
	for _, prefix := range metaPrefixes {
		got := cleanWriterOutput(prefix + "本文の内容です")
		if strings.HasPrefix(got, prefix) {
			t.Errorf("cleanWriterOutput(%q) did not strip prefix, got %q", prefix, got)
		}
	}
}
