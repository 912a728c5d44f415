package memory

import (
	"os"
	"path/filepath"
	"testing"
)

const validCharacterJSON = `{
  "_meta": {"schema_version": 1},
  "id": "kira",
  "name": {"full": "Kira Voss", "short": "Kira"},
  "language": {
    "tone": "guarded",
    "first_person": "I",
    "speech_pattern": "clipped",
    "forbidden_words": ["destiny"]
  },
  "personality": {"values": ["loyalty"], "relations": {}},
  "narrative": {"role": "protagonist"}
}`

const invalidCharacterJSON = `{
  "id": "ghost",
  "name": {"full": "Ghost"}
}`

func writeCharacterFile(t *testing.T, dir, id, content string) {
	t.Helper()
	charDir := filepath.Join(dir, charactersSubdir)
	if err := os.MkdirAll(charDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(charDir, id+".json"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestCharacterLoader_LoadAll_SkipsInvalidCards(t *testing.T) {
	dir := t.TempDir()
	writeCharacterFile(t, dir, "kira", validCharacterJSON)
	writeCharacterFile(t, dir, "ghost", invalidCharacterJSON)

	loader := &CharacterLoader{ProjectPath: dir}
	characters := loader.LoadAll()

	if len(characters) != 1 {
		t.Fatalf("got %d characters, want 1 (invalid card skipped)", len(characters))
	}
	if _, ok := characters["kira"]; !ok {
		t.Fatalf("expected kira to load: %+v", characters)
	}
	if _, ok := characters["ghost"]; ok {
		t.Fatalf("expected ghost to be skipped for missing required fields")
	}
}

func TestCharacterLoader_LoadByName_FindsByIDAndFullName(t *testing.T) {
	dir := t.TempDir()
	writeCharacterFile(t, dir, "kira", validCharacterJSON)

	loader := &CharacterLoader{ProjectPath: dir}
	c, ok := loader.LoadByName("kira")
	if !ok || c.ID != "kira" {
		t.Fatalf("LoadByName(kira) = %+v, %v", c, ok)
	}

	c2, ok := loader.LoadByName("Kira Voss")
	if !ok || c2.ID != "kira" {
		t.Fatalf("LoadByName(Kira Voss) = %+v, %v", c2, ok)
	}

	if _, ok := loader.LoadByName("nobody"); ok {
		t.Fatalf("LoadByName(nobody) unexpectedly found a match")
	}
}

func TestCharacterLoader_SaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	loader := &CharacterLoader{ProjectPath: dir}

	writeCharacterFile(t, dir, "kira", validCharacterJSON)
	loaded, ok := loader.LoadByName("kira")
	if !ok {
		t.Fatalf("expected kira to load before save round trip")
	}
	loaded.Name.Short = "K"
	if err := loader.Save(loaded); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, ok := loader.LoadByName("kira")
	if !ok || reloaded.Name.Short != "K" {
		t.Fatalf("round-tripped card = %+v, %v", reloaded, ok)
	}
}

func TestFormatAll_EmptySetReturnsPlaceholder(t *testing.T) {
	out := FormatAll(nil)
	if out != "(no characters defined)" {
		t.Fatalf("FormatAll(nil) = %q", out)
	}
}
