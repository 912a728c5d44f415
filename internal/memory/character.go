package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomforge/loom/internal/model"
)

// charactersSubdir is the project-relative directory holding one JSON file
// per character.
const charactersSubdir = "characters"

// characterFile is the on-disk shape of a characters/<id>.json file — a
// superset of model.CharacterCard permitting an optional "_meta" envelope
// the loader discards, mirroring CharacterLoader.load.
type characterFile struct {
	Meta json.RawMessage `json:"_meta,omitempty"`
	ID   string          `json:"id"`
	Name struct {
		Full  string `json:"full"`
		Short string `json:"short"`
	} `json:"name"`
	Language struct {
		Tone          string   `json:"tone"`
		FirstPerson   string   `json:"first_person"`
		SpeechPattern string   `json:"speech_pattern"`
		Forbidden     []string `json:"forbidden_words"`
	} `json:"language"`
	Personality struct {
		Values    []string          `json:"values"`
		Relations map[string]string `json:"relations"`
	} `json:"personality"`
	Narrative struct {
		Role string `json:"role"`
	} `json:"narrative"`
}

func (f characterFile) toCard() model.CharacterCard {
	return model.CharacterCard{
		ID:   f.ID,
		Name: model.CharacterName{Full: f.Name.Full, Short: f.Name.Short},
		Language: model.Language{
			Tone:          f.Language.Tone,
			FirstPerson:   f.Language.FirstPerson,
			SpeechPattern: f.Language.SpeechPattern,
			Forbidden:     f.Language.Forbidden,
		},
		Personality: model.Personality{
			Values:    f.Personality.Values,
			Relations: f.Personality.Relations,
		},
		Narrative: model.Narrative{Role: f.Narrative.Role},
	}
}

func cardToFile(c model.CharacterCard) characterFile {
	var f characterFile
	f.ID = c.ID
	f.Name.Full, f.Name.Short = c.Name.Full, c.Name.Short
	f.Language.Tone = c.Language.Tone
	f.Language.FirstPerson = c.Language.FirstPerson
	f.Language.SpeechPattern = c.Language.SpeechPattern
	f.Language.Forbidden = c.Language.Forbidden
	f.Personality.Values = c.Personality.Values
	f.Personality.Relations = c.Personality.Relations
	f.Narrative.Role = c.Narrative.Role
	return f
}

// CharacterLoader loads and saves character cards under a project's
// characters/ directory, mirroring original_source's CharacterLoader.
type CharacterLoader struct {
	ProjectPath string
	// Log receives a warning for each card skipped during LoadAll due to a
	// parse or validation failure. Defaults to slog.Default() when nil.
	Log *slog.Logger
}

func (l *CharacterLoader) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Load reads and validates one character JSON file.
func (l *CharacterLoader) Load(path string) (model.CharacterCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.CharacterCard{}, fmt.Errorf("memory: load character %s: %w", path, err)
	}
	var f characterFile
	if err := json.Unmarshal(data, &f); err != nil {
		return model.CharacterCard{}, fmt.Errorf("memory: parse character %s: %w", path, err)
	}
	card := f.toCard()
	if card.ID == "" {
		card.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return card, nil
}

// LoadAll loads every characters/*.json file, keyed by id. Cards that fail
// to parse or validate are skipped with a logged warning rather than
// failing the whole load (spec §3 Character Card invariant).
func (l *CharacterLoader) LoadAll() map[string]model.CharacterCard {
	dir := filepath.Join(l.ProjectPath, charactersSubdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return map[string]model.CharacterCard{}
	}

	out := make(map[string]model.CharacterCard)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		card, err := l.Load(path)
		if err != nil {
			l.log().Warn("memory: skipping unreadable character file", "path", path, "error", err)
			continue
		}
		if err := card.Validate(); err != nil {
			l.log().Warn("memory: skipping invalid character card", "path", path, "error", err)
			continue
		}
		out[card.ID] = card
	}
	return out
}

// LoadByName looks up a character by exact id, then by full/short name
// (case-insensitive), mirroring CharacterLoader.load_by_name.
func (l *CharacterLoader) LoadByName(name string) (model.CharacterCard, bool) {
	characters := l.LoadAll()
	if c, ok := characters[name]; ok {
		return c, true
	}
	lower := strings.ToLower(name)
	for _, c := range characters {
		if strings.ToLower(c.Name.Full) == lower || strings.ToLower(c.Name.Short) == lower {
			return c, true
		}
	}
	return model.CharacterCard{}, false
}

// Save writes a character card to characters/<id>.json, creating the
// directory if needed.
func (l *CharacterLoader) Save(c model.CharacterCard) error {
	dir := filepath.Join(l.ProjectPath, charactersSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory: create characters dir: %w", err)
	}
	id := c.ID
	if id == "" {
		id = "character"
	}
	data, err := json.MarshalIndent(cardToFile(c), "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal character %s: %w", id, err)
	}
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("memory: write character %s: %w", id, err)
	}
	return nil
}

// ListCharacters returns every character id under the project, sorted.
func (l *CharacterLoader) ListCharacters() []string {
	characters := l.LoadAll()
	ids := make([]string, 0, len(characters))
	for id := range characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FormatAll renders every character as a prompt-ready block, mirroring
// CharacterFormatter.format_all.
func FormatAll(characters map[string]model.CharacterCard) string {
	if len(characters) == 0 {
		return "(no characters defined)"
	}
	ids := make([]string, 0, len(characters))
	for id := range characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("## Characters\n\n")
	for _, id := range ids {
		b.WriteString(characters[id].FormatForPrompt())
		b.WriteString("\n")
	}
	return b.String()
}

// FormatByRole renders only characters whose Narrative.Role matches role,
// mirroring CharacterFormatter.format_by_role.
func FormatByRole(characters map[string]model.CharacterCard, role string) string {
	filtered := make(map[string]model.CharacterCard)
	for id, c := range characters {
		if c.Narrative.Role == role {
			filtered[id] = c
		}
	}
	return FormatAll(filtered)
}
