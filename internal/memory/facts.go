package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/loomforge/loom/internal/model"
)

// DefaultMaxFacts is the spec default for FactsManager's overflow threshold.
const DefaultMaxFacts = 50

// factsFile is the on-disk shape of memory/facts.json and
// memory/facts_archive.json.
type factsFile struct {
	Meta  factsMeta       `json:"_meta,omitempty"`
	Facts []factRecord    `json:"facts"`
}

type factsMeta struct {
	Description string `json:"description"`
	Count       int    `json:"count"`
}

type factRecord struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Category  string   `json:"category"`
	Source    string   `json:"source"`
	CreatedAt string   `json:"created_at"`
	Tags      []string `json:"tags"`
}

func (r factRecord) toFact() model.Fact {
	return model.Fact{
		ID: r.ID, Content: r.Content, Category: model.FactCategory(r.Category),
		Source: r.Source, CreatedAt: r.CreatedAt, Tags: r.Tags,
	}
}

func factToRecord(f model.Fact) factRecord {
	return factRecord{ID: f.ID, Content: f.Content, Category: string(f.Category),
		Source: f.Source, CreatedAt: f.CreatedAt, Tags: f.Tags}
}

// FactsManager is the append-only immutable-facts store, spec §4.3.
type FactsManager struct {
	ProjectPath string
	MaxFacts    int
}

func (m *FactsManager) maxFacts() int {
	if m.MaxFacts <= 0 {
		return DefaultMaxFacts
	}
	return m.MaxFacts
}

func (m *FactsManager) factsPath() string {
	return filepath.Join(m.ProjectPath, "memory", "facts.json")
}

func (m *FactsManager) archivePath() string {
	return filepath.Join(m.ProjectPath, "memory", "facts_archive.json")
}

// Load returns all currently tracked facts, or an empty slice if the store
// does not exist yet or is malformed (mirroring FactsManager.load's
// swallow-and-return-empty behavior).
func (m *FactsManager) Load() []model.Fact {
	data, err := os.ReadFile(m.factsPath())
	if err != nil {
		return nil
	}
	var f factsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	facts := make([]model.Fact, len(f.Facts))
	for i, r := range f.Facts {
		facts[i] = r.toFact()
	}
	return facts
}

// Save overwrites the facts store with the given slice.
func (m *FactsManager) Save(facts []model.Fact) error {
	records := make([]factRecord, len(facts))
	for i, f := range facts {
		records[i] = factToRecord(f)
	}
	doc := factsFile{
		Meta:  factsMeta{Description: "Immutable Facts - SSOT", Count: len(facts)},
		Facts: records,
	}
	return writeJSONFile(m.factsPath(), doc)
}

// AddFact appends a new fact, assigning the next monotonic "fNNN" id, and
// archives the oldest entries once MaxFacts is exceeded.
func (m *FactsManager) AddFact(content, source string, category model.FactCategory, tags []string) (string, error) {
	facts := m.Load()

	next := len(facts) + 1
	if n := len(facts); n > 0 {
		// After archiving, the newest tracked id can exceed len(facts).
		var last int
		if _, err := fmt.Sscanf(facts[n-1].ID, "f%d", &last); err == nil && last >= next {
			next = last + 1
		}
	}
	id := fmt.Sprintf("f%03d", next)
	fact := model.Fact{
		ID: id, Content: content, Category: category, Source: source,
		CreatedAt: time.Now().UTC().Format(time.RFC3339), Tags: tags,
	}
	facts = append(facts, fact)

	if max := m.maxFacts(); len(facts) > max {
		overflow := len(facts) - max
		if err := m.archiveFacts(facts[:overflow]); err != nil {
			return "", err
		}
		facts = facts[overflow:]
	}

	if err := m.Save(facts); err != nil {
		return "", err
	}
	return id, nil
}

func (m *FactsManager) archiveFacts(facts []model.Fact) error {
	path := m.archivePath()
	var existing []model.Fact
	if data, err := os.ReadFile(path); err == nil {
		var f factsFile
		if json.Unmarshal(data, &f) == nil {
			existing = make([]model.Fact, len(f.Facts))
			for i, r := range f.Facts {
				existing[i] = r.toFact()
			}
		}
	}
	existing = append(existing, facts...)
	records := make([]factRecord, len(existing))
	for i, f := range existing {
		records[i] = factToRecord(f)
	}
	return writeJSONFile(path, factsFile{Facts: records})
}

// GetFactsForContext renders facts as a bullet list truncated to maxChars,
// mirroring FactsManager.get_facts_for_context.
func (m *FactsManager) GetFactsForContext(maxChars int) string {
	facts := m.Load()
	lines := []string{"## Facts", ""}
	currentLen := len(strings.Join(lines, "\n"))

	for _, f := range facts {
		line := "- " + f.Content
		if currentLen+len(line) > maxChars {
			lines = append(lines, "...")
			break
		}
		lines = append(lines, line)
		currentLen += len(line) + 1
	}
	return strings.Join(lines, "\n")
}

// SearchFacts returns facts whose content or tags contain query
// (case-insensitive).
func (m *FactsManager) SearchFacts(query string) []model.Fact {
	q := strings.ToLower(query)
	var out []model.Fact
	for _, f := range m.Load() {
		if strings.Contains(strings.ToLower(f.Content), q) {
			out = append(out, f)
			continue
		}
		for _, t := range f.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// factExtractRe matches simple declarative clauses: "Xは/がY(である|だった|で|に|を)".
var factExtractRe = regexp.MustCompile(`([^。]+?)(?:は|が)([^。]+?)(?:である|だった|で|に|を)`)

// ExtractFactsFromText is a best-effort regex extraction over declarative
// sentence shapes. It never fails and returns at most 5 candidates,
// mirroring FactsManager.extract_facts_from_text.
func ExtractFactsFromText(text, chapter string) []string {
	_ = chapter
	matches := factExtractRe.FindAllStringSubmatch(text, -1)
	var extracted []string
	for _, m := range matches {
		fact := m[1] + "は" + m[2]
		if n := len([]rune(fact)); n > 10 && n < 100 && !strings.Contains(fact, "「") {
			extracted = append(extracted, fact)
		}
		if len(extracted) >= 5 {
			break
		}
	}
	return extracted
}

// writeJSONFile marshals v as indented JSON and writes it to path,
// creating the parent directory if needed.
func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("memory: create dir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("memory: write %s: %w", path, err)
	}
	return nil
}
