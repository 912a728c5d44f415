package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomforge/loom/internal/model"
)

type foreshadowFile struct {
	Meta           foreshadowMeta     `json:"_meta,omitempty"`
	Foreshadowings []foreshadowRecord `json:"foreshadowings"`
}

type foreshadowMeta struct {
	Description string `json:"description"`
	Total       int    `json:"total"`
	Unresolved  int    `json:"unresolved"`
	Resolved    int    `json:"resolved"`
	Abandoned   int    `json:"abandoned"`
}

type foreshadowRecord struct {
	ID                string   `json:"id"`
	Content           string   `json:"content"`
	Status            string   `json:"status"`
	CreatedIn         string   `json:"created_in"`
	TargetResolution  string   `json:"target_resolution,omitempty"`
	RelatedChapters   []string `json:"related_chapters"`
	ResolutionChapter string   `json:"resolution_chapter,omitempty"`
	ResolutionNote    string   `json:"resolution_note,omitempty"`
	Priority          string   `json:"priority"`
	Tags              []string `json:"tags"`
}

func (r foreshadowRecord) toEntry() model.Foreshadowing {
	return model.Foreshadowing{
		ID: r.ID, Content: r.Content, Status: model.ForeshadowingStatus(r.Status),
		CreatedIn: r.CreatedIn, TargetResolution: r.TargetResolution,
		RelatedChapters: r.RelatedChapters, ResolutionChapter: r.ResolutionChapter,
		ResolutionNote: r.ResolutionNote, Priority: model.Priority(r.Priority), Tags: r.Tags,
	}
}

func entryToRecord(f model.Foreshadowing) foreshadowRecord {
	return foreshadowRecord{
		ID: f.ID, Content: f.Content, Status: string(f.Status), CreatedIn: f.CreatedIn,
		TargetResolution: f.TargetResolution, RelatedChapters: f.RelatedChapters,
		ResolutionChapter: f.ResolutionChapter, ResolutionNote: f.ResolutionNote,
		Priority: string(f.Priority), Tags: f.Tags,
	}
}

// ForeshadowingManager enforces the promise-and-payoff state machine:
// unresolved -> resolved | abandoned (terminal), spec §3/§4.3.
type ForeshadowingManager struct {
	ProjectPath string
}

func (m *ForeshadowingManager) path() string {
	return filepath.Join(m.ProjectPath, "memory", "foreshadow.json")
}

// Load returns every tracked foreshadowing entry, or nil on missing/malformed store.
func (m *ForeshadowingManager) Load() []model.Foreshadowing {
	data, err := os.ReadFile(m.path())
	if err != nil {
		return nil
	}
	var f foreshadowFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	out := make([]model.Foreshadowing, len(f.Foreshadowings))
	for i, r := range f.Foreshadowings {
		out[i] = r.toEntry()
	}
	return out
}

// Save overwrites the store, recomputing the _meta status counts.
func (m *ForeshadowingManager) Save(entries []model.Foreshadowing) error {
	var unresolved, resolved, abandoned int
	records := make([]foreshadowRecord, len(entries))
	for i, e := range entries {
		records[i] = entryToRecord(e)
		switch e.Status {
		case model.ForeshadowingUnresolved:
			unresolved++
		case model.ForeshadowingResolved:
			resolved++
		case model.ForeshadowingAbandoned:
			abandoned++
		}
	}
	doc := foreshadowFile{
		Meta: foreshadowMeta{
			Description: "Foreshadowing Tracker - SSOT",
			Total:       len(entries), Unresolved: unresolved, Resolved: resolved, Abandoned: abandoned,
		},
		Foreshadowings: records,
	}
	return writeJSONFile(m.path(), doc)
}

// Plant appends a new "unresolved" entry, assigning the next monotonic
// "fsNNN" id.
func (m *ForeshadowingManager) Plant(content, chapter, targetChapter string, priority model.Priority, tags []string) (string, error) {
	entries := m.Load()
	if priority == "" {
		priority = model.PriorityMedium
	}
	id := fmt.Sprintf("fs%03d", len(entries)+1)
	entries = append(entries, model.Foreshadowing{
		ID: id, Content: content, Status: model.ForeshadowingUnresolved,
		CreatedIn: chapter, TargetResolution: targetChapter,
		RelatedChapters: []string{chapter}, Priority: priority, Tags: tags,
	})
	if err := m.Save(entries); err != nil {
		return "", err
	}
	return id, nil
}

// Resolve transitions id to "resolved". Absent ids are a no-op. Already
// resolved or abandoned entries are terminal and are left unchanged —
// enforcing the at-most-one-transition invariant (idempotent Committer
// re-runs never double-resolve).
func (m *ForeshadowingManager) Resolve(id, chapter, note string) error {
	entries := m.Load()
	for i, e := range entries {
		if e.ID != id || e.Status != model.ForeshadowingUnresolved {
			continue
		}
		e.Status = model.ForeshadowingResolved
		e.ResolutionChapter = chapter
		e.ResolutionNote = note
		if !containsString(e.RelatedChapters, chapter) {
			e.RelatedChapters = append(e.RelatedChapters, chapter)
		}
		entries[i] = e
		break
	}
	return m.Save(entries)
}

// Abandon transitions id to "abandoned". Absent ids, or ids already in a
// terminal state, are a no-op.
func (m *ForeshadowingManager) Abandon(id, chapter, reason string) error {
	entries := m.Load()
	for i, e := range entries {
		if e.ID != id || e.Status != model.ForeshadowingUnresolved {
			continue
		}
		if reason == "" {
			reason = "Abandoned"
		}
		e.Status = model.ForeshadowingAbandoned
		e.ResolutionChapter = chapter
		e.ResolutionNote = reason
		entries[i] = e
		break
	}
	return m.Save(entries)
}

// GetUnresolved returns unresolved entries, optionally filtered by
// priority, sorted high before medium before low.
func (m *ForeshadowingManager) GetUnresolved(priority model.Priority) []model.Foreshadowing {
	var out []model.Foreshadowing
	for _, e := range m.Load() {
		if e.Status != model.ForeshadowingUnresolved {
			continue
		}
		if priority != "" && e.Priority != priority {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return model.PriorityRank(out[i].Priority) < model.PriorityRank(out[j].Priority)
	})
	return out
}

// GetForContext renders unresolved entries (capped at maxItems, priority
// order) plus the last three resolved entries, mirroring
// ForeshadowingManager.get_for_context.
func (m *ForeshadowingManager) GetForContext(maxItems int) string {
	entries := m.Load()
	if len(entries) == 0 {
		return ""
	}

	unresolved := m.GetUnresolved("")
	if len(unresolved) > maxItems {
		unresolved = unresolved[:maxItems]
	}

	var resolved []model.Foreshadowing
	for _, e := range entries {
		if e.Status == model.ForeshadowingResolved {
			resolved = append(resolved, e)
		}
	}
	if len(resolved) > 3 {
		resolved = resolved[len(resolved)-3:]
	}

	var b strings.Builder
	b.WriteString("## Foreshadowing\n\n")
	if len(unresolved) > 0 {
		b.WriteString("### Unresolved\n")
		for _, e := range unresolved {
			fmt.Fprintf(&b, "- [%s] %s (priority: %s)\n", e.ID, e.Content, e.Priority)
		}
		b.WriteString("\n")
	}
	if len(resolved) > 0 {
		b.WriteString("### Recently Resolved\n")
		for _, e := range resolved {
			fmt.Fprintf(&b, "- [%s] %s → %s\n", e.ID, e.Content, e.ResolutionChapter)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SuggestResolutions returns unresolved entries whose target_resolution
// matches chapter, or that are heuristically overdue (priority high and at
// least 3 related chapters) — an optional Director hint, never
// auto-applied, mirroring ForeshadowingManager.suggest_resolutions.
func (m *ForeshadowingManager) SuggestResolutions(chapter string) []model.Foreshadowing {
	var out []model.Foreshadowing
	for _, e := range m.Load() {
		if e.Status != model.ForeshadowingUnresolved {
			continue
		}
		if e.TargetResolution == chapter {
			out = append(out, e)
			continue
		}
		if len(e.RelatedChapters) >= 3 && e.Priority == model.PriorityHigh {
			out = append(out, e)
		}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
