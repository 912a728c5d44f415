package agent

import (
	"fmt"
	"strings"

	"github.com/loomforge/loom/internal/memory"
	"github.com/loomforge/loom/internal/model"
)

// Committer applies a completed scene's effects to persistent memory:
// episodic recap, fact extraction, and foreshadowing transitions.
type Committer struct {
	Episodic      *memory.EpisodicMemoryManager
	Facts         *memory.FactsManager
	Foreshadowing *memory.ForeshadowingManager
}

// Commit updates episodic memory, extracts facts, and applies the
// SceneSpec's continuity directives, mirroring CommitterAgent.commit.
//
// The original source reads scenespec["narrary"] where it means
// scenespec["narrative"] — a typo that, in Python, always raises KeyError
// and silently defeats key_events extraction. This implementation reads
// the correctly spelled key; see TestCommitterKeyEventsUsesNarrativeKeyNotTypo.
func (c *Committer) Commit(text string, chapter, scene int, spec *model.SceneSpec) model.CommitReport {
	report := model.CommitReport{Chapter: chapter, Scene: scene}

	summary := memory.SimpleSummarizer{}.Summarize(text)

	var keyEvents []string
	var pov string
	if spec != nil {
		keyEvents = spec.Narrative.KeyEvents
		pov = spec.Constraints.POVCharacter
	}

	if c.Episodic != nil {
		if err := c.Episodic.AddSceneSummary(chapter, scene, formatSceneSummary(summary, pov, keyEvents)); err == nil {
			report.EpisodicUpdated = true
		}
	}

	if c.Facts != nil {
		chapterTag := chapterTag(chapter)
		for _, content := range memory.ExtractFactsFromText(text, chapterTag) {
			id, err := c.Facts.AddFact(content, chapterTag, model.FactImmutable, nil)
			if err == nil {
				report.FactsAdded = append(report.FactsAdded, id)
			}
		}
	}

	if c.Foreshadowing != nil && spec != nil {
		chapterTag := chapterTag(chapter)
		for _, id := range spec.Continuity.ForeshadowingToResolve {
			if id == "" {
				continue
			}
			if err := c.Foreshadowing.Resolve(id, chapterTag, ""); err == nil {
				report.ForeshadowingResolved = append(report.ForeshadowingResolved, id)
			}
		}
		for _, content := range spec.Continuity.ForeshadowingToPlant {
			if content == "" {
				continue
			}
			id, err := c.Foreshadowing.Plant(content, chapterTag, "", model.PriorityMedium, nil)
			if err == nil {
				report.ForeshadowingPlanted = append(report.ForeshadowingPlanted, id)
			}
		}
	}

	return report
}

func chapterTag(chapter int) string {
	return fmt.Sprintf("chapter_%03d", chapter)
}

func formatSceneSummary(summary, pov string, keyEvents []string) string {
	var b strings.Builder
	b.WriteString(summary)
	if pov != "" {
		fmt.Fprintf(&b, "\n\nPOV: %s", pov)
	}
	if len(keyEvents) > 0 {
		b.WriteString("\n\nKey events: " + strings.Join(keyEvents, "; "))
	}
	return b.String()
}

// MemoryUpdateSuggestion previews a foreshadowing entry that text appears
// to address, without mutating any store.
type MemoryUpdateSuggestion struct {
	ID      string
	Content string
	Action  string
}

// SuggestMemoryUpdates previews what Commit would extract/resolve without
// mutating any store, mirroring CommitterAgent.suggest_memory_updates — used
// by a diagnostics command for human review before a real commit.
func (c *Committer) SuggestMemoryUpdates(text string) (facts []string, foreshadowing []MemoryUpdateSuggestion) {
	if c.Facts != nil {
		facts = memory.ExtractFactsFromText(text, "preview")
	}

	if c.Foreshadowing != nil {
		lower := strings.ToLower(text)
		for _, fs := range c.Foreshadowing.GetUnresolved("") {
			if fs.Content != "" && strings.Contains(lower, strings.ToLower(fs.Content)) {
				foreshadowing = append(foreshadowing, MemoryUpdateSuggestion{
					ID: fs.ID, Content: fs.Content, Action: "consider_resolving",
				})
			}
		}
	}

	return facts, foreshadowing
}
