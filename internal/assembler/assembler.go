// Package assembler builds the bounded prompt package handed to each Scene
// Pipeline agent: retrieved fragments, Style/World Bible, Character block,
// Facts block, and Episodic Recap, each truncated to a configured byte
// budget — spec §4.2.
package assembler

import (
	"sort"
	"strings"

	"github.com/loomforge/loom/internal/budget"
	"github.com/loomforge/loom/internal/config"
	"github.com/loomforge/loom/internal/memory"
	"github.com/loomforge/loom/internal/model"
	"github.com/loomforge/loom/internal/retriever"
)

// Assembler composes per-agent prompt context from the project's memory
// subsystems and retriever index, subject to config.BudgetsConfig.
type Assembler struct {
	Budgets     config.BudgetsConfig
	Bible       model.Bible
	Characters  map[string]model.CharacterCard
	Facts       *memory.FactsManager
	Episodic    *memory.EpisodicMemoryManager
	ContextBldr *retriever.ContextBuilder
}

// Assemble builds the full prompt package for agentType given query,
// concatenating, in order: retrieved block, Style Bible, World Bible,
// Character block, Facts block, Episodic Recap — each hard-truncated to
// its configured byte budget, mirroring spec §4.2's Assembly rule.
func (a *Assembler) Assemble(query, agentType string) string {
	var sections []string

	if a.ContextBldr != nil {
		if retrieved := a.ContextBldr.BuildContext(query, agentType); retrieved != "" {
			sections = append(sections, budget.TruncateBytes(retrieved, a.budgets().Retrieved))
		}
	}

	if styleBlock := formatStyle(a.Bible); styleBlock != "" {
		sections = append(sections, budget.TruncateBytes(styleBlock, a.budgets().Bible))
	}
	if worldBlock := formatWorld(a.Bible); worldBlock != "" {
		sections = append(sections, budget.TruncateBytes(worldBlock, a.budgets().Bible))
	}

	if len(a.Characters) > 0 {
		sections = append(sections, budget.TruncateBytes(memory.FormatAll(a.Characters), a.budgets().Characters))
	}

	if a.Facts != nil {
		if factsBlock := a.Facts.GetFactsForContext(a.budgets().Facts); factsBlock != "" {
			sections = append(sections, factsBlock)
		}
	}

	if a.Episodic != nil {
		if recap := a.Episodic.GetRecentSummary(5); recap != "" {
			sections = append(sections, budget.TruncateBytes(recap, a.budgets().Recap))
		}
	}

	return strings.Join(sections, "\n\n")
}

func (a *Assembler) budgets() config.BudgetsConfig {
	if a.Budgets == (config.BudgetsConfig{}) {
		return config.DefaultBudgets
	}
	return a.Budgets
}

func formatStyle(b model.Bible) string {
	s := b.Style
	if s.Viewpoint == "" && s.FirstPerson == "" && s.SentenceEnding == "" &&
		s.Metaphor == "" && len(s.Forbidden) == 0 {
		return ""
	}
	var out strings.Builder
	out.WriteString("## Style Bible\n\n")
	if s.Viewpoint != "" {
		out.WriteString("Viewpoint: " + s.Viewpoint + "\n")
	}
	if s.FirstPerson != "" {
		out.WriteString("First person: " + s.FirstPerson + "\n")
	}
	if s.SentenceEnding != "" {
		out.WriteString("Sentence ending: " + s.SentenceEnding + "\n")
	}
	if s.Metaphor != "" {
		out.WriteString("Metaphor register: " + s.Metaphor + "\n")
	}
	if len(s.Forbidden) > 0 {
		out.WriteString("Forbidden: " + strings.Join(s.Forbidden, ", ") + "\n")
	}
	return out.String()
}

func formatWorld(b model.Bible) string {
	w := b.World
	if w.Overview == "" && w.Rules == "" && len(w.Glossary) == 0 {
		return ""
	}
	var out strings.Builder
	out.WriteString("## World Bible\n\n")
	if w.Overview != "" {
		out.WriteString("Overview: " + w.Overview + "\n")
	}
	if w.Rules != "" {
		out.WriteString("Rules: " + w.Rules + "\n")
	}
	if len(w.Glossary) > 0 {
		out.WriteString("Glossary:\n")
		terms := make([]string, 0, len(w.Glossary))
		for term := range w.Glossary {
			terms = append(terms, term)
		}
		sort.Strings(terms)
		for _, term := range terms {
			out.WriteString("- " + term + ": " + w.Glossary[term] + "\n")
		}
	}
	return out.String()
}
