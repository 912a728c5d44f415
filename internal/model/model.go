// Package model defines the narrative engine's core record types: the
// project Bible, Character Cards, Facts, Foreshadowing entries, the
// Director's SceneSpec, and the results agents hand back to the pipeline.
//
// These are plain data shapes with validation constructors, not behavior —
// the subsystems that read and write them live in internal/memory,
// internal/agent, and internal/pipeline.
package model

import "fmt"

// Bible holds the parsed Style and World Bible sections plus the original
// raw markdown, which is always retained even when structured fields are
// missing (parsing is lenient — see internal/memory.ParseBible).
type Bible struct {
	Style Style
	World World
	// Raw is the untouched source markdown.
	Raw string
}

// Style holds the narrative voice rules extracted from the Style Bible
// section.
type Style struct {
	Viewpoint      string
	FirstPerson    string
	SentenceEnding string
	Metaphor       string
	Forbidden      []string
}

// World holds the setting rules extracted from the World Bible section.
type World struct {
	Overview string
	Rules    string
	// Glossary maps a term to its in-world definition.
	Glossary map[string]string
}

// FormatStyleSection renders the Style Bible as a prompt-ready block.
func (b Bible) FormatStyleSection() string {
	s := fmt.Sprintf("## Style Bible\nViewpoint: %s\nFirst person: %s\nSentence ending: %s\n",
		b.Style.Viewpoint, b.Style.FirstPerson, b.Style.SentenceEnding)
	if b.Style.Metaphor != "" {
		s += "Metaphor guidance: " + b.Style.Metaphor + "\n"
	}
	if len(b.Style.Forbidden) > 0 {
		s += "Forbidden: "
		for i, f := range b.Style.Forbidden {
			if i > 0 {
				s += ", "
			}
			s += f
		}
		s += "\n"
	}
	return s
}

// FormatWorldSection renders the World Bible as a prompt-ready block.
func (b Bible) FormatWorldSection() string {
	s := "## World Bible\n" + b.World.Overview + "\n"
	if b.World.Rules != "" {
		s += b.World.Rules + "\n"
	}
	for term, def := range b.World.Glossary {
		s += fmt.Sprintf("- %s: %s\n", term, def)
	}
	return s
}

// Language holds a character's speech and voice attributes.
type Language struct {
	Tone          string
	FirstPerson   string
	SpeechPattern string
	Forbidden     []string
}

// Personality holds a character's values and relational attributes.
type Personality struct {
	Values    []string
	Relations map[string]string
}

// Narrative holds a character's role within the story.
type Narrative struct {
	Role string
}

// CharacterName holds a character's full and short display names.
type CharacterName struct {
	Full  string
	Short string
}

// CharacterCard is one character's persistent record, loaded from
// characters/<id>.json. Invalid cards are skipped with a warning rather
// than failing the whole load (see internal/memory.CharacterLoader).
type CharacterCard struct {
	ID          string
	Name        CharacterName
	Language    Language
	Personality Personality
	Narrative   Narrative
}

// requiredPaths lists the dotted field paths CharacterCard.Validate checks,
// mirroring original_source/src/parsers/character_loader.py validate_schema.
var requiredPaths = []string{
	"name", "language.tone", "language.first_person",
	"language.speech_pattern", "personality.values", "language.forbidden_words",
}

// Validate reports the first missing required field, or nil if the card is
// well-formed. Field names match the dotted paths used by the original
// Python schema validator.
func (c CharacterCard) Validate() error {
	if c.Name.Full == "" && c.Name.Short == "" {
		return fmt.Errorf("character %s: missing required field %q", c.ID, "name")
	}
	if c.Language.Tone == "" {
		return fmt.Errorf("character %s: missing required field %q", c.ID, "language.tone")
	}
	if c.Language.FirstPerson == "" {
		return fmt.Errorf("character %s: missing required field %q", c.ID, "language.first_person")
	}
	if c.Language.SpeechPattern == "" {
		return fmt.Errorf("character %s: missing required field %q", c.ID, "language.speech_pattern")
	}
	if len(c.Personality.Values) == 0 {
		return fmt.Errorf("character %s: missing required field %q", c.ID, "personality.values")
	}
	if c.Language.Forbidden == nil {
		return fmt.Errorf("character %s: missing required field %q", c.ID, "language.forbidden_words")
	}
	return nil
}

// FormatForPrompt renders the character as a compact prompt block used by
// the Writer agent, mirroring CharacterCard.format_for_prompt in the
// original source.
func (c CharacterCard) FormatForPrompt() string {
	name := c.Name.Full
	if name == "" {
		name = c.Name.Short
	}
	s := fmt.Sprintf("### %s (%s)\n", name, c.Narrative.Role)
	s += fmt.Sprintf("Tone: %s | First person: %s | Speech pattern: %s\n",
		c.Language.Tone, c.Language.FirstPerson, c.Language.SpeechPattern)
	if len(c.Personality.Values) > 0 {
		s += "Values: "
		for i, v := range c.Personality.Values {
			if i > 0 {
				s += ", "
			}
			s += v
		}
		s += "\n"
	}
	if len(c.Language.Forbidden) > 0 {
		s += "Forbidden words: "
		for i, f := range c.Language.Forbidden {
			if i > 0 {
				s += ", "
			}
			s += f
		}
		s += "\n"
	}
	return s
}

// FactCategory distinguishes facts that can never change from ones that may
// evolve across chapters.
type FactCategory string

const (
	FactImmutable FactCategory = "immutable"
	FactVariable  FactCategory = "variable"
)

// Fact is an immutable statement recorded by the Committer, append-only
// within FactsManager. IDs follow the "f001", "f002"... monotonic scheme.
type Fact struct {
	ID        string
	Content   string
	Category  FactCategory
	Source    string
	CreatedAt string
	Tags      []string
}

// ForeshadowingStatus is a state in the Foreshadowing finite state machine.
// Resolved and Abandoned are terminal — no further transition is permitted.
type ForeshadowingStatus string

const (
	ForeshadowingUnresolved ForeshadowingStatus = "unresolved"
	ForeshadowingResolved   ForeshadowingStatus = "resolved"
	ForeshadowingAbandoned  ForeshadowingStatus = "abandoned"
)

// Priority orders foreshadowing entries for prompt inclusion: High sorts
// before Medium sorts before Low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityRank returns the sort rank for p (lower sorts first), mirroring
// the original's {"high": 0, "medium": 1, "low": 2} map.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Foreshadowing is a tracked promise-and-payoff entry with a finite state
// machine: unresolved -> resolved | abandoned (terminal).
type Foreshadowing struct {
	ID                string
	Content           string
	Status            ForeshadowingStatus
	CreatedIn         string
	TargetResolution  string
	RelatedChapters   []string
	ResolutionChapter string
	ResolutionNote    string
	Priority          Priority
	Tags              []string
}

// Scene identifies one scene within a chapter.
type Scene struct {
	ID               string
	Chapter          int
	SequenceInChapter int
	Title            string
}

// SceneNarrative holds the Director's narrative design for a scene.
type SceneNarrative struct {
	Objective   string
	Summary     string
	KeyEvents   []string
	Revelations []string
	Hooks       []string
}

// SceneConstraints holds the Director's constraints on the Writer.
type SceneConstraints struct {
	POVCharacter      string
	Location          string
	Mood              string
	CharactersPresent []string
}

// SceneContinuity holds the foreshadowing/fact directives the Committer
// must apply after the scene is written.
type SceneContinuity struct {
	FactsToReinforce       []string
	ForeshadowingToResolve []string
	ForeshadowingToPlant   []string
}

// SceneStyle holds pacing hints for the Writer.
type SceneStyle struct {
	Pacing        string
	DialogueRatio string
}

// SceneSpec is the Director's structured design document, consumed by
// Writer, Checker, and Committer. It may degrade to Raw-only when the
// Director's JSON output fails to parse (see internal/agent.Director).
type SceneSpec struct {
	Scene      Scene
	Narrative  SceneNarrative
	Constraints SceneConstraints
	Continuity SceneContinuity
	Style      SceneStyle
	// Raw holds the Director's unparsed text when JSON extraction failed.
	// Non-empty Raw indicates a degraded SceneSpec per spec §4.4.
	Raw string
}

// Degraded reports whether this SceneSpec is a raw-text fallback rather
// than a fully parsed structured document.
func (s SceneSpec) Degraded() bool {
	return s.Raw != "" && s.Scene.ID == ""
}

// GenerationResult is what every Provider call returns to its calling agent.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
	Provider         string
	DurationMS       int64
}

// IssueCategory classifies a Checker finding.
type IssueCategory string

const (
	IssueFact      IssueCategory = "fact"
	IssueCharacter IssueCategory = "character"
	IssueWorld     IssueCategory = "world"
	IssuePOV       IssueCategory = "pov"
	IssueStyle     IssueCategory = "style"
)

// IssueSeverity ranks how serious a Checker finding is.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
	SeverityInfo    IssueSeverity = "info"
)

// Issue is one continuity problem reported by the Checker. The Checker
// never mutates text — it only reports.
type Issue struct {
	Category    IssueCategory
	Severity    IssueSeverity
	Description string
	Location    string
	Suggestion  string
}

// HasRevisableIssues reports whether issues contains at least one entry of
// error or warning severity — the trigger for the pipeline's at-most-one
// Editor revision pass (spec §4.5).
func HasRevisableIssues(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError || i.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// CommitReport is what the Committer returns after applying a scene's
// continuity directives to persistent memory.
type CommitReport struct {
	Chapter                int
	Scene                  int
	EpisodicUpdated        bool
	FactsAdded             []string
	ForeshadowingResolved  []string
	ForeshadowingPlanted   []string
}
