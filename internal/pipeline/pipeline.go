// Package pipeline sequences the Scene Pipeline's five stages — Director,
// Writer, Checker, Editor, Committer — against a project's memory, session
// and provider router, with an at-most-one-revision loop, per spec §4.5.
//
// This replaces the teacher's ReAct tool-calling loop
// (internal/agent/agent.go, deleted) with an explicit stage state machine:
// generation here is five bounded single-turn calls, not an agent looping
// over tool invocations, so no orchestration library from the corpus
// applies — the stage sequence is plain control flow, grounded on
// original_source/src/pipeline/swarm.py's SwarmPipeline.generate_scene.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loomforge/loom/internal/agent"
	"github.com/loomforge/loom/internal/assembler"
	"github.com/loomforge/loom/internal/config"
	"github.com/loomforge/loom/internal/memory"
	"github.com/loomforge/loom/internal/model"
	"github.com/loomforge/loom/internal/provider"
	"github.com/loomforge/loom/internal/session"
)

// StageTrace records one agent's contribution to a scene's generation,
// mirroring SwarmPipeline.generate_scene's trace["stages"] entries.
type StageTrace struct {
	Agent      string
	DurationMS int64
	Tokens     int
}

// Trace is the full execution record for one generate_scene call, mirroring
// original_source's trace dict.
type Trace struct {
	Chapter          int
	Scene            int
	Stages           []StageTrace
	FinalText        string
	IssuesFound      int
	RevisionMade     bool
	TotalCostUSD     float64
	TotalDurationMS  int64
	Commit           model.CommitReport
}

// Request is one generate-scene call's input, mirroring
// SwarmPipeline.generate_scene's keyword arguments.
type Request struct {
	UserIntention  string
	Chapter        int
	Scene          int
	POVCharacter   string
	RequiredEvents []string
	Mood           string
	WordCount      int
	EnableRevision bool
	UseLLMCheck    bool
}

// Pipeline wires the five Scene Pipeline agents to one project's session,
// memory managers, and provider router.
type Pipeline struct {
	ProjectPath string
	Router      *provider.Router
	Session     *session.Session
	CostTracker *provider.CostTracker

	Facts         *memory.FactsManager
	Episodic      *memory.EpisodicMemoryManager
	Foreshadowing *memory.ForeshadowingManager

	Director  *agent.Director
	Writer    *agent.Writer
	Checker   *agent.Checker
	Editor    *agent.Editor
	Committer *agent.Committer
}

// New constructs a Pipeline for projectPath, wiring every agent to router
// and the project's memory managers through a shared assembler.Assembler.
func New(projectPath string, router *provider.Router, sess *session.Session, costTracker *provider.CostTracker, budgets config.BudgetsConfig) (*Pipeline, error) {
	bible, err := memory.LoadBible(projectPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load bible: %w", err)
	}

	charLoader := &memory.CharacterLoader{ProjectPath: projectPath}
	characters := charLoader.LoadAll()

	facts := &memory.FactsManager{ProjectPath: projectPath}
	episodic := &memory.EpisodicMemoryManager{ProjectPath: projectPath}
	foreshadowing := &memory.ForeshadowingManager{ProjectPath: projectPath}

	asm := &assembler.Assembler{
		Budgets:    budgets,
		Bible:      bible,
		Characters: characters,
		Facts:      facts,
		Episodic:   episodic,
	}
	if sess != nil {
		asm.ContextBldr = sess.ContextBuilder()
	}

	return &Pipeline{
		ProjectPath:   projectPath,
		Router:        router,
		Session:       sess,
		CostTracker:   costTracker,
		Facts:         facts,
		Episodic:      episodic,
		Foreshadowing: foreshadowing,
		Director:      &agent.Director{Router: router, Assembler: asm},
		Writer:        &agent.Writer{Router: router},
		Checker:       &agent.Checker{Router: router, Facts: facts, Characters: charLoader, Bible: bible},
		Editor:        &agent.Editor{Router: router},
		Committer:     &agent.Committer{Episodic: episodic, Facts: facts, Foreshadowing: foreshadowing},
	}, nil
}

// GenerateScene runs Director → Writer → Checker → [Editor] → Committer for
// one scene, persists the chapter file, and advances the session's scene
// counter on success.
//
// Fatal vs. recoverable: a Director provider failure or a Writer failure
// aborts the scene (returns an error, nothing committed); a Director
// JSON-parse failure degrades to a raw-text SceneSpec, and Checker/Editor
// failures degrade in place and the pipeline continues. Commit reports no
// errors, so once the Writer has succeeded the chapter file is written;
// only a failure to write that file is returned.
func (p *Pipeline) GenerateScene(ctx context.Context, req Request) (Trace, error) {
	chapter, scene := req.Chapter, req.Scene
	if p.Session != nil {
		if chapter == 0 {
			chapter = p.Session.Context.CurrentChapter
		}
		if scene == 0 {
			scene = p.Session.Context.CurrentScene
		}
	}
	if chapter == 0 {
		chapter = 1
	}
	if scene == 0 {
		scene = 1
	}
	wordCount := req.WordCount
	if wordCount == 0 {
		wordCount = 1000
	}

	trace := Trace{Chapter: chapter, Scene: scene}
	totalStart := time.Now()

	// Stage 1: Director.
	spec, directorResult, err := p.Director.DesignScene(ctx, agent.DesignRequest{
		UserIntention:  req.UserIntention,
		Chapter:        chapter,
		Scene:          scene,
		POVCharacter:   req.POVCharacter,
		RequiredEvents: req.RequiredEvents,
		Mood:           req.Mood,
	})
	if err != nil {
		return trace, fmt.Errorf("pipeline: director stage: %w", err)
	}
	p.logUsage(ctx, "director", directorResult)
	trace.Stages = append(trace.Stages, StageTrace{Agent: "director", DurationMS: directorResult.DurationMS,
		Tokens: directorResult.PromptTokens + directorResult.CompletionTokens})

	pov := req.POVCharacter
	if pov == "" {
		pov = spec.Constraints.POVCharacter
	}

	// Stage 2: Writer. A Writer failure is fatal for the scene.
	charLoader := &memory.CharacterLoader{ProjectPath: p.ProjectPath}
	bible, _ := memory.LoadBible(p.ProjectPath)
	writerResult, err := p.Writer.Generate(ctx, agent.WriteRequest{
		SceneDescription: sceneSpecToDescription(spec),
		Bible:            bible,
		Characters:       charLoader.LoadAll(),
		POVCharacter:     pov,
		WordCount:        wordCount,
	})
	if err != nil {
		return trace, fmt.Errorf("pipeline: writer stage: %w", err)
	}
	p.logUsage(ctx, "writer", writerResult)
	trace.Stages = append(trace.Stages, StageTrace{Agent: "writer", DurationMS: writerResult.DurationMS,
		Tokens: writerResult.PromptTokens + writerResult.CompletionTokens})

	text := writerResult.Text

	// Stage 3: Checker.
	issues := p.Checker.Check(ctx, text, chapter, scene, pov, req.UseLLMCheck)
	trace.IssuesFound = len(issues)

	// Stage 4: Editor, at most once, only if revisable issues were found.
	if req.EnableRevision && model.HasRevisableIssues(issues) {
		edited, err := p.Editor.Edit(ctx, agent.EditRequest{Text: text, Issues: issues})
		if err == nil {
			text = edited
			trace.RevisionMade = true
		}
		// Editor failure is recoverable: text stays unchanged (spec §4.5).
	}

	// Stage 5: Committer. Commit returns no error: a memory write that fails
	// is left out of the CommitReport, the chapter file below is still
	// written, and memory updates already applied are not rolled back.
	commitReport := p.Committer.Commit(text, chapter, scene, &spec)
	trace.Commit = commitReport

	if err := writeChapterFile(p.ProjectPath, chapter, text); err != nil {
		return trace, fmt.Errorf("pipeline: persist chapter %d: %w", chapter, err)
	}

	if p.Session != nil {
		_ = p.Session.IncrementScene()
	}

	trace.FinalText = text
	trace.TotalDurationMS = time.Since(totalStart).Milliseconds()
	if p.CostTracker != nil {
		trace.TotalCostUSD = p.CostTracker.Summary().TotalCostUSD
	}

	return trace, nil
}

func (p *Pipeline) logUsage(ctx context.Context, agentName string, result model.GenerationResult) {
	if p.CostTracker == nil {
		return
	}
	var price provider.PriceEstimate
	if prov, err := p.Router.GetProvider(ctx, agentName); err == nil {
		price = prov.PriceEstimate(result.PromptTokens, result.CompletionTokens)
	}
	p.CostTracker.LogUsage(provider.UsageEntry{
		Agent: agentName, Provider: result.Provider, Model: result.Model,
		InputTokens: result.PromptTokens, OutputTokens: result.CompletionTokens,
		CostUSD: price.USD, Unpriced: price.Unpriced, DurationMS: result.DurationMS,
	})
}

// sceneSpecToDescription renders a SceneSpec into the scene-description
// block the Writer prompt expects, mirroring
// SwarmPipeline._scenespec_to_description.
func sceneSpecToDescription(spec model.SceneSpec) string {
	if spec.Degraded() {
		return spec.Raw
	}
	desc := ""
	if spec.Narrative.Objective != "" {
		desc += "目的: " + spec.Narrative.Objective + "\n"
	}
	if spec.Narrative.Summary != "" {
		desc += "概要: " + spec.Narrative.Summary + "\n"
	}
	if len(spec.Narrative.KeyEvents) > 0 {
		desc += "必須: " + strings.Join(spec.Narrative.KeyEvents, ", ") + "\n"
	}
	if spec.Constraints.Mood != "" {
		desc += "雰囲気: " + spec.Constraints.Mood + "\n"
	}
	return desc
}

// writeChapterFile persists text to chapters/chapter_{nnn:03d}.md,
// overwriting any prior content, per spec §4.5.
func writeChapterFile(projectPath string, chapter int, text string) error {
	dir := filepath.Join(projectPath, "chapters")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("chapter_%03d.md", chapter))
	return os.WriteFile(path, []byte(text), 0o644)
}
