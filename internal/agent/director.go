// Package agent implements the Scene Pipeline's five bounded roles —
// Director, Writer, Checker, Editor, Committer. Each agent is a stateless
// helper: it composes a prompt from assembled context, calls a Provider
// through the Router, and parses the result into a structured record.
// None of the five use a tool-calling ReAct loop — generation here is a
// single request/response turn per spec §4.4.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/loomforge/loom/internal/model"
	"github.com/loomforge/loom/internal/provider"
)

const directorSystemPrompt = `あなたは小説の演出家（Director）です。
与えられた設定と意図から、次のシーンの詳細設計図（SceneSpec）をJSON形式で作成してください。

重要：
- 必ず有効なJSONのみを出力してください
- マークダウンの装飾（` + "```json" + `）は不要です
- 世界観・キャラクター設定に矛盾がないようにしてください
- 伏線の回収や新しい伏線の設置を考慮してください

SceneSpecの構造：
{
  "scene": {"id": "...", "chapter": 1, "sequence_in_chapter": 1, "title": "..."},
  "narrative": {"objective": "...", "summary": "...", "key_events": [], "revelations": [], "hooks": []},
  "constraints": {"pov_character": "...", "location": "...", "mood": "...", "characters_present": []},
  "continuity": {"facts_to_reinforce": [], "foreshadowing_to_resolve": [], "foreshadowing_to_plant": []},
  "style": {"pacing": "fast|normal|slow", "dialogue_ratio": "high|medium|low"}
}`

// ContextAssembler is the subset of internal/assembler.Assembler's and
// internal/retriever.ContextBuilder's behavior the Director needs: a single
// query-in, prompt-block-out call. Declared here as a narrow interface so
// agents depend on the shape they use, not the concrete assembler package.
type ContextAssembler interface {
	Assemble(query, agentType string) string
}

// DesignRequest is the Director's input, mirroring DirectorAgent.design_scene's
// keyword arguments.
type DesignRequest struct {
	UserIntention   string
	Chapter         int
	Scene           int
	POVCharacter    string
	RequiredEvents  []string
	Mood            string
}

// Director generates a SceneSpec from assembled context and a user intention.
type Director struct {
	Router    *provider.Router
	Assembler ContextAssembler
}

// DesignScene builds a prompt from req and assembled context, calls the
// director-routed Provider, and extracts the resulting SceneSpec JSON. A
// Director JSON parse failure is recoverable: the returned SceneSpec
// degrades to Raw-only (spec §4.4) rather than returning an error.
func (d *Director) DesignScene(ctx context.Context, req DesignRequest) (model.SceneSpec, model.GenerationResult, error) {
	prompt := d.buildPrompt(req)
	messages := []*schema.Message{
		schema.SystemMessage(directorSystemPrompt),
		schema.UserMessage(prompt),
	}

	p, err := d.Router.GetProvider(ctx, "director")
	if err != nil {
		return model.SceneSpec{}, model.GenerationResult{}, fmt.Errorf("director: %w", err)
	}

	result, err := p.Generate(ctx, messages, provider.Params{Temperature: 0.5, MaxTokens: 2000, TopP: 0.9})
	if err != nil {
		return model.SceneSpec{}, model.GenerationResult{}, fmt.Errorf("director: generate scene %d.%d: %w", req.Chapter, req.Scene, err)
	}

	jsonText := extractJSON(result.Text)
	spec, parseErr := ParseSceneSpec(jsonText)
	if parseErr != nil {
		// Recoverable: degrade to a raw passthrough rather than failing the
		// pipeline (spec §4.4/§7 ParseError policy).
		spec = model.SceneSpec{Raw: jsonText}
	}
	return spec, result, nil
}

func (d *Director) buildPrompt(req DesignRequest) string {
	var b strings.Builder

	b.WriteString("## User Intention（ユーザーの意図）\n")
	b.WriteString(req.UserIntention)
	b.WriteString("\n\n")

	if d.Assembler != nil {
		if ctx := d.Assembler.Assemble(req.UserIntention, "director"); ctx != "" {
			b.WriteString(ctx)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("## Scene Requirements（シーン要件）\n")
	b.WriteString("- Chapter: " + strconv.Itoa(req.Chapter) + "\n")
	b.WriteString("- Scene: " + strconv.Itoa(req.Scene) + "\n")
	if req.POVCharacter != "" {
		b.WriteString("- POV Character: " + req.POVCharacter + "\n")
	}
	if req.Mood != "" {
		b.WriteString("- Mood: " + req.Mood + "\n")
	}
	if len(req.RequiredEvents) > 0 {
		b.WriteString("- Required Events: " + strings.Join(req.RequiredEvents, ", ") + "\n")
	}
	b.WriteString("\n## Output\n")
	b.WriteString("上記の情報に基づいて、SceneSpec JSONを作成してください。\n")
	b.WriteString("JSONのみを出力し、説明やマークダウンは含めないでください。")

	return b.String()
}

// extractJSON locates a SceneSpec JSON object within text, tolerating fenced
// code blocks and leading/trailing narrative, mirroring
// DirectorAgent._extract_json.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end >= 0 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		start := idx + 3
		if end := strings.Index(text[start:], "```"); end >= 0 {
			return strings.TrimSpace(text[start : start+end])
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// sceneSpecJSON mirrors the wire shape in directorSystemPrompt; ParseSceneSpec
// converts it into model.SceneSpec.
type sceneSpecJSON struct {
	Scene struct {
		ID                string `json:"id"`
		Chapter           int    `json:"chapter"`
		SequenceInChapter int    `json:"sequence_in_chapter"`
		Title             string `json:"title"`
	} `json:"scene"`
	Narrative struct {
		Objective   string   `json:"objective"`
		Summary     string   `json:"summary"`
		KeyEvents   []string `json:"key_events"`
		Revelations []string `json:"revelations"`
		Hooks       []string `json:"hooks"`
	} `json:"narrative"`
	Constraints struct {
		POVCharacter      string   `json:"pov_character"`
		Location          string   `json:"location"`
		Mood              string   `json:"mood"`
		CharactersPresent []string `json:"characters_present"`
	} `json:"constraints"`
	Continuity struct {
		FactsToReinforce       []string `json:"facts_to_reinforce"`
		ForeshadowingToResolve []string `json:"foreshadowing_to_resolve"`
		ForeshadowingToPlant   []string `json:"foreshadowing_to_plant"`
	} `json:"continuity"`
	Style struct {
		Pacing        string `json:"pacing"`
		DialogueRatio string `json:"dialogue_ratio"`
	} `json:"style"`
}

// ParseSceneSpec parses a Director's JSON output into a model.SceneSpec.
func ParseSceneSpec(jsonText string) (model.SceneSpec, error) {
	var raw sceneSpecJSON
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return model.SceneSpec{}, fmt.Errorf("director: parse scenespec: %w", err)
	}

	return model.SceneSpec{
		Scene: model.Scene{
			ID: raw.Scene.ID, Chapter: raw.Scene.Chapter,
			SequenceInChapter: raw.Scene.SequenceInChapter, Title: raw.Scene.Title,
		},
		Narrative: model.SceneNarrative{
			Objective: raw.Narrative.Objective, Summary: raw.Narrative.Summary,
			KeyEvents: raw.Narrative.KeyEvents, Revelations: raw.Narrative.Revelations,
			Hooks: raw.Narrative.Hooks,
		},
		Constraints: model.SceneConstraints{
			POVCharacter: raw.Constraints.POVCharacter, Location: raw.Constraints.Location,
			Mood: raw.Constraints.Mood, CharactersPresent: raw.Constraints.CharactersPresent,
		},
		Continuity: model.SceneContinuity{
			FactsToReinforce:       raw.Continuity.FactsToReinforce,
			ForeshadowingToResolve: raw.Continuity.ForeshadowingToResolve,
			ForeshadowingToPlant:   raw.Continuity.ForeshadowingToPlant,
		},
		Style: model.SceneStyle{Pacing: raw.Style.Pacing, DialogueRatio: raw.Style.DialogueRatio},
	}, nil
}
