package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/loomforge/loom/internal/memory"
	"github.com/loomforge/loom/internal/model"
	"github.com/loomforge/loom/internal/provider"
)

// dialogueRe extracts bracketed dialogue runs, matching both Japanese
// corner brackets and ASCII quotes, mirroring
// ContinuityCheckerAgent._check_characters's dialogue_pattern.
var dialogueRe = regexp.MustCompile(`[「"]([^」"]+)[」"]`)

// negationMarkers are the Japanese negation/contradiction cues the original
// checks for near a fact's leading substring.
var negationMarkers = []string{"違う", "間違", "ない", "しなかった", "ではな"}

// Checker runs rule-based and optional LLM-based continuity checks over
// generated prose. It never mutates text — only reports issues.
type Checker struct {
	Router     *provider.Router
	Facts      *memory.FactsManager
	Characters *memory.CharacterLoader
	Bible      model.Bible
}

// Check runs the three-tier validation described in spec §4.4: fact
// negation matching, character forbidden-word matching, and (if useLLM) an
// LLM-based audit. A Checker/LLM failure is recoverable — it is treated as
// zero additional issues rather than failing the call.
func (c *Checker) Check(ctx context.Context, text string, chapter, scene int, povCharacter string, useLLM bool) []model.Issue {
	var issues []model.Issue
	issues = append(issues, c.checkFacts(text)...)
	issues = append(issues, c.checkCharacters(text)...)
	issues = append(issues, c.checkPOV(text, povCharacter)...)

	if useLLM {
		issues = append(issues, c.checkWithLLM(ctx, text)...)
	}
	return issues
}

// checkFacts flags text that appears near a negation marker shortly after a
// fact's leading substring, mirroring _check_facts's keyword heuristic.
func (c *Checker) checkFacts(text string) []model.Issue {
	if c.Facts == nil {
		return nil
	}
	var issues []model.Issue
	lower := strings.ToLower(text)

	for _, fact := range c.Facts.Load() {
		lead := []rune(fact.Content)
		if len(lead) > 20 {
			lead = lead[:20]
		}
		leadLower := strings.ToLower(string(lead))
		idx := strings.Index(lower, leadLower)
		if idx < 0 {
			continue
		}
		window := []rune(lower[idx:])
		if limit := len([]rune(leadLower)) + 20; len(window) > limit {
			window = window[:limit]
		}
		for _, marker := range negationMarkers {
			if strings.Contains(string(window), marker) {
				issues = append(issues, model.Issue{
					Category:    model.IssueFact,
					Severity:    model.SeverityError,
					Description: fmt.Sprintf("Possible contradiction of fact [%s]: %s", fact.ID, fact.Content),
					Suggestion:  "Review consistency with established facts",
				})
				break
			}
		}
	}
	return issues
}

// checkCharacters flags dialogue containing a character's forbidden words,
// mirroring _check_characters.
func (c *Checker) checkCharacters(text string) []model.Issue {
	if c.Characters == nil {
		return nil
	}
	dialogues := dialogueRe.FindAllStringSubmatch(text, -1)
	if len(dialogues) == 0 {
		return nil
	}

	var issues []model.Issue
	for _, card := range c.Characters.LoadAll() {
		name := card.Name.Full
		if name == "" {
			name = card.Name.Short
		}
		for _, m := range dialogues {
			dialogue := m[1]
			for _, word := range card.Language.Forbidden {
				if word != "" && strings.Contains(dialogue, word) {
					location := dialogue
					if len(location) > 50 {
						location = location[:50]
					}
					issues = append(issues, model.Issue{
						Category:    model.IssueCharacter,
						Severity:    model.SeverityError,
						Description: fmt.Sprintf("Character '%s' used forbidden word: '%s'", name, word),
						Location:    location,
						Suggestion:  fmt.Sprintf("Avoid '%s' for this character", word),
					})
				}
			}
		}
	}
	return issues
}

// checkPOV is a placeholder rule-based tier: POV pronoun drift detection is
// deferred to the LLM tier, mirroring _check_pov (which the original leaves
// unimplemented beyond the early-return guard).
func (c *Checker) checkPOV(_ string, expectedPOV string) []model.Issue {
	if expectedPOV == "" {
		return nil
	}
	return nil
}

const checkerSystemPrompt = "あなたは小説の設定・矛盾チェッカーです。客観的に問題を指摘してください。"

// llmIssue mirrors the Issue JSON shape the LLM audit prompt demands.
type llmIssue struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Suggestion  string `json:"suggestion"`
}

// checkWithLLM asks the checker-routed Provider to audit text against
// bible/characters/facts and parses its JSON array response, mirroring
// _check_with_llm. Any failure (provider error or malformed JSON) yields no
// additional issues rather than propagating an error.
func (c *Checker) checkWithLLM(ctx context.Context, text string) []model.Issue {
	p, err := c.Router.GetProvider(ctx, "checker")
	if err != nil {
		return nil
	}

	snippet := text
	if len(snippet) > 2000 {
		snippet = snippet[:2000]
	}
	bibleSnippet := c.Bible.Raw
	if len(bibleSnippet) > 1000 {
		bibleSnippet = bibleSnippet[:1000]
	}

	var charBlocks []string
	if c.Characters != nil {
		for _, card := range c.Characters.LoadAll() {
			charBlocks = append(charBlocks, card.FormatForPrompt())
			if len(charBlocks) >= 3 {
				break
			}
		}
	}

	factsBlock := ""
	if c.Facts != nil {
		factsBlock = c.Facts.GetFactsForContext(600)
	}

	prompt := fmt.Sprintf(`以下の文章をチェックし、矛盾・逸脱があれば指摘してください。

## チェック対象の文章
%s

## 世界観・設定
%s

## キャラクター設定
%s

## 確定事実
%s

## 指示
以下の点をチェックし、問題があればJSON形式で出力してください：
1. 設定矛盾（世界観、技術水準など）
2. キャラクター逸脱（口調、価値観、禁則語）
3. 事実矛盾（確定事実と矛盾）
4. 視点違反（POVキャラ以外の内面描写）

問題がなければ空配列 [] を返してください。

出力形式:
[
  {"category": "fact|character|world|pov", "severity": "error|warning|info", "description": "問題の説明", "location": "該当箇所（あれば）", "suggestion": "修正提案"}
]`, snippet, bibleSnippet, strings.Join(charBlocks, "\n"), factsBlock)

	messages := []*schema.Message{
		schema.SystemMessage(checkerSystemPrompt),
		schema.UserMessage(prompt),
	}

	result, err := p.Generate(ctx, messages, provider.Params{Temperature: 0.2, MaxTokens: 1500})
	if err != nil {
		return nil
	}

	start := strings.Index(result.Text, "[")
	end := strings.LastIndex(result.Text, "]")
	if start < 0 || end <= start {
		return nil
	}

	var raw []llmIssue
	if err := json.Unmarshal([]byte(result.Text[start:end+1]), &raw); err != nil {
		return nil
	}

	issues := make([]model.Issue, 0, len(raw))
	for _, r := range raw {
		issues = append(issues, model.Issue{
			Category:    model.IssueCategory(r.Category),
			Severity:    model.IssueSeverity(r.Severity),
			Description: r.Description,
			Location:    r.Location,
			Suggestion:  r.Suggestion,
		})
	}
	return issues
}

// FormatReport renders issues for human display, mirroring
// ContinuityCheckerAgent.format_report.
func FormatReport(issues []model.Issue) string {
	if len(issues) == 0 {
		return "No issues detected"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d issue(s):\n\n", len(issues))
	for _, issue := range issues {
		icon := "•"
		switch issue.Severity {
		case model.SeverityError:
			icon = "x"
		case model.SeverityWarning:
			icon = "!"
		case model.SeverityInfo:
			icon = "i"
		}
		fmt.Fprintf(&b, "%s [%s] %s\n", icon, strings.ToUpper(string(issue.Category)), issue.Description)
		if issue.Location != "" {
			fmt.Fprintf(&b, "  Location: %s\n", issue.Location)
		}
		if issue.Suggestion != "" {
			fmt.Fprintf(&b, "  Suggestion: %s\n", issue.Suggestion)
		}
		b.WriteString("\n")
	}
	return b.String()
}
