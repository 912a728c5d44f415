package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/loomforge/loom/internal/model"
	"github.com/loomforge/loom/internal/provider"
)

// OutputFormat selects what the Editor returns: the fully rewritten text,
// a diff, or a bulleted list of edit instructions.
type OutputFormat string

const (
	OutputFull         OutputFormat = "full"
	OutputDiff         OutputFormat = "diff"
	OutputInstructions OutputFormat = "instructions"
)

const editorSystemPrompt = `あなたは熟練した小説編集者です。
与えられた文章を改善し、冗長さ・反復・テンポの問題を修正してください。

改善の指針：
- 冗長な表現を簡潔に
- 同じ語句の過度な反復を削除
- テンポを改善（短い文と長い文のバランス）
- 地の文とセリフのリズムを整える
- 原作の意味・意図は保持する
- メタ的なコメントを含めない

出力は本文のみとし、解説は不要です。`

// EditRequest is the Editor's input, mirroring StyleEditorAgent.edit's
// keyword arguments.
type EditRequest struct {
	Text         string
	Issues       []model.Issue
	StyleRules   string
	OutputFormat OutputFormat
}

// Editor improves prose quality, either via an LLM rewrite pass or via
// standalone rule-based quick fixes.
type Editor struct {
	Router *provider.Router
}

// Edit asks the editor-routed Provider to rewrite req.Text. On provider
// failure the original text is returned unchanged (spec §4.5: Editor
// failure is recoverable).
func (e *Editor) Edit(ctx context.Context, req EditRequest) (string, error) {
	format := req.OutputFormat
	if format == "" {
		format = OutputFull
	}

	prompt := e.buildPrompt(req, format)
	messages := []*schema.Message{
		schema.SystemMessage(editorSystemPrompt),
		schema.UserMessage(prompt),
	}

	p, err := e.Router.GetProvider(ctx, "editor")
	if err != nil {
		return req.Text, nil
	}

	result, err := p.Generate(ctx, messages, provider.Params{Temperature: 0.4, MaxTokens: len(req.Text) + 500})
	if err != nil {
		return req.Text, nil
	}

	return cleanEditorOutput(result.Text), nil
}

func (e *Editor) buildPrompt(req EditRequest, format OutputFormat) string {
	var b strings.Builder

	b.WriteString("## 編集対象の文章\n")
	b.WriteString(req.Text)
	b.WriteString("\n\n")

	if req.StyleRules != "" {
		b.WriteString("## スタイルガイド\n")
		b.WriteString(req.StyleRules)
		b.WriteString("\n\n")
	}

	if len(req.Issues) > 0 {
		b.WriteString("## 修正すべき問題\n")
		for _, issue := range req.Issues {
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Category, issue.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("## 指示\n")
	switch format {
	case OutputDiff:
		b.WriteString("変更点をdiff形式で示してください。")
	case OutputInstructions:
		b.WriteString("具体的な修正指示を箇条書きで出力してください。")
	default:
		b.WriteString("文章全体を改善したバージョンを出力してください。")
	}

	return b.String()
}

// cleanEditorOutput strips fenced code block markers from the Editor's
// response, mirroring StyleEditorAgent._clean_output.
func cleanEditorOutput(text string) string {
	if strings.Contains(text, "```") {
		lines := strings.Split(text, "\n")
		inBlock := false
		var cleaned []string
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			cleaned = append(cleaned, line)
		}
		text = strings.Join(cleaned, "\n")
	}
	return strings.TrimSpace(text)
}

// redundancyPatterns are rule-based Japanese redundant-expression fixes,
// mirroring StyleEditorAgent._fix_redundancy.
var redundancyPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`非常に\s*大きい`), "巨大な"},
	{regexp.MustCompile(`完全に\s*同じ`), "同一の"},
	{regexp.MustCompile(`独自の\s*特有の`), "独自の"},
}

// QuickFix applies standalone rule-based fixes without calling a Provider,
// mirroring StyleEditorAgent.quick_fix. fixType selects which category of
// fix to apply; "all" (or "") applies every fix in sequence.
func QuickFix(text, fixType string) string {
	switch fixType {
	case "redundancy":
		return fixRedundancy(text)
	case "repetition":
		return fixRepetition(text)
	case "tempo":
		return fixTempo(text)
	default:
		text = fixRedundancy(text)
		text = fixRepetition(text)
		text = fixTempo(text)
		return text
	}
}

func fixRedundancy(text string) string {
	for _, r := range redundancyPatterns {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}

// cjkRepeatRe matches a short CJK run immediately followed by the same run
// again across a sentence-ending punctuation mark.
var cjkRepeatRe = regexp.MustCompile(`([\x{4e00}-\x{9fa5}]{2,5})([。！？])\s*([\x{4e00}-\x{9fa5}]{2,5})([。！？])`)

func fixRepetition(text string) string {
	return cjkRepeatRe.ReplaceAllStringFunc(text, func(m string) string {
		groups := cjkRepeatRe.FindStringSubmatch(m)
		if groups[1] == groups[3] {
			return groups[1] + groups[2]
		}
		return m
	})
}

func fixTempo(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	dialogueCount := 0
	for _, line := range lines {
		if strings.Contains(line, "「") {
			dialogueCount++
			if dialogueCount >= 3 {
				result = append(result, "")
				dialogueCount = 0
			}
		} else {
			dialogueCount = 0
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}
