package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/loomforge/loom/internal/model"
	"github.com/loomforge/loom/internal/provider"
)

const writerSystemPrompt = `あなたはプロの小説家です。与えられた設定と文体に従って、小説の本文を書いてください。

重要な制約：
- 本文のみを出力してください。思考プロセス、注釈、解説は一切含めないでください。
- JSON形式やマークダウンの見出しを使わないでください。
- 「この物語では」「読者の皆さん」といったメタ的な言及は禁止です。
- 与えられた文体（一人称、文末、比喩表現）を厳密に守ってください。
- キャラクターの口調、価値観、禁則事項を厳守してください。

出力は自然な小説の文章のみとし、前置き・後書きは不要です。`

// metaPrefixes are leading labels the original's Writer strips from
// generated output, mirroring WriterAgent._clean_output's meta_prefixes.
var metaPrefixes = []string{"本文：", "本文:", "出力：", "出力:", "シーン：", "シーン:", "小説：", "小説:"}

// WriteRequest is the Writer's input, mirroring WriterAgent.generate's
// keyword arguments.
type WriteRequest struct {
	SceneDescription string
	Bible            model.Bible
	Characters       map[string]model.CharacterCard
	POVCharacter     string
	WordCount        int
	Temperature      float32
}

// GenerationError wraps a provider failure during generation. The Writer
// returns it, and a Writer failure aborts the scene without committing
// (spec §4.5).
type GenerationError struct {
	Agent string
	Err   error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("%s: generation failed: %v", e.Agent, e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// Writer generates narrative prose from a scene description and context.
type Writer struct {
	Router *provider.Router
}

// Generate produces prose for req, post-processing the raw output to strip
// fenced code blocks, meta-prefixes, and surrounding whitespace.
func (w *Writer) Generate(ctx context.Context, req WriteRequest) (model.GenerationResult, error) {
	wordCount := req.WordCount
	if wordCount <= 0 {
		wordCount = 1000
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.8
	}

	prompt := w.buildPrompt(req, wordCount)
	messages := []*schema.Message{
		schema.SystemMessage(writerSystemPrompt),
		schema.UserMessage(prompt),
	}

	p, err := w.Router.GetProvider(ctx, "writer")
	if err != nil {
		return model.GenerationResult{}, &GenerationError{Agent: "writer", Err: err}
	}

	maxTokens := wordCount * 2
	if maxTokens > 4000 {
		maxTokens = 4000
	}

	result, err := p.Generate(ctx, messages, provider.Params{Temperature: temperature, MaxTokens: maxTokens, TopP: 0.9})
	if err != nil {
		return model.GenerationResult{}, &GenerationError{Agent: "writer", Err: err}
	}

	result.Text = cleanWriterOutput(result.Text)
	return result, nil
}

func (w *Writer) buildPrompt(req WriteRequest, wordCount int) string {
	var b strings.Builder

	b.WriteString(req.Bible.FormatStyleSection())
	b.WriteString("\n")
	b.WriteString(req.Bible.FormatWorldSection())
	b.WriteString("\n")

	b.WriteString("## Characters\n")
	for _, c := range req.Characters {
		b.WriteString(c.FormatForPrompt())
	}
	b.WriteString("\n")

	b.WriteString("## Scene Specification\n")
	b.WriteString(req.SceneDescription)
	b.WriteString("\n\n")

	if req.POVCharacter != "" {
		b.WriteString("**視点**: " + req.POVCharacter + "の一人称視点\n")
	}
	b.WriteString(fmt.Sprintf("**目標文字数**: %d文字程度\n\n", wordCount))

	b.WriteString("## Instruction\n")
	b.WriteString("上記の設定に従って、シーンの本文を書いてください。\n")
	b.WriteString("- 地の文とセリフを含む自然な文章\n")
	b.WriteString("- メタ的な言及を含めない\n")
	b.WriteString("- 設定に矛盾がないように注意")

	return b.String()
}

// cleanWriterOutput strips fenced code blocks, leading meta-labels, and
// surrounding whitespace from raw Writer output, mirroring
// WriterAgent._clean_output.
func cleanWriterOutput(text string) string {
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		start, end := -1, -1
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if start == -1 {
					start = i
				} else {
					end = i
					break
				}
			}
		}
		if start != -1 && end != -1 {
			text = strings.Join(lines[start+1:end], "\n")
		}
	}

	text = strings.TrimSpace(text)

	for _, prefix := range metaPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}

	return text
}
