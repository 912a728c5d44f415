package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultMaxEpisodicBlocks is the spec default number of scene-summary
// blocks retained in the recap log before the oldest are trimmed.
const DefaultMaxEpisodicBlocks = 5

const episodicCharacterStatusHeading = "## Character Status"

// EpisodicMemoryManager maintains the Episodic Recap: a Markdown log of
// scene summaries, newest first, trimmed to a bounded number of blocks,
// plus a single maintained Character Status table — spec §4.3.
type EpisodicMemoryManager struct {
	ProjectPath string
	MaxBlocks   int
}

func (m *EpisodicMemoryManager) maxBlocks() int {
	if m.MaxBlocks <= 0 {
		return DefaultMaxEpisodicBlocks
	}
	return m.MaxBlocks
}

func (m *EpisodicMemoryManager) path() string {
	return filepath.Join(m.ProjectPath, "memory", "episodic.md")
}

// sceneBlockRe matches one "### Chapter N Scene M" heading.
var sceneBlockRe = regexp.MustCompile(`(?m)^### Chapter (\d+) Scene (\d+)\s*$`)

// Load returns the raw episodic.md content, or "" if it doesn't exist yet.
func (m *EpisodicMemoryManager) Load() string {
	data, err := os.ReadFile(m.path())
	if err != nil {
		return ""
	}
	return string(data)
}

func (m *EpisodicMemoryManager) save(content string) error {
	path := m.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("memory: create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("memory: write %s: %w", path, err)
	}
	return nil
}

// AddSceneSummary prepends a new scene-summary block and trims the log to
// at most MaxBlocks scene blocks, oldest dropped first. The Character
// Status section (if present) is preserved untouched and re-appended
// after trimming.
func (m *EpisodicMemoryManager) AddSceneSummary(chapter, scene int, summary string) error {
	blocks, status := m.splitBlocks(m.Load())

	block := fmt.Sprintf("### Chapter %d Scene %d\n\n%s\n", chapter, scene, strings.TrimSpace(summary))
	blocks = append([]string{block}, blocks...)
	if max := m.maxBlocks(); len(blocks) > max {
		blocks = blocks[:max]
	}

	var b strings.Builder
	b.WriteString("# Episodic Recap\n\n")
	b.WriteString(strings.Join(blocks, "\n"))
	if status != "" {
		b.WriteString("\n")
		b.WriteString(status)
	}
	return m.save(b.String())
}

// splitBlocks separates the document's scene blocks from its trailing
// Character Status section, if any.
func (m *EpisodicMemoryManager) splitBlocks(content string) (blocks []string, statusSection string) {
	if content == "" {
		return nil, ""
	}
	body := content
	if idx := strings.Index(content, episodicCharacterStatusHeading); idx != -1 {
		body = content[:idx]
		statusSection = strings.TrimRight(content[idx:], "\n") + "\n"
	}

	locs := sceneBlockRe.FindAllStringIndex(body, -1)
	for i, loc := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		blocks = append(blocks, strings.TrimRight(body[loc[0]:end], "\n"))
	}
	return blocks, statusSection
}

// GetRecentSummary returns the n most recent scene summaries (most recent
// first) with their "### Chapter N Scene M" headers stripped, to save
// context budget — mirroring EpisodicMemoryManager.get_recent_summary.
func (m *EpisodicMemoryManager) GetRecentSummary(n int) string {
	blocks, _ := m.splitBlocks(m.Load())
	if len(blocks) == 0 {
		return ""
	}
	if n > 0 && n < len(blocks) {
		blocks = blocks[:n]
	}

	var b strings.Builder
	b.WriteString("## Recent Events\n\n")
	for _, block := range blocks {
		body := sceneBlockRe.ReplaceAllString(block, "")
		b.WriteString(strings.TrimSpace(body))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// UpdateCharacterStatus upserts a row in the maintained Character Status
// table (name -> status), appending the section if it does not yet
// exist, mirroring EpisodicMemoryManager.update_character_status.
func (m *EpisodicMemoryManager) UpdateCharacterStatus(name, status string) error {
	blocks, statusSection := m.splitBlocks(m.Load())

	rows := parseStatusTable(statusSection)
	found := false
	for i, r := range rows {
		if r[0] == name {
			rows[i][1] = status
			found = true
			break
		}
	}
	if !found {
		rows = append(rows, [2]string{name, status})
	}

	var b strings.Builder
	b.WriteString("# Episodic Recap\n\n")
	b.WriteString(strings.Join(blocks, "\n"))
	b.WriteString("\n")
	b.WriteString(renderStatusTable(rows))
	return m.save(b.String())
}

var statusRowRe = regexp.MustCompile(`(?m)^\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|\s*$`)

func parseStatusTable(section string) [][2]string {
	if section == "" {
		return nil
	}
	matches := statusRowRe.FindAllStringSubmatch(section, -1)
	var rows [][2]string
	for _, m := range matches {
		if m[1] == "Character" || strings.Trim(m[1], "-") == "" {
			continue
		}
		rows = append(rows, [2]string{m[1], m[2]})
	}
	return rows
}

func renderStatusTable(rows [][2]string) string {
	var b strings.Builder
	b.WriteString(episodicCharacterStatusHeading + "\n\n")
	b.WriteString("| Character | Status |\n")
	b.WriteString("|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s |\n", r[0], r[1])
	}
	return b.String()
}

// SimpleSummarizer produces a terse extractive summary by keeping the
// first, middle, and last sentence of a scene's prose, mirroring
// SimpleSummarizer.summarize. It never calls an LLM and is used as a
// fallback when no dedicated summarization provider is configured.
type SimpleSummarizer struct{}

var sentenceSplitRe = regexp.MustCompile(`[。！？]`)

func (SimpleSummarizer) Summarize(text string) string {
	var sentences []string
	for _, s := range sentenceSplitRe.Split(text, -1) {
		if v := strings.TrimSpace(s); v != "" {
			sentences = append(sentences, v)
		}
	}
	switch len(sentences) {
	case 0:
		return ""
	case 1, 2:
		return strings.Join(sentences, "。") + "。"
	default:
		mid := len(sentences) / 2
		picked := []string{sentences[0], sentences[mid], sentences[len(sentences)-1]}
		return strings.Join(picked, "。") + "。"
	}
}
