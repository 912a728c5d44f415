// Package memory implements the project's persistent memory subsystems:
// the Bible parser, Character Card loader, Facts store, Foreshadowing
// state machine, and Episodic Recap — spec §4.3.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/loomforge/loom/internal/model"
)

// styleSectionRe locates the Style Bible section, DOTALL up to the next
// heading or end of document.
var styleSectionRe = regexp.MustCompile(`(?is)##\s*(?:Style Bible|文体規約).*?(?:\n##|\z)`)

// worldSectionRe locates the World Bible section.
var worldSectionRe = regexp.MustCompile(`(?is)##\s*(?:World Bible|世界観).*?(?:\n##|\z)`)

// ParseBible parses raw bible.md content into a model.Bible. Parsing is
// lenient: missing fields yield absence, not failure, and the raw content
// is always retained — mirroring BibleParser.parse.
func ParseBible(content string) model.Bible {
	return model.Bible{
		Style: extractStyle(content),
		World: extractWorld(content),
		Raw:   content,
	}
}

// LoadBible reads and parses <projectPath>/bible.md.
func LoadBible(projectPath string) (model.Bible, error) {
	path := filepath.Join(projectPath, "bible.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Bible{}, fmt.Errorf("memory: load bible: %w", err)
	}
	return ParseBible(string(data)), nil
}

func extractStyle(content string) model.Style {
	section := styleSectionRe.FindString(content)
	if section == "" {
		return model.Style{}
	}
	return model.Style{
		Viewpoint:      extractValue(section, "視点", "viewpoint", "一人称"),
		FirstPerson:    extractValue(section, "一人称", "first person"),
		SentenceEnding: extractValue(section, "文末詞", "文末", "sentence ending"),
		Metaphor:       extractValue(section, "比喩", "metaphors", "喩え"),
		Forbidden:      extractList(section, "禁則", "forbidden", "禁止"),
	}
}

func extractWorld(content string) model.World {
	section := worldSectionRe.FindString(content)
	if section == "" {
		return model.World{}
	}
	return model.World{
		Overview: extractValue(section, "概要", "overview", "世界名"),
		Rules:    extractValue(section, "魔法", "magic", "mana"),
		Glossary: extractTable(section),
	}
}

// extractValue finds the first "key: value" style line for any of keys,
// mirroring BibleParser._extract_value's three fallback patterns.
func extractValue(content string, keys ...string) string {
	for _, key := range keys {
		re := regexp.MustCompile(`(?is)[-*]?\s*` + regexp.QuoteMeta(key) + `[：:*\s]+([^\n]+)`)
		if m := re.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// listItemRe matches one markdown bullet line, at any indentation.
var listItemRe = regexp.MustCompile(`(?m)^[ \t]*[-*]\s*(.+)$`)

// extractList finds a bulleted list following any of keys, mirroring
// BibleParser._extract_list.
func extractList(content string, keys ...string) []string {
	for _, key := range keys {
		re := regexp.MustCompile(`(?is)` + regexp.QuoteMeta(key) + `.*`)
		section := re.FindString(content)
		if section == "" {
			continue
		}
		matches := listItemRe.FindAllStringSubmatch(section, -1)
		if len(matches) == 0 {
			continue
		}
		var items []string
		for _, m := range matches {
			if v := strings.TrimSpace(m[1]); v != "" {
				items = append(items, v)
			}
		}
		return items
	}
	return nil
}

// tableRowRe matches one pipe-delimited markdown table row.
var tableRowRe = regexp.MustCompile(`(?m)^\|(.+)\|\s*$`)

// extractTable finds the glossary table (term | definition), skipping the
// header and separator rows, mirroring BibleParser._extract_table.
func extractTable(content string) map[string]string {
	rows := tableRowRe.FindAllStringSubmatch(content, -1)
	if len(rows) < 3 {
		return nil
	}
	result := make(map[string]string)
	// rows[0] is the header, rows[1] the "---|---" separator.
	for _, row := range rows[2:] {
		cells := strings.Split(row[1], "|")
		var trimmed []string
		for _, c := range cells {
			if v := strings.TrimSpace(c); v != "" {
				trimmed = append(trimmed, v)
			}
		}
		if len(trimmed) >= 2 {
			result[trimmed[0]] = trimmed[1]
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
