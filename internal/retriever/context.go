package retriever

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContextBuilder renders SearchForAgent results as a prompt-ready
// "## Retrieved Context" block, mirroring RAGContextBuilder.
type ContextBuilder struct {
	Retriever *Retriever
}

// BuildContext runs SearchForAgent(query, agentType) and formats the
// results grouped by doc_type, mirroring RAGContextBuilder.build_context.
// Returns "" when nothing is retrieved.
func (b *ContextBuilder) BuildContext(query, agentType string) string {
	results := b.Retriever.SearchForAgent(query, agentType)
	if len(results) == 0 {
		return ""
	}

	byType := make(map[string][]SearchResult)
	var typeOrder []string
	for _, r := range results {
		if _, seen := byType[r.Document.DocType]; !seen {
			typeOrder = append(typeOrder, r.Document.DocType)
		}
		byType[r.Document.DocType] = append(byType[r.Document.DocType], r)
	}

	var out strings.Builder
	out.WriteString("## Retrieved Context\n\n")
	for _, docType := range typeOrder {
		fmt.Fprintf(&out, "### %s References\n", capitalize(docType))
		for _, r := range byType[docType] {
			content := r.Document.Content
			if len(content) > 500 {
				content = content[:500]
			}
			preview := content
			if len(preview) > 200 {
				preview = preview[:200]
			}
			fmt.Fprintf(&out, "- [%s] %s...\n", r.Document.Source, preview)
		}
		out.WriteString("\n")
	}
	return out.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// IndexProject walks a project's first-party files — bible.md sections,
// characters/*.json, memory/facts.json, chapters/*.md paragraphs — adding
// each as a document, then runs Build. Mirrors SimpleRetriever.index_project.
func (r *Retriever) IndexProject() error {
	r.indexBible()
	r.indexCharacters()
	r.indexFacts()
	r.indexChapters()
	return r.Build()
}

func (r *Retriever) indexBible() {
	data, err := os.ReadFile(filepath.Join(r.ProjectPath, "bible.md"))
	if err != nil {
		return
	}
	sections := strings.Split(string(data), "##")
	for i, section := range sections[1:] {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		title := section
		if idx := strings.IndexByte(title, '\n'); idx != -1 {
			title = title[:idx]
		}
		if len(title) > 50 {
			title = title[:50]
		}
		r.AddDocument(section, "bible.md", "bible",
			map[string]string{"section": title}, fmt.Sprintf("bible_%d", i+1))
	}
}

func (r *Retriever) indexCharacters() {
	dir := filepath.Join(r.ProjectPath, "characters")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		r.AddDocument(string(data), "characters/"+e.Name(), "character",
			map[string]string{"name": stem}, "char_"+stem)
	}
}

func (r *Retriever) indexFacts() {
	path := filepath.Join(r.ProjectPath, "memory", "facts.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var doc struct {
		Facts []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"facts"`
	}
	if json.Unmarshal(data, &doc) != nil {
		return
	}
	for _, f := range doc.Facts {
		r.AddDocument(f.Content, "memory/facts.json", "fact",
			map[string]string{"fact_id": f.ID}, "fact_"+f.ID)
	}
}

func (r *Retriever) indexChapters() {
	dir := filepath.Join(r.ProjectPath, "chapters")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".md")
		chunks := strings.Split(string(data), "\n\n")
		for i, chunk := range chunks {
			if len(chunk) <= 50 {
				continue
			}
			r.AddDocument(chunk, "chapters/"+e.Name(), "chapter",
				map[string]string{"chapter": stem, "chunk": fmt.Sprintf("%d", i)},
				fmt.Sprintf("ch_%s_%d", stem, i))
		}
	}
}
