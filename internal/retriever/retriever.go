package retriever

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Document is one retrievable chunk in the index, spec §3 Retriever Index.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	DocType   string            `json:"doc_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// SearchResult pairs a Document with its similarity score and 1-based rank.
type SearchResult struct {
	Document Document
	Score    float32
	Rank     int
}

type indexFile struct {
	Vocab     map[string]int    `json:"vocab"`
	IDF       map[string]float64 `json:"idf"`
	Documents []Document        `json:"documents"`
}

// Retriever is the project-scoped TF-IDF vector index, persisted at
// .index/<name>_rag.json, mirroring SimpleRetriever.
type Retriever struct {
	ProjectPath string
	IndexName   string
	VocabSize   int

	documents map[string]Document
	order     []string // insertion order, used to break score ties by earlier id
	embedding *Embedding
	fitted    bool
}

// Open loads (or initializes) the named index under projectPath/.index.
func Open(projectPath, indexName string, vocabSize int) *Retriever {
	if indexName == "" {
		indexName = "default"
	}
	r := &Retriever{
		ProjectPath: projectPath,
		IndexName:   indexName,
		VocabSize:   vocabSize,
		documents:   make(map[string]Document),
		embedding:   NewEmbedding(vocabSize),
	}
	r.load()
	return r
}

func (r *Retriever) indexPath() string {
	return filepath.Join(r.ProjectPath, ".index", r.IndexName+"_rag.json")
}

func (r *Retriever) load() {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		return
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	r.embedding.vocab = f.Vocab
	r.embedding.idf = f.IDF
	r.fitted = len(f.Vocab) > 0
	for _, d := range f.Documents {
		r.documents[d.ID] = d
		r.order = append(r.order, d.ID)
	}
}

func (r *Retriever) save() error {
	dir := filepath.Join(r.ProjectPath, ".index")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("retriever: create index dir: %w", err)
	}
	docs := make([]Document, 0, len(r.order))
	for _, id := range r.order {
		docs = append(docs, r.documents[id])
	}
	f := indexFile{Vocab: r.embedding.vocab, IDF: r.embedding.idf, Documents: docs}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("retriever: marshal index: %w", err)
	}
	if err := os.WriteFile(r.indexPath(), data, 0o644); err != nil {
		return fmt.Errorf("retriever: write index: %w", err)
	}
	return nil
}

// AddDocument adds (or replaces) a document and marks the index unfitted
// until the next Build, mirroring SimpleRetriever.add_document. An empty
// docID is derived from an md5 hash of the content.
func (r *Retriever) AddDocument(content, source, docType string, metadata map[string]string, docID string) string {
	if docID == "" {
		sum := md5.Sum([]byte(content))
		docID = hex.EncodeToString(sum[:])[:12]
	}
	if _, exists := r.documents[docID]; !exists {
		r.order = append(r.order, docID)
	}
	r.documents[docID] = Document{
		ID: docID, Content: content, Source: source, DocType: docType, Metadata: metadata,
	}
	r.fitted = false
	return docID
}

// Build fits the TF-IDF embedding over every document's content, embeds
// each document, and persists the index, mirroring SimpleRetriever.build.
func (r *Retriever) Build() error {
	if len(r.documents) == 0 {
		return nil
	}
	contents := make([]string, 0, len(r.order))
	for _, id := range r.order {
		contents = append(contents, r.documents[id].Content)
	}
	r.embedding.Fit(contents)
	for _, id := range r.order {
		d := r.documents[id]
		d.Embedding = r.embedding.Embed(d.Content)
		r.documents[id] = d
	}
	r.fitted = true
	return r.save()
}

// Search returns the top-k documents most similar to query by cosine
// similarity, optionally filtered to one doc type. Ties are broken by
// earlier document insertion order, mirroring the spec's "prefer earlier
// document id" tie-break. An unfitted or empty index returns nil.
func (r *Retriever) Search(query string, topK int, docType string) []SearchResult {
	if !r.fitted || len(r.documents) == 0 {
		return nil
	}
	queryVec := r.embedding.Embed(query)

	type scored struct {
		doc   Document
		score float32
		pos   int
	}
	var candidates []scored
	for pos, id := range r.order {
		d := r.documents[id]
		if docType != "" && d.DocType != docType {
			continue
		}
		candidates = append(candidates, scored{doc: d, score: dot(queryVec, d.Embedding), pos: pos})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pos < candidates[j].pos
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		out[i] = SearchResult{Document: c.doc, Score: c.score, Rank: i + 1}
	}
	return out
}

// agentTypePriority maps an agent role to the doc_type search order it
// prefers, mirroring SimpleRetriever.search_for_agent's type_priority dict.
var agentTypePriority = map[string][]string{
	"director": {"bible", "fact", "foreshadowing", "chapter"},
	"writer":   {"bible", "character", "fact", "chapter"},
	"checker":  {"fact", "character", "bible"},
}

var defaultTypePriority = []string{"bible", "character", "fact"}

// SearchForAgent runs Search over the agent's preferred doc_type order (top
// 3 per type), re-ranks the union by score, and returns at most 5 results,
// mirroring SimpleRetriever.search_for_agent.
func (r *Retriever) SearchForAgent(query, agentType string) []SearchResult {
	priority, ok := agentTypePriority[agentType]
	if !ok {
		priority = defaultTypePriority
	}

	var all []SearchResult
	for _, docType := range priority {
		all = append(all, r.Search(query, 3, docType)...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > 5 {
		all = all[:5]
	}
	return all
}

// Fitted reports whether Build has run since the last unsaved AddDocument.
func (r *Retriever) Fitted() bool {
	return r.fitted
}

// DocumentCount returns the number of documents currently indexed.
func (r *Retriever) DocumentCount() int {
	return len(r.documents)
}
