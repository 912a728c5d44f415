// Package ingestion implements Lore Ingestion: fetching external
// worldbuilding reference pages, chunking their content, and folding the
// chunks into the project's retriever corpus (and, optionally, its dense
// mirror index) as lore-typed documents — SPEC_FULL.md §4.2 "Lore
// ingestion". Grounded on the teacher's documentation ingestion pipeline,
// re-targeted from Terraform provider docs to narrative reference material.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/loomforge/loom/internal/rag"
	"github.com/loomforge/loom/internal/retriever"
)

// Source describes an external lore reference to be ingested.
type Source struct {
	// URL is the HTTP(S) URL of the reference page to fetch.
	URL string

	// Title names the source for retrieval display (e.g. "Naming conventions").
	Title string

	// DocType classifies the reference (defaults to "lore" if empty).
	DocType string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between consecutive chunks.
	// Zero means no overlap; a negative value is treated as zero, and a value
	// not smaller than ChunkSize is reduced to ChunkSize/10.
	ChunkOverlap int

	// HTTPTimeout is the timeout for each fetch request. Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Pipeline orchestrates the fetch → chunk → index (→ embed → upsert) flow
// for a set of lore sources. The dense mirror (embedder/store) is optional:
// when either is nil, ingestion still indexes into Retriever, the
// authoritative corpus per spec §4.2.
type Pipeline struct {
	retriever *retriever.Retriever
	embedder  rag.Embedder
	store     rag.VectorStore
	cfg       *Config

	httpClient *http.Client
}

// NewPipeline constructs a Pipeline over r (required). embedder/store may
// both be nil to skip the optional dense mirror.
func NewPipeline(r *retriever.Retriever, embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if r == nil {
		return nil, fmt.Errorf("ingestion: retriever must not be nil")
	}
	if (embedder == nil) != (store == nil) {
		return nil, fmt.Errorf("ingestion: embedder and store must both be set or both be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "loom/1.0 (lore ingestion)"
	}

	return &Pipeline{
		retriever:  r,
		embedder:   embedder,
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// Ingest fetches, chunks, and indexes all provided sources, building the
// retriever over the accumulated corpus once all sources have been added.
// It processes sources sequentially and returns the first error encountered.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source, progress func(msg string)) error {
	if progress == nil {
		progress = func(string) {}
	}

	for _, src := range sources {
		docType := src.DocType
		if docType == "" {
			docType = "lore"
		}

		progress(fmt.Sprintf("fetching %s", src.URL))
		content, err := p.fetch(ctx, src.URL)
		if err != nil {
			return fmt.Errorf("ingestion: fetch failed for %s: %w", src.URL, err)
		}

		chunks := p.chunk(content)
		progress(fmt.Sprintf("chunked %s into %d chunks", src.URL, len(chunks)))

		for i, chunk := range chunks {
			id := chunkID(src.URL, i)
			p.retriever.AddDocument(chunk, src.URL, docType, map[string]string{
				"title":       src.Title,
				"chunk_index": fmt.Sprintf("%d", i),
			}, id)
		}

		if p.embedder != nil && p.store != nil && len(chunks) > 0 {
			embeddings, err := p.embedder.Embed(ctx, chunks)
			if err != nil {
				return fmt.Errorf("ingestion: embedding failed for %s: %w", src.URL, err)
			}
			docs := make([]rag.Document, 0, len(chunks))
			for i, chunk := range chunks {
				docs = append(docs, rag.Document{
					ID: chunkID(src.URL, i), Content: chunk, Source: src.URL, DocType: docType,
					Metadata: map[string]string{"title": src.Title, "chunk_index": fmt.Sprintf("%d", i)},
				})
			}
			if err := p.store.Upsert(ctx, docs, embeddings); err != nil {
				return fmt.Errorf("ingestion: dense mirror upsert failed for %s: %w", src.URL, err)
			}
		}

		progress(fmt.Sprintf("ingested %d chunks from %s", len(chunks), src.URL))
	}

	return p.retriever.Build()
}

// reHTMLTag matches any HTML tag.
var reHTMLTag = regexp.MustCompile(`<[^>]+>`)

// reWhitespace collapses runs of whitespace (including newlines) to a single space.
var reWhitespace = regexp.MustCompile(`\s{2,}`)

// stripHTML removes HTML tags and collapses whitespace from a raw HTML string,
// returning plain text suitable for chunking.
func stripHTML(raw string) string {
	text := reHTMLTag.ReplaceAllString(raw, " ")
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// fetch retrieves the raw text content of a URL.
func (p *Pipeline) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	text := string(body)
	if strings.Contains(text, "<html") || strings.Contains(text, "<!DOCTYPE") {
		text = stripHTML(text)
	}
	return text, nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
func (p *Pipeline) chunk(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// chunkID generates a deterministic UUID-format ID for a document chunk
// based on its source URL and chunk index, satisfying qdrant.NewIDUUID
// without requiring the google/uuid dependency.
func chunkID(sourceURL string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", sourceURL, index)))
	h[6] = (h[6] & 0x0f) | 0x50
	h[8] = (h[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
