package commands

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loomforge/loom/internal/embedder"
	"github.com/loomforge/loom/internal/ingestion"
	"github.com/loomforge/loom/internal/rag"
	"github.com/loomforge/loom/internal/retriever"
)

// splitQdrantURL parses a "host:port" dense-mirror URL into its parts. An
// empty URL yields the rag package's own localhost:6334 defaults; a URL
// without a parseable port is kept whole as the host, with the default port.
func splitQdrantURL(url string) (string, int) {
	if url == "" {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		return url, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

// NewIngestCmd constructs the `loom ingest` command, which fetches external
// lore reference pages and folds them into the project's retriever corpus
// as lore-typed documents — spec §4.2's Lore ingestion.
func NewIngestCmd() *cobra.Command {
	var title string
	var docType string
	var urls []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest external lore reference pages into the retriever corpus",
		Long: `Fetch one or more external worldbuilding reference pages, chunk their
content, and index it into the project's retriever as lore-typed documents
alongside the Bible, character cards, and facts. The per-agent context
search (Director, Writer, Checker) does not include the lore type; these
documents are returned only by a search filtered to that doc type.

When config.yaml's retriever.dense_mirror is enabled, chunks are additionally
embedded and mirrored into the configured Qdrant collection. The TF-IDF
retriever remains authoritative either way.

Examples:
  loom ingest --url https://example.com/wiki/northern-kingdoms --title "Northern Kingdoms"
  loom ingest --url https://example.com/wiki/house-styles --doc-type lore`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if len(urls) == 0 {
				return fmt.Errorf("ingest: at least one --url is required")
			}

			r := retriever.Open(projectDir, "default", loadedConfig.Retriever.VocabSize)

			var emb rag.Embedder
			var store rag.VectorStore
			dm := loadedConfig.Retriever.DenseMirror
			if dm.Enabled {
				if err := embedder.ValidateForRAG(log); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				e, err := embedder.NewFromEnv()
				if err != nil {
					return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
				}
				emb = e

				vectorSize := uint64(embedder.DefaultDimensions(dm.EmbeddingProvider)) //nolint:gosec // dimensions are bounded
				host, port := splitQdrantURL(dm.QdrantURL)
				qstore, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
					Host:       host,
					Port:       port,
					Collection: dm.Collection,
					VectorSize: vectorSize,
				})
				if err != nil {
					log.Warn("ingest: dense mirror unavailable, continuing with retriever only", slog.Any("error", err))
					emb = nil
				} else {
					store = qstore
					defer qstore.Close()
				}
			}

			pipeline, err := ingestion.NewPipeline(r, emb, store, nil)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			sources := make([]ingestion.Source, 0, len(urls))
			for _, u := range urls {
				sources = append(sources, ingestion.Source{URL: u, Title: title, DocType: docType})
			}

			if err := pipeline.Ingest(ctx, sources, func(msg string) {
				log.Info(msg)
			}); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("ingestion complete", slog.Int("sources", len(sources)), slog.Int("documents", r.DocumentCount()))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Display title for the ingested source")
	cmd.Flags().StringVar(&docType, "doc-type", "lore", "Document type classification for retrieval grouping")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Lore reference URL to ingest (repeatable)")

	return cmd
}
