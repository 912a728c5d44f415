package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomforge/loom/internal/agent"
	"github.com/loomforge/loom/internal/config"
	"github.com/loomforge/loom/internal/memory"
	"github.com/loomforge/loom/internal/provider"
	"github.com/loomforge/loom/internal/retriever"
)

// NewDiagnoseCmd constructs the `loom diagnose` command, which reports the
// health of every configured provider and the state of the project's
// retriever index — a read-only companion to `loom scene`.
func NewDiagnoseCmd() *cobra.Command {
	var previewText string

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Report provider health and retriever index state",
		Long: `Print the health and capabilities of every configured provider
(config.yaml's provider.available), and statistics about the project's
TF-IDF retriever index.

With --preview-text, also prints what Committer.SuggestMemoryUpdates would
extract from that text — a dry run of what a real scene commit would do to
facts and foreshadowing, without mutating any store.

Examples:
  loom diagnose
  loom diagnose --project ./mynovel
  loom diagnose --preview-text "Kira finally learned who sent the letter."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			roleCfg, err := config.BuildRoleConfig(loadedConfig.Provider)
			if err != nil {
				return fmt.Errorf("diagnose: %w", err)
			}

			registry := provider.NewRegistry()
			registry.RegisterBuiltins()
			router := provider.NewRouter(registry, roleCfg, 0, 0)

			fmt.Fprintln(os.Stdout, "providers:")
			for _, status := range router.GetAllProviders(ctx) {
				state := "healthy"
				if !status.Healthy {
					state = "unhealthy: " + status.Error
				}
				fmt.Fprintf(os.Stdout, "  %-16s backend=%-10s model=%-20s %s\n",
					status.Name, status.Backend, status.Model, state)
			}

			r := retriever.Open(projectDir, "default", loadedConfig.Retriever.VocabSize)
			if err := r.IndexProject(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to index project for diagnostics: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "\nretriever: %d document(s) indexed, fitted=%v\n", r.DocumentCount(), r.Fitted())

			if loadedConfig.Retriever.DenseMirror.Enabled {
				fmt.Fprintf(os.Stdout, "dense mirror: enabled (collection=%s, embedding_provider=%s)\n",
					loadedConfig.Retriever.DenseMirror.Collection, loadedConfig.Retriever.DenseMirror.EmbeddingProvider)
			} else {
				fmt.Fprintln(os.Stdout, "dense mirror: disabled")
			}

			if previewText != "" {
				committer := &agent.Committer{
					Facts:         &memory.FactsManager{ProjectPath: projectDir},
					Foreshadowing: &memory.ForeshadowingManager{ProjectPath: projectDir},
				}
				facts, suggestions := committer.SuggestMemoryUpdates(previewText)

				fmt.Fprintln(os.Stdout, "\nfact extraction preview:")
				if len(facts) == 0 {
					fmt.Fprintln(os.Stdout, "  (none)")
				}
				for _, f := range facts {
					fmt.Fprintf(os.Stdout, "  - %s\n", f)
				}

				fmt.Fprintln(os.Stdout, "\nforeshadowing suggestions:")
				if len(suggestions) == 0 {
					fmt.Fprintln(os.Stdout, "  (none)")
				}
				for _, s := range suggestions {
					fmt.Fprintf(os.Stdout, "  - [%s] %+v\n", s.Action, s)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&previewText, "preview-text", "", "Preview fact/foreshadowing extraction for this text without committing it")

	return cmd
}
