package commands

import (
	"fmt"
	"os"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/loomforge/loom/internal/config"
	"github.com/loomforge/loom/internal/pipeline"
	"github.com/loomforge/loom/internal/provider"
	"github.com/loomforge/loom/internal/session"
	"github.com/loomforge/loom/internal/tracing"
)

// NewSceneCmd constructs the `loom scene` command, which drives one Scene
// Pipeline run — Director, Writer, Checker, optional Editor, Committer —
// and persists the resulting chapter file.
func NewSceneCmd() *cobra.Command {
	var intention string
	var chapter int
	var scene int
	var pov string
	var mood string
	var wordCount int
	var sessionID string
	var noRevision bool
	var llmCheck bool
	var events []string

	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Generate one scene and commit it to the project's chapters and memory",
		Long: `Run the Scene Pipeline for one scene: Director designs a beat-level spec,
Writer drafts prose, Checker flags continuity and style issues, Editor
revises at most once if warranted, and Committer folds the result into
facts, foreshadowing, and episodic memory.

Examples:
  loom scene --intention "Kira reaches the city gate at dusk"
  loom scene --project ./mynovel --chapter 3 --scene 2 --pov kira --no-revision`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if intention == "" {
				return fmt.Errorf("scene: --intention is required")
			}

			// Langfuse tracing is opt-in (LANGFUSE_PUBLIC_KEY/SECRET_KEY) and
			// only observes roles routed to the Gemini backend, since Gemini
			// is the one provider wired through an eino-instrumented
			// ToolCallingChatModel rather than a hand-rolled HTTP client.
			if handler, flush, ok := tracing.Setup(); ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
			}

			roleCfg, err := config.BuildRoleConfig(loadedConfig.Provider)
			if err != nil {
				return fmt.Errorf("scene: %w", err)
			}

			registry := provider.NewRegistry()
			registry.RegisterBuiltins()
			router := provider.NewRouter(registry, roleCfg, 0, 0)

			sess, err := session.Load(projectDir, sessionID, loadedConfig.Retriever.VocabSize)
			if err != nil {
				return fmt.Errorf("scene: failed to load session %q: %w", sessionID, err)
			}

			ctx = tracing.SetRequestTrace(ctx, sessionID)

			costTracker := provider.NewCostTracker(nil)

			p, err := pipeline.New(projectDir, router, sess, costTracker, loadedConfig.Context.Budgets)
			if err != nil {
				return fmt.Errorf("scene: failed to construct pipeline: %w", err)
			}

			trace, err := p.GenerateScene(ctx, pipeline.Request{
				UserIntention:  intention,
				Chapter:        chapter,
				Scene:          scene,
				POVCharacter:   pov,
				RequiredEvents: events,
				Mood:           mood,
				WordCount:      wordCount,
				EnableRevision: !noRevision,
				UseLLMCheck:    llmCheck,
			})
			if err != nil {
				return fmt.Errorf("scene: %w", err)
			}

			fmt.Fprintf(os.Stdout, "--- chapter %d scene %d ---\n\n", trace.Chapter, trace.Scene)
			fmt.Fprintln(os.Stdout, trace.FinalText)
			fmt.Fprintf(os.Stdout, "\n--- %d issue(s) found, revision made: %v, %d stage(s), %.2fs, $%.4f ---\n",
				trace.IssuesFound, trace.RevisionMade, len(trace.Stages),
				float64(trace.TotalDurationMS)/1000, trace.TotalCostUSD)
			if len(trace.Commit.ForeshadowingResolved) > 0 {
				fmt.Fprintf(os.Stdout, "resolved foreshadowing: %v\n", trace.Commit.ForeshadowingResolved)
			}
			if len(trace.Commit.ForeshadowingPlanted) > 0 {
				fmt.Fprintf(os.Stdout, "planted foreshadowing: %v\n", trace.Commit.ForeshadowingPlanted)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&intention, "intention", "i", "", "Natural-language intention for the scene (required)")
	cmd.Flags().IntVarP(&chapter, "chapter", "c", 0, "Chapter number (default: session's current chapter)")
	cmd.Flags().IntVarP(&scene, "scene", "s", 0, "Scene number within the chapter (default: session's current scene)")
	cmd.Flags().StringVar(&pov, "pov", "", "POV character (default: Director's choice)")
	cmd.Flags().StringVar(&mood, "mood", "", "Desired mood/tone for the scene")
	cmd.Flags().IntVar(&wordCount, "word-count", 0, "Target word count (default: 1000)")
	cmd.Flags().StringArrayVar(&events, "event", nil, "Required plot event the scene must cover (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "default", "Session ID to resume (creates one if absent)")
	cmd.Flags().BoolVar(&noRevision, "no-revision", false, "Skip the Editor revision pass even if the Checker flags issues")
	cmd.Flags().BoolVar(&llmCheck, "llm-check", false, "Use an LLM call for the Checker pass in addition to rule-based checks")

	return cmd
}
