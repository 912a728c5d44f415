// Package commands defines all Cobra CLI commands for the loom binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/loomforge/loom/internal/audit"
	"github.com/loomforge/loom/internal/config"
	"github.com/loomforge/loom/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// projectDir holds the --project flag value: the project directory holding
// bible.md, memory/, chapters/, and config.yaml.
var projectDir string

// loadedConfig and loadedConfigPath are populated by the root command's
// PersistentPreRunE and consumed by every subcommand.
var loadedConfig config.Config
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "loom",
		Short: "loom — a local-first long-form narrative generation engine",
		Long: `loom coordinates a swarm of specialized agents (Director, Writer, Checker,
Editor, Committer) that turn a short scene intention into polished prose
while keeping a persistent story world — a Bible, character cards, facts,
and foreshadowing — consistent across chapters.

Model provider is selected via config.yaml (see --config) with environment
variables always taking precedence over YAML values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfig = cfg
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.loom/config.yaml)")
	root.PersistentFlags().StringVar(&projectDir, "project", ".", "Project directory (bible.md, memory/, chapters/)")

	root.AddCommand(
		NewSceneCmd(),
		NewDiagnoseCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
