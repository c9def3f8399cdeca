// Package commands defines all Cobra CLI commands for the docrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docrag",
		Short: "docrag: ask questions of your own documents",
		Long: `docrag ingests text, Markdown, HTML and PDF documents into a vector
index and answers questions grounded on the retrieved passages.

The index backend (flat, collection or qdrant), embedding provider and chat
model are selected through environment variables or a YAML config file
(~/.docrag/config.yaml). A .env file in the working directory is loaded
first; real environment variables always win.
See 'docrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			var paths []string
			if envFile != "" {
				paths = append(paths, envFile)
			}
			if err := config.LoadDotEnv(log, paths...); err != nil {
				return err
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// YAML may have set LOG_LEVEL / LOG_FORMAT.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docrag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env)")

	root.AddCommand(
		NewIngestCmd(),
		NewQueryCmd(),
		NewSearchCmd(),
		NewServeCmd(),
		NewCacheCmd(),
		NewVersionCmd(),
	)

	return root
}
