package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/harnessctl/pkg/engine"
)

var (
	// Global flags
	settingsPath string
	verbose      bool
	jsonOutput   bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, v, commit, buildDate string) error {
	buildVersion = v
	rootCmd := newRootCommand(v, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// LogFailure logs the error a command returned. Cancellation is logged as a
// warning, anything else as an error.
func LogFailure(logger zerolog.Logger, err error) {
	if engine.IsCancelled(err) {
		logger.Warn().Err(err).Msg("Command cancelled")
		return
	}
	logger.Error().Err(err).Msg("Command execution failed")
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "harnessctl",
		Short: "Provision Harness projects from a YAML document",
		Long: `harnessctl creates a Harness project and everything that lives in it from
one YAML document: connectors, secrets, roles, resource groups, service
accounts, user groups, environments, infrastructures, services and
pipelines.

Resources that already exist are left alone, so a document can be applied
again after a partial failure.

It can also publish org-level pipeline templates, receive repository
webhooks that trigger provisioning through Jenkins, and keep a history of
runs in a local SQLite database.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "settings file (default ./harnessctl.yaml or ~/.harnessctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "write logs as JSON")

	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newTemplatesCommand())

	return rootCmd
}
