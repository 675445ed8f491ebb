package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/harness"
	"github.com/openfroyo/harnessctl/pkg/policy"
)

func newCreateCommand() *cobra.Command {
	var (
		configPath     string
		overlay        string
		policyDir      string
		historyDB      string
		reportDir      string
		dryRun         bool
		skipValidation bool
		strict         bool
		maxAttempts    int
		timeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the project and resources described by a document",
		Long: `Create a Harness project and its resources from a YAML document.

Phases run in order: validate, project, connectors, secrets, access
control, resources (environments, infrastructures, services), pipelines.
A validation or project failure stops the run. Any other failure is
recorded and the run continues. Existing resources are reported as
existing and left unchanged.

A JSON report is written to the report directory and the run is recorded
in the history database.`,
		Example: `  # Create everything in harness-config.yaml
  harnessctl create --config harness-config.yaml

  # Show what would be created
  harnessctl create --config harness-config.yaml --dry-run

  # Fan out environments with an overlay and fail on any failed resource
  harnessctl create --config base.yaml --overlay regions.star --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.startMetrics(ctx); err != nil {
				return err
			}

			a.logger.InfoEvent().
				Str("config", configPath).
				Bool("dry_run", dryRun).
				Bool("strict", strict).
				Msg("Creating Harness resources")

			doc, err := a.prepareDocument(ctx, configPath, overlay)
			if err != nil {
				return err
			}

			opts := []engine.OrchestratorOption{
				engine.WithValidator(config.NewValidator()),
			}

			policies, err := policy.NewEngine(a.logger.Zerolog())
			if err != nil {
				return engine.NewFatalSetupError("failed to start policy engine", err)
			}
			policies.SetOperation("create")
			if policyDir != "" {
				if err := policies.LoadPolicies(ctx, []string{policyDir}); err != nil {
					return engine.NewValidationError("failed to load policies", err)
				}
			}
			opts = append(opts, engine.WithChecks(policies))

			// Dry runs never call the API.
			var provisioner engine.Provisioner
			if !dryRun {
				clientCfg := harness.ClientConfig{
					MaxAttempts: a.settings.Client.MaxAttempts,
					Timeout:     a.settings.Client.Timeout,
					BackoffUnit: a.settings.Client.BackoffUnit,
				}
				if cmd.Flags().Changed("max-attempts") {
					clientCfg.MaxAttempts = maxAttempts
				}
				if cmd.Flags().Changed("timeout") {
					clientCfg.Timeout = timeout
				}
				p, err := harness.NewProvisionerForDocument(doc, clientCfg, a.tel)
				if err != nil {
					return err
				}
				provisioner = p
			}

			store, err := a.openHistory(ctx, historyDB)
			if err != nil {
				a.logger.WithError(err).Warn("history disabled")
			}
			if store != nil {
				defer store.Close()
				opts = append(opts, engine.WithRecorder(store))
			}

			if reportDir == "" {
				reportDir = a.settings.Report.Dir
			}

			orch := engine.NewOrchestrator(provisioner, a.tel, opts...)
			outcome, err := orch.Run(a.tel.WithContext(ctx), doc, engine.Options{
				DryRun:         dryRun,
				SkipValidation: skipValidation,
				ConfigPath:     configPath,
				ReportDir:      reportDir,
				Summary:        cmd.OutOrStdout(),
			})
			if err != nil {
				if engine.IsCancelled(err) && outcome != nil && outcome.Run.ReportPath != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", outcome.Run.ReportPath)
				}
				return err
			}

			if code := outcome.ExitCode(strict); code != 0 {
				counts := outcome.Results.Counts()
				return fmt.Errorf("run %s finished with %d failed resource(s)", outcome.Run.ID, counts.Failed)
			}
			if outcome.Run.ReportPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", outcome.Run.ReportPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "provisioning document (YAML)")
	cmd.Flags().StringVar(&overlay, "overlay", "", "Starlark overlay applied to the document")
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "directory of additional .rego policies")
	addHistoryFlag(cmd, &historyDB)
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "directory for the JSON report (default from settings)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would be created without calling the API")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "skip document validation and policy checks")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any resource failed")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", harness.DefaultMaxAttempts, "attempts per API request")
	cmd.Flags().DurationVar(&timeout, "timeout", harness.DefaultTimeout, "timeout per API attempt")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
