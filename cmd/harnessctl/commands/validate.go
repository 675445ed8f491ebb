package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		configPath string
		overlay    string
		policyDir  string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a provisioning document",
		Long: `Validate a provisioning document without calling the Harness API.

This command checks:
  - Field rules (identifiers, emails, environment and service types)
  - The CUE document schema
  - Pipelines setting both template_ref and yaml
  - Built-in and custom rego policies

With --watch the document and policy directory are watched and validation
re-runs on every change.`,
		Example: `  # Validate a document
  harnessctl validate --config harness-config.yaml

  # Add custom policies and keep validating while editing
  harnessctl validate --config harness-config.yaml --policy-dir ./policies --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			policies, err := policy.NewEngine(a.logger.Zerolog())
			if err != nil {
				return engine.NewFatalSetupError("failed to start policy engine", err)
			}
			policies.SetOperation("validate")

			var policyPaths []string
			if policyDir != "" {
				policyPaths = []string{policyDir}
				if err := policies.LoadPolicies(ctx, policyPaths); err != nil {
					return engine.NewValidationError("failed to load policies", err)
				}
			}

			run := func() error {
				doc, err := a.prepareDocument(ctx, configPath, overlay)
				if err != nil {
					return err
				}
				return validateDocument(ctx, cmd.OutOrStdout(), doc, policies)
			}

			if !watch {
				return run()
			}

			if err := run(); err != nil {
				a.logger.WithError(err).Warn("document is not valid")
			}

			loader := policy.NewLoader(a.logger.Zerolog())
			watched := []string{configPath}
			if overlay != "" {
				watched = append(watched, overlay)
			}
			err = loader.Watch(ctx, policyPaths, watched, func(reloaded []policy.Policy) error {
				if err := policies.ReplaceCustom(ctx, reloaded); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), pterm.DefaultSection.Sprint("Change detected, validating again"))
				if err := run(); err != nil {
					a.logger.WithError(err).Warn("document is not valid")
				}
				return nil
			})
			if err != nil {
				return err
			}

			a.logger.Info("Watching for changes, press Ctrl+C to stop")
			<-ctx.Done()
			return loader.StopWatching()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "provisioning document (YAML)")
	cmd.Flags().StringVar(&overlay, "overlay", "", "Starlark overlay applied before validation")
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "directory of additional .rego policies")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-validate when the document or policies change")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// validateDocument prints structural errors and policy violations. It
// returns an error when either blocks provisioning.
func validateDocument(ctx context.Context, w io.Writer, doc *config.Document, policies *policy.Engine) error {
	if err := config.NewValidator().Validate(doc); err != nil {
		var verrs config.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		rows := [][]string{{"PATH", "FIELD", "PROBLEM"}}
		for _, ve := range verrs {
			rows = append(rows, []string{ve.Path, ve.Field, ve.Message})
		}
		if err := renderTable(w, rows); err != nil {
			return err
		}
		return engine.NewValidationError(fmt.Sprintf("%d validation error(s)", len(verrs)), err)
	}

	result, err := policies.Evaluate(ctx, doc)
	if err != nil {
		return err
	}

	if len(result.Violations) > 0 {
		rows := [][]string{{"SEVERITY", "POLICY", "RESOURCE", "MESSAGE"}}
		for _, v := range result.Violations {
			rows = append(rows, []string{string(v.Severity), v.Policy, v.Resource, v.Message})
		}
		if err := renderTable(w, rows); err != nil {
			return err
		}
	}
	for _, e := range result.Errors {
		fmt.Fprintln(w, pterm.Warning.Sprint(e))
	}

	if !result.Allowed {
		return engine.NewValidationError(
			fmt.Sprintf("%d blocking policy violation(s)", len(result.Blocking())), nil,
		).WithCode(engine.ErrCodePolicyViolation)
	}

	fmt.Fprintln(w, pterm.Success.Sprintf("%s is valid (%d policies evaluated)", doc.Project.RepoName, len(result.EvaluatedPolicies)))
	return nil
}

func renderTable(w io.Writer, rows [][]string) error {
	out, err := pterm.DefaultTable.WithHasHeader(true).WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
