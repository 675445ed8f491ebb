package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/harness"
)

func newTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage org-level pipeline templates",
	}

	cmd.AddCommand(newTemplatesPushCommand())

	return cmd
}

func newTemplatesPushCommand() *cobra.Command {
	var (
		configPath string
		version    string
	)

	cmd := &cobra.Command{
		Use:   "push TEMPLATE.yaml...",
		Short: "Publish pipeline templates at org scope",
		Long: `Publish pipeline YAML files as org-level pipeline templates.

Project identifiers are stripped so the template can be used by every
project in the organization. A template version that already exists is
updated in place.

Only the harness section of the document is used, for the account,
organization and API key.`,
		Example: `  # Publish both deployment templates with a timestamp version
  harnessctl templates push --config harness-config.yaml \
    templates/nonprod_deployment_pipeline.yaml templates/prod_deployment_pipeline.yaml

  # Publish with an explicit version label
  harnessctl templates push --config harness-config.yaml --version v2 pipeline.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := a.loadDocument(configPath)
			if err != nil {
				return err
			}
			config.ApplyDefaults(doc)

			if version == "" {
				version = fmt.Sprintf("v%d", time.Now().Unix())
			}
			a.logger.InfoEvent().Str("version", version).Int("templates", len(args)).Msg("Publishing templates")

			client, err := harness.NewClient(harness.ClientConfig{
				BaseURL:     doc.Harness.BaseURL,
				AccountID:   doc.Harness.AccountID,
				OrgID:       doc.Harness.OrgID,
				APIKey:      doc.Harness.APIKey,
				MaxAttempts: a.settings.Client.MaxAttempts,
				Timeout:     a.settings.Client.Timeout,
				BackoffUnit: a.settings.Client.BackoffUnit,
			}, a.tel)
			if err != nil {
				return err
			}
			publisher := harness.NewPublisher(client, a.tel)

			var results []engine.OperationResult
			for _, path := range args {
				if ctx.Err() != nil {
					return engine.NewCancelledError("template push cancelled", ctx.Err())
				}
				t, err := harness.LoadTemplate(path, version)
				if err != nil {
					results = append(results, engine.Failed(engine.ResourceTemplate, path, path, err))
					continue
				}
				results = append(results, publisher.Push(ctx, t))
			}

			rows := [][]string{{"TEMPLATE", "IDENTIFIER", "VERSION", "STATUS", "ERROR"}}
			for _, r := range results {
				rows = append(rows, []string{r.Name, r.Identifier, version, string(r.Status), r.Error})
			}
			if err := renderTable(cmd.OutOrStdout(), rows); err != nil {
				return err
			}

			if failed := engine.Summarize(results).Failed; failed > 0 {
				return fmt.Errorf("%d of %d template(s) failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "document holding the harness credentials")
	cmd.Flags().StringVar(&version, "version", "", "template version label (default v<unix time>)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
