package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/harnessctl/pkg/webhook"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the repository webhook receiver",
		Long: `Run an HTTP server that turns repository-created webhooks into Jenkins
builds provisioning the matching Harness project.

Endpoints:
  GET  /health              Health check
  GET  /metrics             Prometheus metrics
  POST /webhook/github      GitHub repository events
  POST /webhook/gitlab      GitLab project create hooks
  POST /webhook/manual      {"project_name": "...", "description": "..."}

Secrets and Jenkins credentials come from the webhook section of the
settings file or from GITHUB_WEBHOOK_SECRET, GITLAB_WEBHOOK_TOKEN,
JENKINS_URL, JENKINS_USER, JENKINS_TOKEN and JENKINS_JOB_NAME.`,
		Example: `  # Listen on the default :5000
  harnessctl serve

  # Listen elsewhere with a settings file
  harnessctl serve --listen :8088 --settings /etc/harnessctl.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := webhook.ConfigFromSettings(a.settings.Webhook)
			if listen != "" {
				cfg.Listen = listen
			}

			srv, err := webhook.NewServer(cfg, nil, a.tel)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(a.tel.WithContext(ctx))
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from settings, :5000)")

	return cmd
}
