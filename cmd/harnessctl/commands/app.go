package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/stores"
	"github.com/openfroyo/harnessctl/pkg/telemetry"
)

// historyDisabled turns off the history store when passed as --history-db.
const historyDisabled = "none"

// app is what every command needs once settings are loaded.
type app struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
}

// newApp loads settings and builds telemetry. server selects the
// configuration of the long-running webhook receiver.
func newApp(server bool) (*app, error) {
	v, err := config.NewSettingsViper()
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(v, settingsPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(settings, server))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &app{
		settings: settings,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("cli"),
	}, nil
}

func telemetryConfig(s *config.Settings, server bool) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if server {
		cfg = telemetry.ServerConfig()
	}
	cfg.ServiceVersion = buildVersion

	cfg.Logging.Level = s.Log.Level
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if s.Log.Format != "" && !server {
		cfg.Logging.Format = s.Log.Format
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}

	tr := s.Telemetry.Tracing
	cfg.Tracing.Exporter = tr.Exporter
	cfg.Tracing.Enabled = tr.Exporter != "" && tr.Exporter != "none"
	cfg.Tracing.Endpoint = tr.Endpoint
	cfg.Tracing.Insecure = tr.Insecure
	cfg.Tracing.SamplingRate = tr.SamplingRate

	// The webhook server exposes /metrics itself; the CLI only keeps a
	// registry when a standalone endpoint is configured.
	cfg.Metrics.Enabled = server || s.Telemetry.Metrics.Listen != ""
	if s.Telemetry.Metrics.Listen != "" {
		cfg.Metrics.ListenAddress = s.Telemetry.Metrics.Listen
	}
	return cfg
}

// close flushes spans.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("telemetry shutdown failed")
	}
}

// startMetrics serves metrics when a standalone endpoint is configured.
func (a *app) startMetrics(ctx context.Context) error {
	if a.settings.Telemetry.Metrics.Listen == "" {
		return nil
	}
	return a.tel.Metrics.StartMetricsServer(ctx, a.logger)
}

// loadDocument reads the document at path and applies credential
// overrides from settings and the environment. Defaults are not applied so
// overlays see the document as written.
func (a *app) loadDocument(path string) (*config.Document, error) {
	if path == "" {
		return nil, engine.NewValidationError("--config is required", nil)
	}
	doc, err := config.Load(path)
	if err != nil {
		return nil, engine.NewValidationError("failed to load configuration", err)
	}
	doc.ApplyOverrides(a.settings.Harness.APIKey, a.settings.Harness.AccountID)
	return doc, nil
}

// prepareDocument loads the document, runs the overlay when one is given
// and applies defaults.
func (a *app) prepareDocument(ctx context.Context, path, overlay string) (*config.Document, error) {
	doc, err := a.loadDocument(path)
	if err != nil {
		return nil, err
	}
	if overlay != "" {
		oe := config.NewOverlayEvaluator(0, a.logger.Zerolog())
		doc, err = oe.ApplyFile(ctx, overlay, doc)
		if err != nil {
			return nil, engine.NewValidationError("overlay failed", err)
		}
	}
	config.ApplyDefaults(doc)
	return doc, nil
}

// openHistory opens the history store. It returns nil when history is
// disabled.
func (a *app) openHistory(ctx context.Context, flagPath string) (*stores.SQLiteStore, error) {
	path := a.settings.History.DB
	if flagPath != "" {
		path = flagPath
	}
	if path == "" || path == historyDisabled {
		return nil, nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}
	a.logger.DebugEvent().Str("path", path).Msg("history store opened")
	return store, nil
}

func addHistoryFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "history-db", "", `history database path (default from settings, "none" disables)`)
}
