package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/policy"
)

const fullDocument = "../../../pkg/config/testdata/full.yaml"

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand("1.0.0", "abc", "today")

	for _, path := range [][]string{
		{"create"},
		{"validate"},
		{"serve"},
		{"history", "list"},
		{"history", "show"},
		{"history", "resource"},
		{"history", "delete"},
		{"templates", "push"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, "command %v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	create, _, err := root.Find([]string{"create"})
	require.NoError(t, err)
	for _, flag := range []string{"config", "overlay", "policy-dir", "history-db", "report-dir", "dry-run", "skip-validation", "strict", "max-attempts", "timeout"} {
		assert.NotNil(t, create.Flags().Lookup(flag), "create --%s", flag)
	}

	for _, flag := range []string{"settings", "verbose", "json"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "--%s", flag)
	}
}

func TestTelemetryConfig(t *testing.T) {
	s := &config.Settings{}
	s.Log.Level = "warn"
	s.Log.Format = "console"
	s.Telemetry.Tracing.Exporter = "otlp"
	s.Telemetry.Tracing.Endpoint = "collector:4317"

	cfg := telemetryConfig(s, false)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.False(t, cfg.Metrics.Enabled)

	verbose, jsonOutput = true, true
	defer func() { verbose, jsonOutput = false, false }()

	cfg = telemetryConfig(s, true)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func testPolicyEngine(t *testing.T) *policy.Engine {
	t.Helper()
	eng, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)
	return eng
}

func loadFull(t *testing.T) *config.Document {
	t.Helper()
	doc, err := config.Load(fullDocument)
	require.NoError(t, err)
	config.ApplyDefaults(doc)
	return doc
}

func TestValidateDocument(t *testing.T) {
	var out bytes.Buffer
	err := validateDocument(context.Background(), &out, loadFull(t), testPolicyEngine(t))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "inline-secret-values")
	assert.Contains(t, out.String(), "is valid")
}

func TestValidateDocumentBlockingPolicy(t *testing.T) {
	doc := loadFull(t)
	doc.AccessControl.Roles = append(doc.AccessControl.Roles, config.Role{Name: "Empty", Identifier: "empty"})

	var out bytes.Buffer
	err := validateDocument(context.Background(), &out, doc, testPolicyEngine(t))
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))

	var e *engine.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, engine.ErrCodePolicyViolation, e.Code)
	assert.Contains(t, out.String(), "role-permissions")
}

func TestValidateDocumentStructuralErrors(t *testing.T) {
	doc := loadFull(t)
	doc.Harness.AccountID = ""

	var out bytes.Buffer
	err := validateDocument(context.Background(), &out, doc, testPolicyEngine(t))
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
	assert.Contains(t, out.String(), "account_id")
}

func TestRenderRuns(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderRuns(&out, nil))
	assert.Contains(t, out.String(), "No runs recorded")

	done := time.Date(2025, 10, 17, 12, 0, 5, 0, time.UTC)
	out.Reset()
	require.NoError(t, renderRuns(&out, []*engine.Run{{
		ID:          "run-1",
		ProjectID:   "payments_api",
		Status:      engine.RunStatusPartial,
		StartedAt:   done.Add(-5 * time.Second),
		CompletedAt: &done,
		Summary:     engine.Summary{Total: 3, Created: 1, Existing: 1, Failed: 1},
	}}))
	assert.Contains(t, out.String(), "run-1")
	assert.Contains(t, out.String(), "partial")
	assert.Contains(t, out.String(), "5s")
}

func TestLogFailureLevels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
		msg   string
	}{
		{"cancelled run", engine.NewCancelledError("run cancelled", context.Canceled), "warn", "Command cancelled"},
		{"wrapped cancel", fmt.Errorf("create: %w", context.Canceled), "warn", "Command cancelled"},
		{"failure", errors.New("run r1 finished with 2 failed resource(s)"), "error", "Command execution failed"},
		{"fatal setup", engine.NewFatalSetupError("project failed", nil), "error", "Command execution failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			LogFailure(zerolog.New(&buf), tt.err)

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.msg, entry["message"])
		})
	}
}
