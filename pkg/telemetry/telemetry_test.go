package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "server config", mutate: func(c *Config) { *c = *ServerConfig() }},
		{name: "bad time format", mutate: func(c *Config) { c.Logging.TimeFormat = "kitchen" }, wantErr: "invalid log time format"},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "requires an endpoint",
		},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "metrics without path", mutate: func(c *Config) { c.Metrics.Path = "" }, wantErr: "metrics path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConsoleTimeFormats(t *testing.T) {
	t.Cleanup(func() { zerolog.TimeFieldFormat = time.RFC3339 })

	tests := []struct {
		format string
		prefix *regexp.Regexp
	}{
		{"rfc3339", regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)},
		{"unix", regexp.MustCompile(`^\d{10} `)},
		{"unixms", regexp.MustCompile(`^\d{13} `)},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(LoggingConfig{
				Level:      "info",
				Format:     "console",
				TimeFormat: tt.format,
				NoColor:    true,
			}, &buf)
			logger.Info("run started")

			line := buf.String()
			assert.Regexp(t, tt.prefix, line)
			assert.Contains(t, line, "run started")
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("client").
		WithRunID("r1").
		WithPhase("connectors").
		WithError(errors.New("boom")).
		Warn("retrying")

	out := buf.String()
	assert.Contains(t, out, `"component":"client"`)
	assert.Contains(t, out, `"run_id":"r1"`)
	assert.Contains(t, out, `"phase":"connectors"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	logger.Errorf("shown %d", 2)
	assert.True(t, strings.Contains(buf.String(), "shown 2"))
}

func TestFromContextFallback(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := NopLogger()
	ctx := l.WithContext(context.Background())
	assert.Same(t, l, FromContext(ctx))
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordAPIAttempt("POST", "5xx")
	m.RecordAPIRetry("POST")
	m.RecordAPICall("POST", 2, 150*time.Millisecond)
	m.RecordResourceResult("connector", "created")
	m.RecordRunStarted()
	m.RecordRunCompleted("succeeded", time.Second)
	m.RecordWebhookEvent("github", "accepted")
	m.RecordJenkinsTrigger("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `harnessctl_api_retries_total{method="POST"} 1`)
	assert.Contains(t, body, `harnessctl_resource_results_total{resource_type="connector",status="created"} 1`)
	assert.Contains(t, body, `harnessctl_webhook_events_total{outcome="accepted",source="github"} 1`)
	assert.Contains(t, body, "harnessctl_active_runs 0")
}

func TestMetricsDisabledIsSafe(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	m.RecordAPIAttempt("GET", "2xx")
	m.RecordRunCompleted("failed", time.Second)
	assert.Nil(t, m.Registry())

	var nilMetrics *Metrics
	nilMetrics.RecordResourceResult("secret", "failed")
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "noop")
	assert.Nil(t, op.Span)
	op.End(errors.New("ignored"))
}

func TestTracerDisabledSpans(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{}, "harnessctl", "test", "local")
	require.NoError(t, err)

	ctx, span := tracer.StartRunSpan(context.Background(), "run-1", "proj")
	defer span.End()
	_, child := tracer.StartRequestSpan(ctx, "GET", "/ng/api/projects/proj")
	child.End()

	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, tracer.Shutdown(context.Background()))
}
